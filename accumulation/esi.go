/*
esi.go - ESI pharmacy accumulator layout

FILE SHAPE (300 bytes per line):
  HD header, DT detail lines, TR trailer. ESI echoes our detail lines back
  in the response file with columns 131-135 filled in: "A" accepted or
  "R" rejected plus a three digit reject code.

REVERSALS:
  A reversal sets accumulator_action_code to "11" and both action fields
  to "-". Amounts are always written as magnitudes.
*/
package accumulation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/fixedwidth"
)

const (
	esiRecordHeader  = "HD"
	esiRecordDetail  = "DT"
	esiRecordTrailer = "TR"
	esiFileType      = "DQ"
	esiReceiverID    = "EXPRESS SCRIPTS"
	esiBatchNumber   = "0000001"
)

var esiHeaderLayout = fixedwidth.MustLayout(
	fixedwidth.Field{Name: "record_type", Start: 1, End: 3},
	fixedwidth.Field{Name: "file_type", Start: 3, End: 5},
	fixedwidth.Field{Name: "creation_date", Start: 5, End: 13},
	fixedwidth.Field{Name: "creation_time", Start: 13, End: 21},
	fixedwidth.Field{Name: "sender_id", Start: 21, End: 51},
	fixedwidth.Field{Name: "receiver_id", Start: 51, End: 81},
	fixedwidth.Field{Name: "batch_number", Start: 81, End: 88, Justify: fixedwidth.Right, Pad: '0'},
	fixedwidth.Field{Name: "environment", Start: 88, End: 89},
	fixedwidth.Field{Name: "filler", Start: 89, End: 301},
)

var esiDetailLayout = fixedwidth.MustLayout(
	fixedwidth.Field{Name: "record_type", Start: 1, End: 3},
	fixedwidth.Field{Name: "file_type", Start: 3, End: 5},
	fixedwidth.Field{Name: "transmission_date", Start: 5, End: 13},
	fixedwidth.Field{Name: "transmission_time", Start: 13, End: 21},
	fixedwidth.Field{Name: "transmission_id", Start: 21, End: 71},
	fixedwidth.Field{Name: "sender_id", Start: 71, End: 101},
	fixedwidth.Field{Name: "receiver_id", Start: 101, End: 131},
	fixedwidth.Field{Name: "response_status", Start: 131, End: 132},
	fixedwidth.Field{Name: "reject_code", Start: 132, End: 135},
	fixedwidth.Field{Name: "date_of_service", Start: 135, End: 143},
	fixedwidth.Field{Name: "cardholder_id", Start: 143, End: 163},
	fixedwidth.Field{Name: "group_id", Start: 163, End: 178},
	fixedwidth.Field{Name: "patient_first_name", Start: 178, End: 193, Truncate: true},
	fixedwidth.Field{Name: "patient_last_name", Start: 193, End: 213, Truncate: true},
	fixedwidth.Field{Name: "date_of_birth", Start: 213, End: 221},
	fixedwidth.Field{Name: "patient_gender", Start: 221, End: 222, Default: "0"},
	fixedwidth.Field{Name: "patient_relationship", Start: 222, End: 223, Default: "4"},
	fixedwidth.Field{Name: "accumulator_action_code", Start: 223, End: 225},
	fixedwidth.Field{Name: "benefit_type", Start: 225, End: 226},
	fixedwidth.Field{Name: "deductible_qualifier", Start: 226, End: 228},
	fixedwidth.Field{Name: "deductible_amount", Start: 228, End: 238, Justify: fixedwidth.Right, Pad: '0'},
	fixedwidth.Field{Name: "deductible_action", Start: 238, End: 239},
	fixedwidth.Field{Name: "oop_qualifier", Start: 239, End: 241},
	fixedwidth.Field{Name: "oop_amount", Start: 241, End: 251, Justify: fixedwidth.Right, Pad: '0'},
	fixedwidth.Field{Name: "oop_action", Start: 251, End: 252},
	fixedwidth.Field{Name: "reserved", Start: 252, End: 301},
)

var esiTrailerLayout = fixedwidth.MustLayout(
	fixedwidth.Field{Name: "record_type", Start: 1, End: 3},
	fixedwidth.Field{Name: "batch_number", Start: 3, End: 10, Justify: fixedwidth.Right, Pad: '0'},
	fixedwidth.Field{Name: "record_count", Start: 10, End: 20, Justify: fixedwidth.Right, Pad: '0'},
	fixedwidth.Field{Name: "filler", Start: 20, End: 301},
)

var esiRejectReasons = map[string]string{
	"001": "Cardholder ID not found",
	"002": "Patient date of birth mismatch",
	"004": "Patient name mismatch",
	"011": "Group ID not found",
	"027": "Date of service outside of eligibility",
	"050": "Duplicate transmission ID",
}

var esiGenders = map[string]string{"M": "1", "F": "2", "U": "0"}

var esiRelationships = map[string]string{
	"cardholder": "1",
	"spouse":     "2",
	"child":      "3",
	"other":      "4",
}

// ESI writes Express Scripts pharmacy accumulator files.
type ESI struct {
	base
}

func NewESI(payers eligibility.PayerRepository, opts Options) *ESI {
	return &ESI{base: newBase(payers, opts, esiHeaderLayout, esiDetailLayout, esiTrailerLayout)}
}

func (g *ESI) PayerName() PayerName { return PayerESI }

func (g *ESI) FileName(now time.Time) string {
	return fmt.Sprintf("WARP_RxAccum_%s.txt", now.UTC().Format("20060102_150405"))
}

func (g *ESI) GenerateHeader(now time.Time) (string, error) {
	return g.header.Encode(map[string]string{
		"record_type":   esiRecordHeader,
		"file_type":     esiFileType,
		"creation_date": date(now),
		"creation_time": now.UTC().Format("150405") + "00",
		"sender_id":     g.opts.SenderID,
		"receiver_id":   esiReceiverID,
		"batch_number":  esiBatchNumber,
		"environment":   g.opts.Environment,
	})
}

func (g *ESI) GenerateDetail(ctx context.Context, req DetailRequest) (DetailRecordWrapper, error) {
	if err := checkMagnitudes(req); err != nil {
		return DetailRecordWrapper{}, err
	}
	plan := req.MemberHealthPlan
	if _, err := g.resolvePayer(ctx, plan); err != nil {
		return DetailRecordWrapper{}, err
	}
	ehp := plan.EmployerHealthPlan
	if !ehp.RxIntegrated && strings.TrimSpace(ehp.GroupID) == "" {
		return DetailRecordWrapper{}, &InvalidGroupIDError{EmployerHealthPlanID: ehp.ID}
	}

	action, sign := "00", "+"
	if req.Direction == Reversal {
		action, sign = "11", "-"
	}
	transmissionID := TransmissionID(req.Now, req.CostBreakdown.ID)

	line, err := g.detail.Encode(map[string]string{
		"record_type":             esiRecordDetail,
		"file_type":               esiFileType,
		"transmission_date":       date(req.Now),
		"transmission_time":       req.Now.UTC().Format("150405") + "00",
		"transmission_id":         transmissionID,
		"sender_id":               g.opts.SenderID,
		"receiver_id":             esiReceiverID,
		"date_of_service":         date(req.ServiceStartDate),
		"cardholder_id":           plan.SubscriberInsuranceID,
		"group_id":                ehp.GroupID,
		"patient_first_name":      upper(plan.PatientFirstName),
		"patient_last_name":       upper(plan.PatientLastName),
		"date_of_birth":           date(plan.PatientDateOfBirth),
		"patient_gender":          esiGenders[upper(plan.PatientSex)],
		"patient_relationship":    esiRelationships[strings.ToLower(plan.PatientRelationship)],
		"accumulator_action_code": action,
		"benefit_type":            "A",
		"deductible_qualifier":    "04",
		"deductible_amount":       cents(req.Deductible),
		"deductible_action":       sign,
		"oop_qualifier":           "05",
		"oop_amount":              cents(req.OOPApplied),
		"oop_action":              sign,
	})
	if err != nil {
		return DetailRecordWrapper{}, err
	}

	return DetailRecordWrapper{
		Line:            line,
		UniqueID:        transmissionID,
		TransactionID:   transmissionID,
		CardholderID:    plan.SubscriberInsuranceID,
		CostBreakdownID: req.CostBreakdown.ID,
		Deductible:      req.Deductible,
		OOPApplied:      req.OOPApplied,
		HRAApplied:      req.HRAApplied,
		Direction:       req.Direction,
	}, nil
}

func (g *ESI) GenerateTrailer(recordCount int, _ Totals, _ time.Time) (string, error) {
	return g.trailer.Encode(map[string]string{
		"record_type":  esiRecordTrailer,
		"batch_number": esiBatchNumber,
		"record_count": fmt.Sprint(recordCount),
	})
}

func (g *ESI) IsDetail(line string) bool  { return strings.HasPrefix(line, esiRecordDetail) }
func (g *ESI) IsTrailer(line string) bool { return strings.HasPrefix(line, esiRecordTrailer) }

func (g *ESI) TrailerRecordCount(line string) (int, error) {
	rec, err := g.trailer.Decode(line)
	if err != nil {
		return 0, err
	}
	return parseCount(rec["record_count"])
}

// DetailMetadata reads the response columns of a returned detail line.
func (g *ESI) DetailMetadata(line string) (DetailMetadata, error) {
	rec, err := g.detail.Decode(line)
	if err != nil {
		return DetailMetadata{}, err
	}
	status := rec.Get("response_status")
	meta := DetailMetadata{
		IsResponse: status != "",
		MemberID:   rec.Get("cardholder_id"),
		UniqueID:   rec.Get("transmission_id"),
	}
	meta.ShouldUpdate = meta.IsResponse
	if status == "R" {
		meta.IsRejection = true
		meta.ResponseCode = rec.Get("reject_code")
		meta.ResponseReason = rejectReason(esiRejectReasons, meta.ResponseCode)
	}
	return meta, nil
}

func rejectReason(reasons map[string]string, code string) string {
	if reason, ok := reasons[code]; ok {
		return reason
	}
	return code
}
