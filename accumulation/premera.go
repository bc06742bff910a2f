/*
premera.go - Premera medical accumulator layout

FILE SHAPE (200 bytes per line):
  H header, D detail lines, T trailer. Amounts are signed, 11 characters:
  "+0000012345". The trailer carries the record count and the signed
  totals of the deductible and OOP columns. Premera returns our detail
  lines with a response status ("A"/"R") and a four character code.
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
	premeraRecordHeader  = "H"
	premeraRecordDetail  = "D"
	premeraRecordTrailer = "T"
	premeraReceiverID    = "PREMERA"
	premeraAmountWidth   = 11
)

var premeraHeaderLayout = fixedwidth.MustLayout(
	fixedwidth.Field{Name: "record_type", Start: 1, End: 2},
	fixedwidth.Field{Name: "creation_date", Start: 2, End: 10},
	fixedwidth.Field{Name: "sender_id", Start: 10, End: 30},
	fixedwidth.Field{Name: "receiver_id", Start: 30, End: 50},
	fixedwidth.Field{Name: "environment", Start: 50, End: 51},
	fixedwidth.Field{Name: "filler", Start: 51, End: 201},
)

var premeraDetailLayout = fixedwidth.MustLayout(
	fixedwidth.Field{Name: "record_type", Start: 1, End: 2},
	fixedwidth.Field{Name: "unique_id", Start: 2, End: 52},
	fixedwidth.Field{Name: "member_id", Start: 52, End: 72},
	fixedwidth.Field{Name: "patient_first_name", Start: 72, End: 92, Truncate: true},
	fixedwidth.Field{Name: "patient_last_name", Start: 92, End: 117, Truncate: true},
	fixedwidth.Field{Name: "date_of_birth", Start: 117, End: 125},
	fixedwidth.Field{Name: "date_of_service", Start: 125, End: 133},
	fixedwidth.Field{Name: "claim_type", Start: 133, End: 134},
	fixedwidth.Field{Name: "deductible_amount", Start: 134, End: 145},
	fixedwidth.Field{Name: "oop_amount", Start: 145, End: 156},
	fixedwidth.Field{Name: "hra_amount", Start: 156, End: 167},
	fixedwidth.Field{Name: "response_status", Start: 167, End: 168},
	fixedwidth.Field{Name: "response_code", Start: 168, End: 172},
	fixedwidth.Field{Name: "filler", Start: 172, End: 201},
)

var premeraTrailerLayout = fixedwidth.MustLayout(
	fixedwidth.Field{Name: "record_type", Start: 1, End: 2},
	fixedwidth.Field{Name: "record_count", Start: 2, End: 11, Justify: fixedwidth.Right, Pad: '0'},
	fixedwidth.Field{Name: "total_deductible", Start: 11, End: 22},
	fixedwidth.Field{Name: "total_oop", Start: 22, End: 33},
	fixedwidth.Field{Name: "filler", Start: 33, End: 201},
)

var premeraRejectReasons = map[string]string{
	"E001": "Member not found",
	"E002": "Member not eligible on date of service",
	"E010": "Invalid accumulator amount",
	"E020": "Duplicate record",
}

// Premera writes Premera medical accumulator files.
type Premera struct {
	base
}

func NewPremera(payers eligibility.PayerRepository, opts Options) *Premera {
	return &Premera{base: newBase(payers, opts, premeraHeaderLayout, premeraDetailLayout, premeraTrailerLayout)}
}

func (g *Premera) PayerName() PayerName { return PayerPremera }

func (g *Premera) FileName(now time.Time) string {
	return fmt.Sprintf("Warp_Premera_Accumulator_File_%s", now.UTC().Format("20060102_150405"))
}

func (g *Premera) GenerateHeader(now time.Time) (string, error) {
	return g.header.Encode(map[string]string{
		"record_type":   premeraRecordHeader,
		"creation_date": date(now),
		"sender_id":     g.opts.SenderID,
		"receiver_id":   premeraReceiverID,
		"environment":   g.opts.Environment,
	})
}

func (g *Premera) GenerateDetail(ctx context.Context, req DetailRequest) (DetailRecordWrapper, error) {
	if err := checkMagnitudes(req); err != nil {
		return DetailRecordWrapper{}, err
	}
	plan := req.MemberHealthPlan
	if _, err := g.resolvePayer(ctx, plan); err != nil {
		return DetailRecordWrapper{}, err
	}

	claimType := "M"
	if req.RecordType == RecordPharmacy {
		claimType = "P"
	}
	uniqueID := TransmissionID(req.Now, req.CostBreakdown.ID)

	line, err := g.detail.Encode(map[string]string{
		"record_type":        premeraRecordDetail,
		"unique_id":          uniqueID,
		"member_id":          plan.SubscriberInsuranceID,
		"patient_first_name": upper(plan.PatientFirstName),
		"patient_last_name":  upper(plan.PatientLastName),
		"date_of_birth":      date(plan.PatientDateOfBirth),
		"date_of_service":    date(req.ServiceStartDate),
		"claim_type":         claimType,
		"deductible_amount":  signedCents(req.Deductible, premeraAmountWidth, req.Direction),
		"oop_amount":         signedCents(req.OOPApplied, premeraAmountWidth, req.Direction),
		"hra_amount":         signedCents(req.HRAApplied, premeraAmountWidth, req.Direction),
	})
	if err != nil {
		return DetailRecordWrapper{}, err
	}

	return DetailRecordWrapper{
		Line:            line,
		UniqueID:        uniqueID,
		TransactionID:   uniqueID,
		CardholderID:    plan.SubscriberInsuranceID,
		CostBreakdownID: req.CostBreakdown.ID,
		Deductible:      req.Deductible,
		OOPApplied:      req.OOPApplied,
		HRAApplied:      req.HRAApplied,
		Direction:       req.Direction,
	}, nil
}

func (g *Premera) GenerateTrailer(recordCount int, totals Totals, _ time.Time) (string, error) {
	return g.trailer.Encode(map[string]string{
		"record_type":      premeraRecordTrailer,
		"record_count":     fmt.Sprint(recordCount),
		"total_deductible": signedTotal(totals.Deductible),
		"total_oop":        signedTotal(totals.OOPApplied),
	})
}

func (g *Premera) IsDetail(line string) bool  { return strings.HasPrefix(line, premeraRecordDetail) }
func (g *Premera) IsTrailer(line string) bool { return strings.HasPrefix(line, premeraRecordTrailer) }

func (g *Premera) TrailerRecordCount(line string) (int, error) {
	rec, err := g.trailer.Decode(line)
	if err != nil {
		return 0, err
	}
	return parseCount(rec["record_count"])
}

func (g *Premera) DetailMetadata(line string) (DetailMetadata, error) {
	rec, err := g.detail.Decode(line)
	if err != nil {
		return DetailMetadata{}, err
	}
	status := rec.Get("response_status")
	meta := DetailMetadata{
		IsResponse:   status != "",
		MemberID:     rec.Get("member_id"),
		UniqueID:     rec.Get("unique_id"),
		ResponseCode: rec.Get("response_code"),
	}
	meta.ShouldUpdate = meta.IsResponse
	if status == "R" {
		meta.IsRejection = true
		meta.ResponseReason = rejectReason(premeraRejectReasons, meta.ResponseCode)
	}
	return meta, nil
}

func signedTotal(v int64) string {
	if v < 0 {
		return signedCents(-v, premeraAmountWidth, Reversal)
	}
	return signedCents(v, premeraAmountWidth, Forward)
}
