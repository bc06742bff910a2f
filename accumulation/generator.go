/*
generator.go - Shared accumulator file plumbing

PURPOSE:
  Each payer has its own column layouts but the file shape is the same:
  header, details, trailer, newline terminated. Payer generators embed
  base for the pieces that don't vary: payer validation, unique ids,
  record counting and file assembly.

UNIQUE IDS:
  "{yyyymmddhhmmss}{microseconds}#cb_{cost breakdown id}"
  The suffix is what lets a response line find its cost breakdown even
  when the mapping's unique id was lost.
*/
package accumulation

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/fixedwidth"
)

// =============================================================================
// GENERATOR
// =============================================================================

// DetailRequest is everything a detail line is built from. Amounts are
// magnitudes; Direction carries the sign.
type DetailRequest struct {
	RecordID         int64
	RecordType       RecordType
	CostBreakdown    costbreakdown.CostBreakdown
	ServiceStartDate time.Time
	MemberHealthPlan eligibility.MemberHealthPlan
	Deductible       int64
	OOPApplied       int64
	HRAApplied       int64
	Direction        Direction
	Now              time.Time
}

// Totals are the signed sums of the detail lines in a file.
type Totals struct {
	Deductible int64
	OOPApplied int64
}

// Generator encodes and decodes one payer's accumulator files.
type Generator interface {
	PayerName() PayerName
	FileName(now time.Time) string
	GenerateHeader(now time.Time) (string, error)
	GenerateDetail(ctx context.Context, req DetailRequest) (DetailRecordWrapper, error)
	GenerateTrailer(recordCount int, totals Totals, now time.Time) (string, error)
	DetailMetadata(line string) (DetailMetadata, error)
	IsDetail(line string) bool
	IsTrailer(line string) bool
	TrailerRecordCount(line string) (int, error)
}

// Options are shared by every payer generator.
type Options struct {
	SenderID string
	// Environment is "P" for production files, "T" for test files.
	Environment string
}

// NewGenerator returns the generator registered for payer.
func NewGenerator(payer PayerName, payers eligibility.PayerRepository, opts Options) (Generator, error) {
	switch payer {
	case PayerESI:
		return NewESI(payers, opts), nil
	case PayerPremera:
		return NewPremera(payers, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayer, payer)
	}
}

// =============================================================================
// BASE
// =============================================================================

type base struct {
	payers  eligibility.PayerRepository
	opts    Options
	header  fixedwidth.Layout
	detail  fixedwidth.Layout
	trailer fixedwidth.Layout
}

func newBase(payers eligibility.PayerRepository, opts Options, header, detail, trailer fixedwidth.Layout) base {
	if opts.Environment == "" {
		opts.Environment = "T"
	}
	return base{payers: payers, opts: opts, header: header, detail: detail, trailer: trailer}
}

// resolvePayer checks that the employer plan points at a known payer.
func (b base) resolvePayer(ctx context.Context, plan eligibility.MemberHealthPlan) (eligibility.Payer, error) {
	ehp := plan.EmployerHealthPlan
	if ehp.BenefitsPayerID == nil {
		return eligibility.Payer{}, &InvalidPayerError{EmployerHealthPlanID: ehp.ID, Reason: "no benefits payer id"}
	}
	payer, err := b.payers.GetPayer(ctx, *ehp.BenefitsPayerID)
	if err != nil {
		return eligibility.Payer{}, &InvalidPayerError{EmployerHealthPlanID: ehp.ID, Reason: err.Error()}
	}
	return payer, nil
}

func checkMagnitudes(req DetailRequest) error {
	if req.Deductible < 0 || req.OOPApplied < 0 || req.HRAApplied < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// =============================================================================
// UNIQUE IDS
// =============================================================================

const cbSeparator = "#cb_"

// TransmissionID builds the correlation id for a detail line.
func TransmissionID(now time.Time, costBreakdownID int64) string {
	return fmt.Sprintf("%s%06d%s%d", now.UTC().Format("20060102150405"), now.Nanosecond()/1000, cbSeparator, costBreakdownID)
}

// CostBreakdownIDFromUniqueID extracts the cost breakdown id from the
// "#cb_{id}" suffix.
func CostBreakdownIDFromUniqueID(uniqueID string) (int64, error) {
	i := strings.LastIndex(uniqueID, cbSeparator)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUniqueID, uniqueID)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(uniqueID[i+len(cbSeparator):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUniqueID, uniqueID)
	}
	return id, nil
}

// =============================================================================
// FILES
// =============================================================================

// GenerateFile writes header, details and trailer, one per line.
func GenerateFile(gen Generator, details []DetailRecordWrapper, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	header, err := gen.GenerateHeader(now)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	buf.WriteString(header)
	buf.WriteByte('\n')

	var totals Totals
	for _, d := range details {
		buf.WriteString(d.Line)
		buf.WriteByte('\n')
		sign := int64(1)
		if d.Direction == Reversal {
			sign = -1
		}
		totals.Deductible += sign * d.Deductible
		totals.OOPApplied += sign * d.OOPApplied
	}

	trailer, err := gen.GenerateTrailer(len(details), totals, now)
	if err != nil {
		return nil, fmt.Errorf("trailer: %w", err)
	}
	buf.WriteString(trailer)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RecordCountFromBuffer counts the detail lines in a generated file and
// checks the count against the trailer when one is present.
func RecordCountFromBuffer(gen Generator, data []byte) (int, error) {
	count := 0
	trailerCount := -1
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case gen.IsDetail(line):
			count++
		case gen.IsTrailer(line):
			n, err := gen.TrailerRecordCount(line)
			if err != nil {
				return 0, err
			}
			trailerCount = n
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if trailerCount >= 0 && trailerCount != count {
		return count, fmt.Errorf("%w: trailer says %d, found %d", ErrRecordCountMismatch, trailerCount, count)
	}
	return count, nil
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("20060102")
}

func cents(v int64) string { return strconv.FormatInt(v, 10) }

// signedCents renders a sign followed by zero padded digits, e.g. "-0000012345".
func signedCents(v int64, width int, d Direction) string {
	sign := "+"
	if d == Reversal {
		sign = "-"
	}
	return sign + fmt.Sprintf("%0*d", width-1, v)
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("record count %q: %w", s, err)
	}
	return n, nil
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
