/*
builder.go - Nightly accumulator file generation

PURPOSE:
  Turns the WAITING mappings of one payer into a file. Each mapping is
  resolved to its cost breakdown, service date and member plan, encoded
  as a detail line, and marked SUBMITTED once the whole file is built.

FAILURES:
  A mapping that can't be encoded (bad payer, missing group id, ...) is
  logged and left WAITING so the next run retries it after the data is
  fixed. It never blocks the rest of the file.

SEE ALSO:
  - response.go: the other half of the round trip
*/
package accumulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// STORAGE
// =============================================================================

// MappingStore persists accumulation treatment mappings.
type MappingStore interface {
	CreateMapping(ctx context.Context, m *TreatmentMapping) error
	UpdateMapping(ctx context.Context, m TreatmentMapping) error
	GetMapping(ctx context.Context, id int64) (TreatmentMapping, error)
	WaitingMappings(ctx context.Context, payerID int64) ([]TreatmentMapping, error)
	// MappingByUniqueID and MappingByCostBreakdownID return ErrMappingNotFound
	// when nothing matches.
	MappingByUniqueID(ctx context.Context, uniqueID string) (TreatmentMapping, error)
	MappingByCostBreakdownID(ctx context.Context, costBreakdownID int64) (TreatmentMapping, error)
	// MappingsForProcedure returns the procedure's mappings oldest first.
	MappingsForProcedure(ctx context.Context, procedureUUID uuid.UUID) ([]TreatmentMapping, error)
}

// SubjectStore loads the procedure or request a mapping reports on.
type SubjectStore interface {
	GetTreatmentProcedure(ctx context.Context, id uuid.UUID) (wallet.TreatmentProcedure, error)
	GetReimbursementRequest(ctx context.Context, id int64) (wallet.ReimbursementRequest, error)
}

type PayerDirectory interface {
	eligibility.PayerRepository
	PayerByCode(ctx context.Context, code string) (eligibility.Payer, error)
}

type CostBreakdownReader interface {
	GetCostBreakdown(ctx context.Context, id int64) (costbreakdown.CostBreakdown, error)
}

// =============================================================================
// BUILDER
// =============================================================================

type BuilderDeps struct {
	Mappings       MappingStore
	Subjects       SubjectStore
	CostBreakdowns CostBreakdownReader
	Plans          eligibility.HealthPlanRepository
	Payers         PayerDirectory
}

type Builder struct {
	deps BuilderDeps
	opts Options
	log  zerolog.Logger
}

func NewBuilder(deps BuilderDeps, opts Options, log zerolog.Logger) *Builder {
	return &Builder{deps: deps, opts: opts, log: log.With().Str("component", "accumulation").Logger()}
}

// File is a generated accumulator file.
type File struct {
	Name     string
	Payer    PayerName
	Content  []byte
	Details  []DetailRecordWrapper
	Skipped  []int64
	Mappings []TreatmentMapping
}

func (b *Builder) generator(payer PayerName) (Generator, error) {
	return NewGenerator(payer, b.deps.Payers, b.opts)
}

// BuildFile writes one file for payer from its WAITING mappings.
func (b *Builder) BuildFile(ctx context.Context, payer PayerName, now time.Time) (File, error) {
	gen, err := b.generator(payer)
	if err != nil {
		return File{}, err
	}
	p, err := b.deps.Payers.PayerByCode(ctx, string(payer))
	if err != nil {
		return File{}, fmt.Errorf("resolve payer %s: %w", payer, err)
	}
	waiting, err := b.deps.Mappings.WaitingMappings(ctx, p.ID)
	if err != nil {
		return File{}, fmt.Errorf("load waiting mappings: %w", err)
	}

	file := File{Name: gen.FileName(now), Payer: payer}
	for i, m := range waiting {
		// Microsecond offsets keep unique ids distinct within one run.
		detail, err := b.detail(ctx, gen, m, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			b.log.Error().Err(err).
				Int64("mapping_id", m.ID).
				Int64("cost_breakdown_id", m.CostBreakdownID).
				Msg("skipping accumulation mapping")
			file.Skipped = append(file.Skipped, m.ID)
			continue
		}
		m.AccumulationUniqueID = detail.UniqueID
		m.AccumulationTransactionID = detail.TransactionID
		file.Details = append(file.Details, detail)
		file.Mappings = append(file.Mappings, m)
	}

	file.Content, err = GenerateFile(gen, file.Details, now)
	if err != nil {
		return File{}, err
	}

	for i := range file.Mappings {
		file.Mappings[i].Status = StatusSubmitted
		file.Mappings[i].FileName = file.Name
		if err := b.deps.Mappings.UpdateMapping(ctx, file.Mappings[i]); err != nil {
			return File{}, fmt.Errorf("mark mapping %d submitted: %w", file.Mappings[i].ID, err)
		}
	}

	b.log.Info().
		Str("payer", string(payer)).
		Str("file_name", file.Name).
		Int("records", len(file.Details)).
		Int("skipped", len(file.Skipped)).
		Msg("accumulation file generated")
	return file, nil
}

// Regenerate re-encodes the detail line of one mapping without touching
// its status. Render failures for admins with RegenerateMessage.
func (b *Builder) Regenerate(ctx context.Context, mappingID int64, now time.Time) (DetailRecordWrapper, error) {
	m, err := b.deps.Mappings.GetMapping(ctx, mappingID)
	if err != nil {
		return DetailRecordWrapper{}, err
	}
	p, err := b.deps.Payers.GetPayer(ctx, m.PayerID)
	if err != nil {
		return DetailRecordWrapper{}, &InvalidPayerError{Reason: err.Error()}
	}
	gen, err := b.generator(PayerName(p.Code))
	if err != nil {
		return DetailRecordWrapper{}, err
	}
	return b.detail(ctx, gen, m, now)
}

func (b *Builder) detail(ctx context.Context, gen Generator, m TreatmentMapping, now time.Time) (DetailRecordWrapper, error) {
	cb, err := b.deps.CostBreakdowns.GetCostBreakdown(ctx, m.CostBreakdownID)
	if err != nil {
		return DetailRecordWrapper{}, fmt.Errorf("load cost breakdown: %w", err)
	}
	serviceDate, err := b.serviceDate(ctx, m)
	if err != nil {
		return DetailRecordWrapper{}, err
	}
	plan, err := b.deps.Plans.MemberHealthPlanAsOf(ctx, cb.MemberID, serviceDate)
	if err != nil {
		return DetailRecordWrapper{}, fmt.Errorf("resolve member health plan: %w", err)
	}

	return gen.GenerateDetail(ctx, DetailRequest{
		RecordID:         m.ID,
		RecordType:       m.RecordType,
		CostBreakdown:    cb,
		ServiceStartDate: serviceDate,
		MemberHealthPlan: plan,
		Deductible:       magnitude(m.DeductibleOverride, cb.Deductible),
		OOPApplied:       magnitude(m.OOPOverride, cb.OOPApplied),
		HRAApplied:       magnitude(m.HRAOverride, cb.HRAApplied),
		Direction:        m.Direction(),
		Now:              now,
	})
}

func (b *Builder) serviceDate(ctx context.Context, m TreatmentMapping) (time.Time, error) {
	switch {
	case m.TreatmentProcedureUUID != nil:
		tp, err := b.deps.Subjects.GetTreatmentProcedure(ctx, *m.TreatmentProcedureUUID)
		if err != nil {
			return time.Time{}, fmt.Errorf("load treatment procedure: %w", err)
		}
		return tp.StartDate, nil
	case m.ReimbursementRequestID != nil:
		rr, err := b.deps.Subjects.GetReimbursementRequest(ctx, *m.ReimbursementRequestID)
		if err != nil {
			return time.Time{}, fmt.Errorf("load reimbursement request: %w", err)
		}
		return rr.ServiceStartDate, nil
	default:
		return time.Time{}, fmt.Errorf("mapping %d has no procedure or reimbursement request", m.ID)
	}
}

func magnitude(override *int64, v int64) int64 {
	if override != nil {
		v = *override
	}
	if v < 0 {
		return -v
	}
	return v
}

// =============================================================================
// ENQUEUE
// =============================================================================

// Enqueue queues a WAITING mapping reporting cb for a treatment procedure.
// Nothing is queued when the cost breakdown applied no deductible or OOP.
// isRefund queues a reversal of an earlier report.
func (b *Builder) Enqueue(ctx context.Context, tp wallet.TreatmentProcedure, cb costbreakdown.CostBreakdown, isRefund bool) (*TreatmentMapping, error) {
	if cb.Deductible == 0 && cb.OOPApplied == 0 && cb.HRAApplied == 0 {
		return nil, nil
	}
	m, err := b.newMapping(ctx, tp, cb)
	if err != nil {
		return nil, err
	}
	m.IsRefund = isRefund
	if err := b.deps.Mappings.CreateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("create mapping: %w", err)
	}
	return m, nil
}

func (b *Builder) newMapping(ctx context.Context, tp wallet.TreatmentProcedure, cb costbreakdown.CostBreakdown) (*TreatmentMapping, error) {
	plan, err := b.deps.Plans.MemberHealthPlanAsOf(ctx, cb.MemberID, tp.StartDate)
	if err != nil {
		return nil, fmt.Errorf("resolve member health plan: %w", err)
	}
	ehp := plan.EmployerHealthPlan
	if ehp.BenefitsPayerID == nil {
		return nil, &InvalidPayerError{EmployerHealthPlanID: ehp.ID, Reason: "no benefits payer id"}
	}

	recordType := RecordMedical
	if tp.ProcedureType == wallet.ProcedurePharmacy {
		recordType = RecordPharmacy
	}
	id := tp.UUID
	return &TreatmentMapping{
		TreatmentProcedureUUID: &id,
		CostBreakdownID:        cb.ID,
		PayerID:                *ehp.BenefitsPayerID,
		RecordType:             recordType,
		Status:                 StatusWaiting,
	}, nil
}

// =============================================================================
// REPORT / REVERSE
// =============================================================================
//
// The payer holds at most one forward report per procedure. A repriced
// procedure takes the old report back before the new one goes out:
//
//   cost breakdown 1 -> forward(1)
//   cost breakdown 2 -> reversal(1), forward(2)
//
// A forward that is still WAITING was never sent, so it is marked SKIP
// instead of reversed. Repricing to the same amounts reports nothing.

// Report queues the forward report for cb and returns the mapping the payer
// will hold for the procedure. Returns nil when cb has nothing to report.
func (b *Builder) Report(ctx context.Context, tp wallet.TreatmentProcedure, cb costbreakdown.CostBreakdown) (*TreatmentMapping, error) {
	current, err := b.reported(ctx, tp.UUID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if current.CostBreakdownID == cb.ID {
			return current, nil
		}
		prev, err := b.deps.CostBreakdowns.GetCostBreakdown(ctx, current.CostBreakdownID)
		if err != nil {
			return nil, fmt.Errorf("load reported cost breakdown: %w", err)
		}
		if sameAmounts(*current, prev, cb) {
			return current, nil
		}
		if _, err := b.retract(ctx, tp, *current, prev); err != nil {
			return nil, err
		}
	}
	return b.Enqueue(ctx, tp, cb, false)
}

// Reverse takes back whatever the payer holds for the procedure. Returns
// the reversal mapping, or nil when nothing had been sent.
func (b *Builder) Reverse(ctx context.Context, tp wallet.TreatmentProcedure) (*TreatmentMapping, error) {
	current, err := b.reported(ctx, tp.UUID)
	if err != nil || current == nil {
		return nil, err
	}
	prev, err := b.deps.CostBreakdowns.GetCostBreakdown(ctx, current.CostBreakdownID)
	if err != nil {
		return nil, fmt.Errorf("load reported cost breakdown: %w", err)
	}
	return b.retract(ctx, tp, *current, prev)
}

// reported replays the procedure's mappings and returns the forward report
// still standing, or nil. Rejected and skipped mappings never reached the
// payer's accumulators.
func (b *Builder) reported(ctx context.Context, procedureUUID uuid.UUID) (*TreatmentMapping, error) {
	mappings, err := b.deps.Mappings.MappingsForProcedure(ctx, procedureUUID)
	if err != nil {
		return nil, fmt.Errorf("load procedure mappings: %w", err)
	}
	var current *TreatmentMapping
	for i := range mappings {
		m := &mappings[i]
		switch {
		case m.Status == StatusRejected || m.Status == StatusSkip:
		case m.IsRefund:
			current = nil
		default:
			current = m
		}
	}
	return current, nil
}

func (b *Builder) retract(ctx context.Context, tp wallet.TreatmentProcedure, current TreatmentMapping, cb costbreakdown.CostBreakdown) (*TreatmentMapping, error) {
	if current.Status == StatusWaiting {
		current.Status = StatusSkip
		if err := b.deps.Mappings.UpdateMapping(ctx, current); err != nil {
			return nil, fmt.Errorf("skip unsent mapping: %w", err)
		}
		return nil, nil
	}

	m, err := b.newMapping(ctx, tp, cb)
	if err != nil {
		return nil, err
	}
	m.IsRefund = true
	m.RecordType = current.RecordType
	m.DeductibleOverride = current.DeductibleOverride
	m.OOPOverride = current.OOPOverride
	m.HRAOverride = current.HRAOverride
	if err := b.deps.Mappings.CreateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("create reversal mapping: %w", err)
	}
	return m, nil
}

// sameAmounts reports whether cb would send the payer exactly what the
// current mapping already did.
func sameAmounts(current TreatmentMapping, reported, cb costbreakdown.CostBreakdown) bool {
	return effective(current.DeductibleOverride, reported.Deductible) == cb.Deductible &&
		effective(current.OOPOverride, reported.OOPApplied) == cb.OOPApplied &&
		effective(current.HRAOverride, reported.HRAApplied) == cb.HRAApplied
}

func effective(override *int64, v int64) int64 {
	if override != nil {
		return *override
	}
	return v
}
