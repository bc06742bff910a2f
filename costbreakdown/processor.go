/*
processor.go - Cost breakdown orchestration

PURPOSE:
  Resolves everything the Calculator needs, runs it, and persists the
  result linked to the reimbursement request or treatment procedure that
  asked for it.

FLOW:
  1. Resolve the member health plan (as of the service date, or today when
     configured with HealthPlanCurrent).
  2. Resolve the wallet balance (override, or live balance).
  3. If eligibility will run:
       a. reject disabled payers
       b. RTE lookup, falling back to plan cost sharing when the payer
          isn't integrated
       c. sum sequential amounts from earlier unreconciled procedures
  4. Calculator.Compute
  5. Persist

AS-OF DATES:
  Every lookup is scoped to the service date, never "now" (unless the
  health plan behavior says otherwise). Recalculating an old request
  replays the state the member was in at the time.

ERRORS:
  Errors are logged here and returned. API callers map them to status
  codes; admin callers render them with AdminMessage.

SEE ALSO:
  - calculator.go: pricing
  - override.go: admin overrides that skip the calculator
*/
package costbreakdown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// CONFIG
// =============================================================================

type HealthPlanBehavior string

const (
	// HealthPlanServiceDate resolves the member's plan as of the service date.
	HealthPlanServiceDate HealthPlanBehavior = "service_date"
	// HealthPlanCurrent resolves the plan active today.
	HealthPlanCurrent HealthPlanBehavior = "current"
)

// Config is resolved once at startup and passed to NewProcessor.
type Config struct {
	DisabledPayerCodes map[string]struct{}
	HealthPlanBehavior HealthPlanBehavior
	HDHPThresholds     HDHPThresholds
}

func (c Config) payerDisabled(code string) bool {
	_, ok := c.DisabledPayerCodes[code]
	return ok
}

// =============================================================================
// STORE
// =============================================================================

// SequentialQuery selects earlier cost breakdowns that the payer hasn't
// reconciled yet.
type SequentialQuery struct {
	MemberID        int64
	FamilyMemberIDs []int64
	From            time.Time
	To              time.Time
	ExcludeUUID     *uuid.UUID
}

// SequentialTotals are the summed amounts from SequentialQuery, split
// between the member and the whole family.
type SequentialTotals struct {
	IndividualDeductible           int64
	IndividualOOP                  int64
	IndividualMemberResponsibility int64
	FamilyDeductible               int64
	FamilyOOP                      int64
	FamilyMemberResponsibility     int64
}

// Store persists cost breakdowns. Rows are never updated.
type Store interface {
	GetCostBreakdown(ctx context.Context, id int64) (CostBreakdown, error)

	// CreateForReimbursementRequest inserts cb and its link row in one
	// transaction. Returns ErrRecordExists when the request is already linked.
	CreateForReimbursementRequest(ctx context.Context, cb *CostBreakdown, claimType wallet.ClaimType) error

	// CreateForTreatmentProcedure inserts cb and points the procedure at it.
	CreateForTreatmentProcedure(ctx context.Context, cb *CostBreakdown) error

	ReimbursementRequestLinkExists(ctx context.Context, reimbursementRequestID int64) (bool, error)
	WalletBalance(ctx context.Context, w wallet.Wallet) (int64, error)
	SequentialTotals(ctx context.Context, q SequentialQuery) (SequentialTotals, error)
}

// =============================================================================
// PROCESSOR
// =============================================================================

type Deps struct {
	Store  Store
	Plans  eligibility.HealthPlanRepository
	Payers eligibility.PayerRepository
	RTE    eligibility.RTEProvider
	Spend  eligibility.YTDSpendRepository
}

type Processor struct {
	cfg    Config
	calc   *Calculator
	store  Store
	plans  eligibility.HealthPlanRepository
	payers eligibility.PayerRepository
	rte    eligibility.RTEProvider
	spend  eligibility.YTDSpendRepository
	log    zerolog.Logger
	now    func() time.Time
}

func NewProcessor(cfg Config, deps Deps, log zerolog.Logger) *Processor {
	if cfg.HealthPlanBehavior == "" {
		cfg.HealthPlanBehavior = HealthPlanServiceDate
	}
	rte := deps.RTE
	if rte == nil {
		rte = eligibility.UnavailableRTE{}
	}
	return &Processor{
		cfg:    cfg,
		calc:   NewCalculator(cfg.HDHPThresholds),
		store:  deps.Store,
		plans:  deps.Plans,
		payers: deps.Payers,
		rte:    rte,
		spend:  deps.Spend,
		log:    log.With().Str("component", "cost_breakdown_processor").Logger(),
		now:    time.Now,
	}
}

// GetCostBreakdown loads a persisted cost breakdown.
func (p *Processor) GetCostBreakdown(ctx context.Context, id int64) (CostBreakdown, error) {
	return p.store.GetCostBreakdown(ctx, id)
}

// =============================================================================
// REIMBURSEMENT REQUESTS
// =============================================================================

// RequestParams are the inputs for pricing a reimbursement request.
type RequestParams struct {
	Request             wallet.ReimbursementRequest
	Wallet              wallet.Wallet
	UserID              int64
	CostSharingCategory eligibility.CostSharingCategory
	// WalletBalanceOverride replaces the live balance. Cycle wallets use
	// the request amount.
	WalletBalanceOverride *int64
	Tier                  *eligibility.Tier
	// AsOf defaults to the request's service start date.
	AsOf time.Time
}

// DataServiceFromReimbursementRequest builds the Calculator input for a
// reimbursement request.
func (p *Processor) DataServiceFromReimbursementRequest(ctx context.Context, params RequestParams) (Input, error) {
	category := params.CostSharingCategory
	if category == "" {
		category = params.Request.CostSharingCategory
	}
	asOf := params.AsOf
	if asOf.IsZero() {
		asOf = params.Request.ServiceStartDate
	}
	return p.buildInput(ctx, pricing{
		memberID:        params.UserID,
		wallet:          params.Wallet,
		cost:            params.Request.Amount,
		balanceOverride: params.WalletBalanceOverride,
		category:        category,
		tier:            params.Tier,
		procedureType:   params.Request.ProcedureType,
		asOf:            asOf,
		exclude:         params.Request.ProcedureUUID,
	})
}

// CostBreakdownForReimbursementRequest prices a reimbursement request and
// persists the result linked to it as an EMPLOYER claim.
func (p *Processor) CostBreakdownForReimbursementRequest(ctx context.Context, params RequestParams) (CostBreakdown, error) {
	rr := params.Request
	log := p.log.With().Int64("reimbursement_request_id", rr.ID).Int64("wallet_id", params.Wallet.ID).Logger()

	exists, err := p.store.ReimbursementRequestLinkExists(ctx, rr.ID)
	if err != nil {
		return CostBreakdown{}, err
	}
	if exists {
		log.Warn().Msg("reimbursement request already has a cost breakdown")
		return CostBreakdown{}, ErrRecordExists
	}

	if params.Wallet.IsCycle() && params.WalletBalanceOverride == nil {
		amount := rr.Amount
		params.WalletBalanceOverride = &amount
	}

	in, err := p.DataServiceFromReimbursementRequest(ctx, params)
	if err != nil {
		log.Error().Err(err).Msg("failed to build cost breakdown input")
		return CostBreakdown{}, err
	}
	data, err := p.calc.Compute(in)
	if err != nil {
		log.Error().Err(err).Msg("failed to calculate cost breakdown")
		return CostBreakdown{}, err
	}

	rrID := rr.ID
	cb := CostBreakdown{
		WalletID:               params.Wallet.ID,
		MemberID:               params.UserID,
		ReimbursementRequestID: &rrID,
		TreatmentProcedureUUID: rr.ProcedureUUID,
		Data:                   data,
		CalcConfig:             calcConfig(in),
	}
	if err := p.store.CreateForReimbursementRequest(ctx, &cb, wallet.ClaimEmployer); err != nil {
		log.Error().Err(err).Msg("failed to save cost breakdown")
		return CostBreakdown{}, err
	}

	log.Info().
		Int64("cost_breakdown_id", cb.ID).
		Str("cost_breakdown_type", string(cb.CostBreakdownType)).
		Int64("member_responsibility", cb.TotalMemberResponsibility).
		Int64("employer_responsibility", cb.TotalEmployerResponsibility).
		Msg("cost breakdown created")
	return cb, nil
}

// =============================================================================
// TREATMENT PROCEDURES
// =============================================================================

type ProcedureOptions struct {
	CostSharingCategory   eligibility.CostSharingCategory
	WalletBalanceOverride *int64
	Tier                  *eligibility.Tier
}

// CostBreakdownForTreatmentProcedure prices a treatment procedure as of its
// start date and points the procedure at the new cost breakdown.
func (p *Processor) CostBreakdownForTreatmentProcedure(ctx context.Context, tp wallet.TreatmentProcedure, w wallet.Wallet, opts ProcedureOptions) (CostBreakdown, error) {
	log := p.log.With().Str("treatment_procedure_uuid", tp.UUID.String()).Int64("wallet_id", w.ID).Logger()

	override := opts.WalletBalanceOverride
	if w.IsCycle() && override == nil {
		cost := tp.Cost
		override = &cost
	}
	category := opts.CostSharingCategory
	if category == "" {
		category = eligibility.CategoryMedicalCare
		if tp.ProcedureType == wallet.ProcedurePharmacy {
			category = eligibility.CategoryGenericPrescriptions
		}
	}

	procUUID := tp.UUID
	in, err := p.buildInput(ctx, pricing{
		memberID:        tp.MemberID,
		wallet:          w,
		cost:            tp.Cost,
		balanceOverride: override,
		category:        category,
		tier:            opts.Tier,
		procedureType:   tp.ProcedureType,
		asOf:            tp.StartDate,
		exclude:         &procUUID,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build cost breakdown input")
		return CostBreakdown{}, err
	}
	data, err := p.calc.Compute(in)
	if err != nil {
		log.Error().Err(err).Msg("failed to calculate cost breakdown")
		return CostBreakdown{}, err
	}

	cb := CostBreakdown{
		WalletID:               w.ID,
		MemberID:               tp.MemberID,
		TreatmentProcedureUUID: &procUUID,
		Data:                   data,
		CalcConfig:             calcConfig(in),
	}
	if err := p.store.CreateForTreatmentProcedure(ctx, &cb); err != nil {
		log.Error().Err(err).Msg("failed to save cost breakdown")
		return CostBreakdown{}, err
	}
	log.Info().Int64("cost_breakdown_id", cb.ID).Str("cost_breakdown_type", string(cb.CostBreakdownType)).Msg("cost breakdown created")
	return cb, nil
}

// =============================================================================
// INPUT RESOLUTION
// =============================================================================

type pricing struct {
	memberID        int64
	wallet          wallet.Wallet
	cost            int64
	balanceOverride *int64
	category        eligibility.CostSharingCategory
	tier            *eligibility.Tier
	procedureType   wallet.ProcedureType
	asOf            time.Time
	exclude         *uuid.UUID
}

func (p *Processor) buildInput(ctx context.Context, req pricing) (Input, error) {
	plan, err := p.memberHealthPlan(ctx, req.memberID, req.asOf)
	if err != nil {
		return Input{}, err
	}

	balance, err := p.walletBalance(ctx, req.wallet, req.balanceOverride)
	if err != nil {
		return Input{}, err
	}

	in := Input{
		Cost:                          req.cost,
		WalletBalance:                 balance,
		DeductibleAccumulationEnabled: req.wallet.DeductibleAccumulationEnabled,
		ProcedureType:                 req.procedureType,
		CostSharingCategory:           req.category,
		MemberHealthPlan:              plan,
		AsOf:                          req.asOf,
	}

	if !WillRunEligibilityInfo(in.DeductibleAccumulationEnabled, plan) {
		if in.DeductibleAccumulationEnabled {
			return Input{}, ErrMemberHealthPlanRequired
		}
		return in, nil
	}

	if err := p.checkPayer(ctx, *plan); err != nil {
		return Input{}, err
	}

	snapshot, err := p.resolveEligibility(ctx, *plan, req)
	if err != nil {
		return Input{}, err
	}
	in.Snapshot = &snapshot

	totals, err := p.sequentialTotals(ctx, *plan, req)
	if err != nil {
		return Input{}, err
	}
	in.DeductibleAccumulationYTD = eligibility.DeductibleAccumulationYTDInfo{
		IndividualDeductibleApplied: totals.IndividualDeductible,
		IndividualOOPApplied:        totals.IndividualOOP,
		FamilyDeductibleApplied:     totals.FamilyDeductible,
		FamilyOOPApplied:            totals.FamilyOOP,
	}
	in.HDHPYTD = eligibility.HDHPAccumulationYTDInfo{
		SequentialMemberResponsibilities: totals.IndividualMemberResponsibility,
		SequentialFamilyResponsibilities: totals.FamilyMemberResponsibility,
	}
	return in, nil
}

func (p *Processor) memberHealthPlan(ctx context.Context, memberID int64, asOf time.Time) (*eligibility.MemberHealthPlan, error) {
	at := asOf
	if p.cfg.HealthPlanBehavior == HealthPlanCurrent {
		at = p.now()
	}
	plan, err := p.plans.MemberHealthPlanAsOf(ctx, memberID, at)
	if errors.Is(err, eligibility.ErrMemberHealthPlanNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("member health plan: %w", err)
	}
	return &plan, nil
}

func (p *Processor) walletBalance(ctx context.Context, w wallet.Wallet, override *int64) (int64, error) {
	if override != nil {
		return *override, nil
	}
	balance, err := p.store.WalletBalance(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("wallet balance: %w", err)
	}
	return balance, nil
}

// checkPayer only runs when an eligibility lookup would; fully covered
// members of a disabled payer still get priced.
func (p *Processor) checkPayer(ctx context.Context, plan eligibility.MemberHealthPlan) error {
	if len(p.cfg.DisabledPayerCodes) == 0 || plan.EmployerHealthPlan.BenefitsPayerID == nil {
		return nil
	}
	payer, err := p.payers.GetPayer(ctx, *plan.EmployerHealthPlan.BenefitsPayerID)
	if err != nil {
		return fmt.Errorf("payer: %w", err)
	}
	if p.cfg.payerDisabled(payer.Code) {
		return &PayerDisabledError{PayerCode: payer.Code}
	}
	return nil
}

// resolveEligibility tries RTE first and falls back to plan cost sharing when the
// payer isn't integrated.
func (p *Processor) resolveEligibility(ctx context.Context, plan eligibility.MemberHealthPlan, req pricing) (eligibility.Snapshot, error) {
	info, txID, err := p.rte.EligibilityInfo(ctx, plan, req.asOf)
	if err == nil {
		return eligibility.Snapshot{Info: info, Source: eligibility.SourceRTE, RTETransactionID: &txID}, nil
	}
	if !errors.Is(err, eligibility.ErrRTEUnavailable) {
		return eligibility.Snapshot{}, fmt.Errorf("real time eligibility: %w", err)
	}

	p.log.Debug().Int64("member_health_plan_id", plan.ID).Msg("rte unavailable, using plan cost sharing")
	spend, err := p.spend.YTDSpend(ctx, plan, req.asOf)
	if err != nil {
		return eligibility.Snapshot{}, fmt.Errorf("ytd spend: %w", err)
	}
	coverageType := eligibility.CoverageMedical
	if req.procedureType == wallet.ProcedurePharmacy && !plan.EmployerHealthPlan.RxIntegrated {
		coverageType = eligibility.CoverageRx
	}
	return eligibility.FromPlanCostSharing(eligibility.FallbackRequest{
		Plan:         plan,
		Category:     req.category,
		Tier:         req.tier,
		CoverageType: coverageType,
		Spend:        spend,
	})
}

func (p *Processor) sequentialTotals(ctx context.Context, plan eligibility.MemberHealthPlan, req pricing) (SequentialTotals, error) {
	family := []int64{req.memberID}
	if plan.PlanType == eligibility.PlanTypeFamily {
		ids, err := p.plans.FamilyMemberIDs(ctx, plan)
		if err != nil {
			return SequentialTotals{}, fmt.Errorf("family members: %w", err)
		}
		family = ids
	}
	from, to := plan.PlanYear(req.asOf)
	if req.asOf.Before(to) {
		to = req.asOf
	}
	totals, err := p.store.SequentialTotals(ctx, SequentialQuery{
		MemberID:        req.memberID,
		FamilyMemberIDs: family,
		From:            from,
		To:              to,
		ExcludeUUID:     req.exclude,
	})
	if err != nil {
		return SequentialTotals{}, fmt.Errorf("sequential totals: %w", err)
	}
	return totals, nil
}

// =============================================================================
// CALC CONFIG
// =============================================================================

type calcConfigSnapshot struct {
	Cost                          int64                                     `json:"cost"`
	WalletBalance                 int64                                     `json:"wallet_balance"`
	DeductibleAccumulationEnabled bool                                      `json:"deductible_accumulation_enabled"`
	ProcedureType                 wallet.ProcedureType                      `json:"procedure_type,omitempty"`
	CostSharingCategory           eligibility.CostSharingCategory           `json:"cost_sharing_category,omitempty"`
	MemberHealthPlanID            *int64                                    `json:"member_health_plan_id,omitempty"`
	EligibilitySource             eligibility.Source                        `json:"eligibility_source,omitempty"`
	AsOf                          string                                    `json:"as_of"`
	DeductibleAccumulationYTD     eligibility.DeductibleAccumulationYTDInfo `json:"deductible_accumulation_ytd"`
	HDHPYTD                       eligibility.HDHPAccumulationYTDInfo       `json:"hdhp_ytd"`
}

func calcConfig(in Input) string {
	snap := calcConfigSnapshot{
		Cost:                          in.Cost,
		WalletBalance:                 in.WalletBalance,
		DeductibleAccumulationEnabled: in.DeductibleAccumulationEnabled,
		ProcedureType:                 in.ProcedureType,
		CostSharingCategory:           in.CostSharingCategory,
		AsOf:                          in.AsOf.Format("2006-01-02"),
		DeductibleAccumulationYTD:     in.DeductibleAccumulationYTD,
		HDHPYTD:                       in.HDHPYTD,
	}
	if in.MemberHealthPlan != nil {
		id := in.MemberHealthPlan.ID
		snap.MemberHealthPlanID = &id
	}
	if in.Snapshot != nil {
		snap.EligibilitySource = in.Snapshot.Source
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return "{}"
	}
	return string(b)
}
