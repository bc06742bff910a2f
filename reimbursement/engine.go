/*
Package reimbursement turns priced treatment procedures into wallet
reimbursement requests and disbursement claims.

PURPOSE:
  A completed procedure has a cost breakdown saying how much the employer
  owes. The engine records that as reimbursement requests against the
  member's wallet, submits claims to the disbursement provider and keeps
  cycle credits in step.

DELTAS:
  A procedure may be repriced. Each new cost breakdown only records the
  difference from the previous one that produced requests:

    cost breakdown 1 (employer 800)   -> EMPLOYER +800
    cost breakdown 2 (employer 650)   -> EMPLOYER -150
    add back                          -> EMPLOYER +150 (negation of latest)

  Calling DeductBalance twice with the same cost breakdown finds itself as
  the previous one and records nothing.

FAILURE MODEL:
  - Missing clinic/member: logged, DeductBalance returns false.
  - Cycle wallet short of credits: refused before anything is persisted.
    Credits are spent once per procedure, whatever the number of calls.
  - Persisting requests fails: rolled back, error returned.
  - Claim submission fails: logged, requests stay persisted. A malformed
    claim (ErrInvalidClaimRequest) is returned to the caller.
  - Negative requests are never submitted on the deduct path; there is no
    top-up mechanism for them.

SEE ALSO:
  - costbreakdown/processor.go: produces the cost breakdowns consumed here
  - credits/ledger.go: cycle credit ledger
*/
package reimbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/credits"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// ENGINE
// =============================================================================

type Deps struct {
	Store      Store
	Clinics    ClinicDirectory
	Members    MemberDirectory
	Plans      eligibility.HealthPlanRepository
	Procedures GlobalProcedureService
	Credits    *credits.Ledger
	Claims     ClaimSubmitter
}

type Engine struct {
	store      Store
	clinics    ClinicDirectory
	members    MemberDirectory
	plans      eligibility.HealthPlanRepository
	procedures GlobalProcedureService
	credits    *credits.Ledger
	claims     ClaimSubmitter
	log        zerolog.Logger
	now        func() time.Time
}

func NewEngine(deps Deps, log zerolog.Logger) *Engine {
	claims := deps.Claims
	if claims == nil {
		claims = LoggingClaimSubmitter{Log: log}
	}
	return &Engine{
		store:      deps.Store,
		clinics:    deps.Clinics,
		members:    deps.Members,
		plans:      deps.Plans,
		procedures: deps.Procedures,
		credits:    deps.Credits,
		claims:     claims,
		log:        log.With().Str("component", "wallet_balance_reimbursements").Logger(),
		now:        time.Now,
	}
}

// =============================================================================
// DEDUCT BALANCE
// =============================================================================

// DeductBalance records the reimbursement requests for cb against the
// wallet. Procedures that aren't completed are skipped and report success.
// A false result with a nil error means the procedure could not be
// processed and was logged.
func (e *Engine) DeductBalance(ctx context.Context, tp wallet.TreatmentProcedure, cb costbreakdown.CostBreakdown, w wallet.Wallet) (bool, error) {
	if !tp.Status.IsBillable() {
		return true, nil
	}
	log := e.log.With().
		Str("treatment_procedure_uuid", tp.UUID.String()).
		Int64("cost_breakdown_id", cb.ID).
		Int64("wallet_id", w.ID).
		Logger()

	clinic, member, ok, err := e.resolveParties(ctx, tp, log)
	if err != nil || !ok {
		return false, err
	}

	prev, prevHadDeductible, err := e.store.PreviousCostBreakdownWithReimbursementRequests(ctx, tp.UUID)
	if err != nil {
		return false, fmt.Errorf("previous cost breakdown: %w", err)
	}

	var creditProc *GlobalProcedure
	if w.IsCycle() && cb.TotalEmployerResponsibility != 0 {
		creditProc, err = e.creditsDue(ctx, tp, w)
		if err != nil {
			log.Error().Err(err).Msg("cycle credits unavailable")
			return false, err
		}
	}

	var pending []wallet.LinkedRequest

	current, err := e.employeeDeductible(ctx, tp, cb, w)
	if err != nil {
		return false, err
	}
	var previous int64
	if prev != nil && prevHadDeductible {
		previous = prev.Deductible
	}
	if delta := current - previous; delta != 0 {
		pending = append(pending, e.newRequest(tp, cb, w, clinic, member, delta, wallet.ClaimEmployeeDeductible))
	}

	var prevEmployer int64
	if prev != nil {
		prevEmployer = prev.EmployerClaimAmount()
	}
	if delta := cb.EmployerClaimAmount() - prevEmployer; delta != 0 {
		pending = append(pending, e.newRequest(tp, cb, w, clinic, member, delta, wallet.ClaimEmployer))
	}

	if len(pending) > 0 {
		if err := e.store.SaveReimbursementRequests(ctx, pending); err != nil {
			log.Error().Err(err).Msg("failed to save reimbursement requests, rolled back")
			return false, err
		}
		if err := e.submitClaims(ctx, w, pending, false, log); err != nil {
			return false, err
		}
	}

	if creditProc != nil {
		err := e.credits.DeductCreditsForReimbursementAndProcedure(ctx, w.ID, employerRequestID(pending), tp.UUID, creditProc.ID, creditProc.CostCredit)
		if err != nil {
			log.Error().Err(err).Msg("failed to deduct cycle credits")
			return false, err
		}
	}

	log.Info().Int("reimbursement_requests", len(pending)).Msg("wallet balance deducted")
	return true, nil
}

func (e *Engine) resolveParties(ctx context.Context, tp wallet.TreatmentProcedure, log zerolog.Logger) (Clinic, Member, bool, error) {
	if tp.ClinicID == nil {
		log.Error().Msg("treatment procedure has no clinic")
		return Clinic{}, Member{}, false, nil
	}
	clinic, err := e.clinics.GetClinic(ctx, *tp.ClinicID)
	if errors.Is(err, ErrClinicNotFound) {
		log.Error().Int64("clinic_id", *tp.ClinicID).Msg("clinic not found")
		return Clinic{}, Member{}, false, nil
	}
	if err != nil {
		return Clinic{}, Member{}, false, err
	}

	member, err := e.members.GetMember(ctx, tp.MemberID)
	if errors.Is(err, ErrMemberNotFound) {
		log.Error().Int64("member_id", tp.MemberID).Msg("member not found")
		return Clinic{}, Member{}, false, nil
	}
	if err != nil {
		return Clinic{}, Member{}, false, err
	}
	return clinic, member, true, nil
}

// employeeDeductible is the deductible the employee claims back. Only
// wallets that leave deductible tracking to the payer, on an HDHP at the
// procedure start date, have one.
func (e *Engine) employeeDeductible(ctx context.Context, tp wallet.TreatmentProcedure, cb costbreakdown.CostBreakdown, w wallet.Wallet) (int64, error) {
	if w.DeductibleAccumulationEnabled {
		return 0, nil
	}
	plan, err := e.plans.MemberHealthPlanAsOf(ctx, tp.MemberID, tp.StartDate)
	if errors.Is(err, eligibility.ErrMemberHealthPlanNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("member health plan: %w", err)
	}
	if !plan.EmployerHealthPlan.IsHDHP {
		return 0, nil
	}
	return cb.Deductible, nil
}

func (e *Engine) newRequest(tp wallet.TreatmentProcedure, cb costbreakdown.CostBreakdown, w wallet.Wallet, clinic Clinic, member Member, amount int64, claimType wallet.ClaimType) wallet.LinkedRequest {
	procUUID := tp.UUID
	return wallet.LinkedRequest{
		Request: wallet.ReimbursementRequest{
			WalletID:               w.ID,
			CategoryID:             tp.CategoryID,
			Label:                  tp.ProcedureName,
			ServiceProvider:        clinic.Name,
			PersonReceivingService: member.FullName(),
			Description:            fmt.Sprintf("%s claim for cost breakdown %d", claimType, cb.ID),
			Amount:                 amount,
			State:                  wallet.StateApproved,
			ReimbursementType:      wallet.ReimbursementDirectBilling,
			ProcedureType:          tp.ProcedureType,
			ServiceStartDate:       tp.StartDate,
			ServiceEndDate:         tp.EndDate,
			ProcedureUUID:          &procUUID,
			CreatedAt:              e.now(),
		},
		Link: wallet.ReimbursementRequestToCostBreakdown{
			CostBreakdownID:        cb.ID,
			TreatmentProcedureUUID: &procUUID,
			ClaimType:              claimType,
		},
	}
}

// submitClaims sends one claim per request. Remote failures are logged and
// swallowed; malformed claims stop and return the error.
func (e *Engine) submitClaims(ctx context.Context, w wallet.Wallet, reqs []wallet.LinkedRequest, allowNegative bool, log zerolog.Logger) error {
	for _, lr := range reqs {
		rr := lr.Request
		rlog := log.With().Int64("reimbursement_request_id", rr.ID).Str("claim_type", string(lr.Link.ClaimType)).Logger()
		if rr.Amount < 0 && !allowNegative {
			rlog.Error().Int64("amount", rr.Amount).Msg("negative reimbursement request not submitted as claim")
			continue
		}
		err := e.claims.CreateDirectPaymentClaim(ctx, w, rr, lr.Link.ClaimType)
		if errors.Is(err, ErrInvalidClaimRequest) {
			rlog.Error().Err(err).Msg("invalid direct payment claim")
			return err
		}
		if err != nil {
			rlog.Error().Err(err).Msg("failed to submit direct payment claim")
		}
	}
	return nil
}

// creditsDue returns the global procedure whose credits this deduct has
// to spend, or nil when the procedure was already deducted or costs no
// credits. Fails before anything is persisted when the wallet is short.
func (e *Engine) creditsDue(ctx context.Context, tp wallet.TreatmentProcedure, w wallet.Wallet) (*GlobalProcedure, error) {
	deducted, err := e.credits.Deducted(ctx, tp.UUID)
	if err != nil || deducted {
		return nil, err
	}
	proc, err := e.procedures.GetProcedureByID(ctx, tp.GlobalProcedureID)
	if err != nil {
		return nil, fmt.Errorf("global procedure: %w", err)
	}
	if proc.CostCredit == 0 {
		return nil, nil
	}
	if err := e.credits.CheckAvailable(ctx, w.ID, proc.CostCredit); err != nil {
		return nil, err
	}
	return &proc, nil
}

func employerRequestID(reqs []wallet.LinkedRequest) int64 {
	for _, lr := range reqs {
		if lr.Link.ClaimType == wallet.ClaimEmployer {
			return lr.Request.ID
		}
	}
	if len(reqs) > 0 {
		return reqs[0].Request.ID
	}
	return 0
}

// =============================================================================
// ADD BACK BALANCE
// =============================================================================

// AddBackBalance refunds every reimbursement request linked to the
// procedure's cost breakdown with a negated request, submits the refunds
// as claims and restores cycle credits. A second call fails because the
// linked requests now include negative ones.
func (e *Engine) AddBackBalance(ctx context.Context, tp wallet.TreatmentProcedure) ([]wallet.ReimbursementRequest, error) {
	if !tp.Status.IsBillable() {
		return nil, &WalletBalanceReimbursementsError{Reason: fmt.Sprintf("treatment procedure status %s cannot be refunded", tp.Status)}
	}
	if tp.CostBreakdownID == nil {
		return nil, &WalletBalanceReimbursementsError{Reason: "treatment procedure has no cost breakdown"}
	}
	log := e.log.With().
		Str("treatment_procedure_uuid", tp.UUID.String()).
		Int64("cost_breakdown_id", *tp.CostBreakdownID).
		Logger()

	w, err := e.store.GetWallet(ctx, tp.WalletID)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}

	linked, err := e.store.LinkedRequestsForCostBreakdown(ctx, *tp.CostBreakdownID)
	if err != nil {
		return nil, err
	}
	for _, lr := range linked {
		if lr.Request.Amount < 0 {
			return nil, &WalletBalanceReimbursementsError{
				Reason: fmt.Sprintf("reimbursement request %d is already negative", lr.Request.ID),
			}
		}
	}

	refunds := make([]wallet.LinkedRequest, 0, len(linked))
	for _, lr := range linked {
		refund := lr.Request
		refund.ID = 0
		refund.Amount = -lr.Request.Amount
		refund.State = wallet.StateRefunded
		refund.Description = fmt.Sprintf("Refund of reimbursement request %d", lr.Request.ID)
		refund.CreatedAt = e.now()
		refunds = append(refunds, wallet.LinkedRequest{
			Request: refund,
			Link: wallet.ReimbursementRequestToCostBreakdown{
				CostBreakdownID:        lr.Link.CostBreakdownID,
				TreatmentProcedureUUID: lr.Link.TreatmentProcedureUUID,
				ClaimType:              lr.Link.ClaimType,
			},
		})
	}

	if len(refunds) > 0 {
		if err := e.store.SaveReimbursementRequests(ctx, refunds); err != nil {
			log.Error().Err(err).Msg("failed to save refund requests, rolled back")
			return nil, err
		}
		if err := e.submitClaims(ctx, w, refunds, true, log); err != nil {
			return nil, err
		}
	}

	if w.IsCycle() {
		proc, err := e.procedures.GetProcedureByID(ctx, tp.GlobalProcedureID)
		if err != nil {
			return nil, fmt.Errorf("global procedure: %w", err)
		}
		added, err := e.credits.AddBackCreditsForReimbursementAndProcedure(ctx, w.ID, employerRequestID(refunds), tp.UUID, proc.ID)
		if err != nil {
			log.Error().Err(err).Msg("failed to add back cycle credits")
			return nil, err
		}
		log.Info().Int64("credits", added).Msg("cycle credits added back")
	}

	out := make([]wallet.ReimbursementRequest, len(refunds))
	for i, lr := range refunds {
		out[i] = lr.Request
	}
	log.Info().Int("reimbursement_requests", len(out)).Msg("wallet balance added back")
	return out, nil
}
