package costbreakdown

import (
	"context"
	"encoding/json"

	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/wallet"
)

// OverrideRequest is an admin correction. Exactly one of
// ReimbursementRequest or TreatmentProcedure is set.
type OverrideRequest struct {
	ReimbursementRequest *wallet.ReimbursementRequest
	TreatmentProcedure   *wallet.TreatmentProcedure
	Wallet               wallet.Wallet
	MemberID             int64
	Cost                 int64
	DeductibleOverride   *int64
	OOPOverride          *int64
	// WalletBalance replaces the live balance when set.
	WalletBalance *int64
}

// CreateOverrideCostBreakdown persists a cost breakdown straight from the
// override amounts. Neither eligibility nor the calculator runs.
//
// The member owes the OOP override (defaulting to the deductible override),
// bounded by the cost. The wallet covers the rest up to its balance.
func (p *Processor) CreateOverrideCostBreakdown(ctx context.Context, req OverrideRequest) (CostBreakdown, error) {
	if (req.ReimbursementRequest == nil) == (req.TreatmentProcedure == nil) {
		return CostBreakdown{}, ErrInvalidTarget
	}
	if req.DeductibleOverride == nil && req.OOPOverride == nil {
		return CostBreakdown{}, ErrNoOverride
	}
	if req.Cost < 0 {
		return CostBreakdown{}, ErrNegativeCost
	}

	if rr := req.ReimbursementRequest; rr != nil {
		exists, err := p.store.ReimbursementRequestLinkExists(ctx, rr.ID)
		if err != nil {
			return CostBreakdown{}, err
		}
		if exists {
			return CostBreakdown{}, ErrRecordExists
		}
	}

	if req.Wallet.IsCycle() && req.WalletBalance == nil {
		cost := req.Cost
		req.WalletBalance = &cost
	}
	balance, err := p.walletBalance(ctx, req.Wallet, req.WalletBalance)
	if err != nil {
		return CostBreakdown{}, err
	}

	deductible := min(max(eligibility.ValueOr(req.DeductibleOverride, 0), 0), req.Cost)
	oop := min(max(eligibility.ValueOr(req.OOPOverride, deductible), deductible), req.Cost)
	planPortion := req.Cost - oop
	employer := min(planPortion, max(balance, 0))
	overage := planPortion - employer

	cbType := TypeFirstDollarCoverage
	if req.Wallet.DeductibleAccumulationEnabled {
		cbType = TypeDeductibleAccumulation
	}

	cb := CostBreakdown{
		WalletID: req.Wallet.ID,
		MemberID: req.MemberID,
		Data: Data{
			TotalMemberResponsibility:   oop + overage,
			TotalEmployerResponsibility: employer,
			BeginningWalletBalance:      balance,
			EndingWalletBalance:         balance - employer,
			CostBreakdownType:           cbType,
			AmountType:                  AmountIndividual,
			Deductible:                  deductible,
			OverageAmount:               overage,
			OOPApplied:                  oop,
		},
		DeductibleOverride: req.DeductibleOverride,
		OOPOverride:        req.OOPOverride,
		CalcConfig:         overrideConfig(req),
	}

	log := p.log.With().Int64("wallet_id", req.Wallet.ID).Logger()
	if rr := req.ReimbursementRequest; rr != nil {
		id := rr.ID
		cb.ReimbursementRequestID = &id
		cb.TreatmentProcedureUUID = rr.ProcedureUUID
		err = p.store.CreateForReimbursementRequest(ctx, &cb, wallet.ClaimEmployer)
	} else {
		id := req.TreatmentProcedure.UUID
		cb.TreatmentProcedureUUID = &id
		err = p.store.CreateForTreatmentProcedure(ctx, &cb)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to save override cost breakdown")
		return CostBreakdown{}, err
	}
	log.Info().Int64("cost_breakdown_id", cb.ID).Msg("override cost breakdown created")
	return cb, nil
}

func overrideConfig(req OverrideRequest) string {
	b, err := json.Marshal(map[string]any{
		"cost":                req.Cost,
		"deductible_override": req.DeductibleOverride,
		"oop_override":        req.OOPOverride,
		"wallet_balance":      req.WalletBalance,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}
