/*
fallback.go - Accumulator snapshot for payers without real-time eligibility

PURPOSE:
  When the payer isn't integrated (or RTE is down) we still need an Info to
  price a procedure. We build one from the employer plan's configured
  coverage limits and cost sharing, minus the year-to-date spend reported
  to us out of band.

RULES:
  - remaining = configured limit - YTD spend, floored at zero
  - coverage row is picked by plan type, tier and coverage type (RX for
    pharmacy procedures when the plan keeps separate pharmacy
    accumulators, MEDICAL otherwise)
  - at least one cost sharing entry for the category is required
*/
package eligibility

import "github.com/shopspring/decimal"

// YTDSpend is spend reported outside of RTE for the plan year.
type YTDSpend struct {
	IndividualDeductibleSpent int64
	IndividualOOPSpent        int64
	FamilyDeductibleSpent     int64
	FamilyOOPSpent            int64
	HRARemaining              *int64
}

// FallbackRequest describes what is being priced.
type FallbackRequest struct {
	Plan         MemberHealthPlan
	Category     CostSharingCategory
	Tier         *Tier
	CoverageType CoverageType
	Spend        YTDSpend
}

// FromPlanCostSharing builds a plan cost-sharing snapshot.
func FromPlanCostSharing(req FallbackRequest) (Snapshot, error) {
	employer := req.Plan.EmployerHealthPlan
	coverageType := req.CoverageType
	if coverageType == "" {
		coverageType = CoverageMedical
	}

	coverage, ok := employer.CoverageFor(req.Plan.PlanType, req.Tier, coverageType)
	if !ok {
		return Snapshot{}, ErrNoCoverage
	}

	sharings := employer.CostSharingsFor(req.Category)
	if len(sharings) == 0 {
		return Snapshot{}, &NoCostSharingFoundError{EmployerHealthPlanID: employer.ID, Category: req.Category}
	}

	info := Info{
		IndividualDeductible:          Cents(coverage.IndividualDeductible),
		IndividualDeductibleRemaining: Cents(max(coverage.IndividualDeductible-req.Spend.IndividualDeductibleSpent, 0)),
		IndividualOOP:                 Cents(coverage.IndividualOOP),
		IndividualOOPRemaining:        Cents(max(coverage.IndividualOOP-req.Spend.IndividualOOPSpent, 0)),
		IsDeductibleEmbedded:          coverage.IsDeductibleEmbedded,
		IsOOPEmbedded:                 coverage.IsOOPEmbedded,
		HRARemaining:                  req.Spend.HRARemaining,
	}
	if req.Plan.PlanType == PlanTypeFamily {
		info.FamilyDeductible = Cents(coverage.FamilyDeductible)
		info.FamilyDeductibleRemaining = Cents(max(coverage.FamilyDeductible-req.Spend.FamilyDeductibleSpent, 0))
		info.FamilyOOP = Cents(coverage.FamilyOOP)
		info.FamilyOOPRemaining = Cents(max(coverage.FamilyOOP-req.Spend.FamilyOOPSpent, 0))
	}

	for _, cs := range sharings {
		switch cs.Type {
		case CostSharingCopay:
			info.Copay = Cents(ValueOr(cs.Absolute, 0))
		case CostSharingCoinsurance:
			if cs.Percent != nil {
				pct := *cs.Percent
				info.Coinsurance = &pct
			} else {
				zero := decimal.Zero
				info.Coinsurance = &zero
			}
		case CostSharingCoinsuranceMin:
			info.CoinsuranceMin = Cents(ValueOr(cs.Absolute, 0))
		case CostSharingCoinsuranceMax:
			info.CoinsuranceMax = Cents(ValueOr(cs.Absolute, 0))
		}
	}

	return Snapshot{Info: info, Source: SourcePlanCostSharing}, nil
}
