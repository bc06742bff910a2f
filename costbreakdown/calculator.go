/*
calculator.go - Pure cost split computation

PURPOSE:
  Turn (cost, wallet balance, plan, eligibility snapshot) into Data. No I/O:
  everything the calculator needs is in Input, resolved beforehand by the
  Processor.

PATHS (mutually exclusive, chosen by WillRunEligibilityInfo):

  1. Fully covered (no deductible accumulation, not HDHP)
     employer = min(cost, max(balance, 0)), member pays the rest as overage.

  2. HDHP
     OOP remaining == 0  -> FIRST_DOLLAR_COVERAGE, employer pays.
     otherwise           -> member owes up to the IRS minimum deductible
                            (not yet met this year, capped by OOP remaining);
                            the wallet covers the rest up to its balance.

  3. Deductible accumulation
     deductible -> copay or coinsurance -> OOP cap -> HRA -> wallet.
     A negative beginning balance is paid down first (see negative.go).

ROUNDING:
  Coinsurance and ratio rescaling round half away from zero to the cent.
  Amounts are never negative, so this is round-half-up.
*/
package costbreakdown

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// HDHP THRESHOLDS
// =============================================================================

// Threshold is the IRS minimum annual deductible for an HDHP, in cents.
type Threshold struct {
	Individual int64
	Family     int64
}

// HDHPThresholds maps plan year to its threshold.
type HDHPThresholds map[int]Threshold

func DefaultHDHPThresholds() HDHPThresholds {
	return HDHPThresholds{
		2024: {Individual: 160000, Family: 320000},
		2025: {Individual: 165000, Family: 330000},
		2026: {Individual: 170000, Family: 340000},
	}
}

// For returns the threshold for year. Years outside the table use the
// nearest configured year.
func (t HDHPThresholds) For(year int, planType eligibility.PlanType) int64 {
	if len(t) == 0 {
		return 0
	}
	th, ok := t[year]
	if !ok {
		years := make([]int, 0, len(t))
		for y := range t {
			years = append(years, y)
		}
		sort.Ints(years)
		th = t[years[0]]
		for _, y := range years {
			if y <= year {
				th = t[y]
			}
		}
	}
	if planType == eligibility.PlanTypeFamily {
		return th.Family
	}
	return th.Individual
}

// =============================================================================
// INPUT
// =============================================================================

// Input is everything the calculator reads.
type Input struct {
	Cost                          int64
	WalletBalance                 int64
	DeductibleAccumulationEnabled bool
	ProcedureType                 wallet.ProcedureType
	CostSharingCategory           eligibility.CostSharingCategory
	MemberHealthPlan              *eligibility.MemberHealthPlan

	// Snapshot is required whenever WillRunEligibilityInfo is true.
	Snapshot *eligibility.Snapshot

	DeductibleAccumulationYTD eligibility.DeductibleAccumulationYTDInfo
	HDHPYTD                   eligibility.HDHPAccumulationYTDInfo

	// AsOf selects the HDHP threshold year.
	AsOf time.Time
}

// WillRunEligibilityInfo reports whether pricing needs an eligibility
// snapshot: the member has a plan and the wallet accumulates deductible or
// the plan is an HDHP.
func WillRunEligibilityInfo(deductibleAccumulationEnabled bool, plan *eligibility.MemberHealthPlan) bool {
	if plan == nil {
		return false
	}
	return deductibleAccumulationEnabled || plan.EmployerHealthPlan.IsHDHP
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	thresholds HDHPThresholds
}

func NewCalculator(thresholds HDHPThresholds) *Calculator {
	if thresholds == nil {
		thresholds = DefaultHDHPThresholds()
	}
	return &Calculator{thresholds: thresholds}
}

// Compute prices one procedure.
func (c *Calculator) Compute(in Input) (Data, error) {
	if in.Cost < 0 {
		return Data{}, ErrNegativeCost
	}

	if !WillRunEligibilityInfo(in.DeductibleAccumulationEnabled, in.MemberHealthPlan) {
		if in.DeductibleAccumulationEnabled {
			return Data{}, ErrMemberHealthPlanRequired
		}
		return fullyCovered(in), nil
	}

	if in.Snapshot == nil {
		return Data{}, ErrEligibilityRequired
	}
	planType := in.MemberHealthPlan.PlanType
	if in.Snapshot.Source == eligibility.SourceRTE {
		if err := eligibility.ValidateRealTimeEligibility(in.Snapshot.Info, planType); err != nil {
			return Data{}, err
		}
	}

	var data Data
	if in.DeductibleAccumulationEnabled {
		data = c.deductibleAccumulation(in)
	} else {
		data = c.hdhp(in)
	}
	data.RTETransactionID = in.Snapshot.RTETransactionID
	return data, nil
}

// =============================================================================
// FULLY COVERED
// =============================================================================

func fullyCovered(in Input) Data {
	amountType := AmountIndividual
	if in.MemberHealthPlan != nil {
		amountType = amountTypeFor(in.MemberHealthPlan.PlanType)
	}
	d := walletOnly(in.Cost, in.WalletBalance)
	d.AmountType = amountType
	return d
}

// walletOnly charges cost to the wallet and leaves the shortfall to the
// member.
func walletOnly(cost, balance int64) Data {
	employer := min(cost, max(balance, 0))
	member := cost - employer
	return Data{
		TotalMemberResponsibility:   member,
		TotalEmployerResponsibility: employer,
		BeginningWalletBalance:      balance,
		EndingWalletBalance:         balance - employer,
		CostBreakdownType:           TypeFirstDollarCoverage,
		OverageAmount:               member,
	}
}

// =============================================================================
// HDHP
// =============================================================================

func (c *Calculator) hdhp(in Input) Data {
	plan := in.MemberHealthPlan
	planType := plan.PlanType
	info := in.Snapshot.Info.ApplyHDHPYTD(in.HDHPYTD)
	oopRemaining := info.OOPRemaining(planType)

	if oopRemaining == 0 {
		d := walletOnly(in.Cost, in.WalletBalance)
		d.AmountType = amountTypeFor(planType)
		d.DeductibleRemaining = info.DeductibleRemaining(planType)
		return d
	}

	threshold := c.thresholds.For(in.AsOf.Year(), planType)
	sequential := in.HDHPYTD.SequentialMemberResponsibilities
	if planType == eligibility.PlanTypeFamily {
		sequential = in.HDHPYTD.SequentialFamilyResponsibilities
	}
	thresholdRemaining := max(threshold-deductibleSpent(info, planType)-sequential, 0)
	deductibleRemaining := min(thresholdRemaining, oopRemaining)

	deductible := min(in.Cost, deductibleRemaining)
	planPortion := in.Cost - deductible
	employer := min(planPortion, max(in.WalletBalance, 0))
	overage := planPortion - employer

	d := Data{
		TotalMemberResponsibility:   deductible + overage,
		TotalEmployerResponsibility: employer,
		BeginningWalletBalance:      in.WalletBalance,
		EndingWalletBalance:         in.WalletBalance - employer,
		CostBreakdownType:           TypeHDHP,
		AmountType:                  amountTypeFor(planType),
		Deductible:                  deductible,
		DeductibleRemaining:         deductibleRemaining - deductible,
		OverageAmount:               overage,
		OOPApplied:                  deductible,
		OOPRemaining:                oopRemaining - deductible,
	}
	if planType == eligibility.PlanTypeFamily {
		d.FamilyDeductibleRemaining = max(eligibility.ValueOr(info.FamilyDeductibleRemaining, deductibleRemaining)-deductible, 0)
		d.FamilyOOPRemaining = max(eligibility.ValueOr(info.FamilyOOPRemaining, oopRemaining)-deductible, 0)
	}
	return d
}

// deductibleSpent is how much of the plan deductible the payer has already
// seen, when it reports both the total and the remaining.
func deductibleSpent(info eligibility.Info, planType eligibility.PlanType) int64 {
	total, remaining := info.IndividualDeductible, info.IndividualDeductibleRemaining
	if planType == eligibility.PlanTypeFamily {
		total, remaining = info.FamilyDeductible, info.FamilyDeductibleRemaining
	}
	if total == nil || remaining == nil {
		return 0
	}
	return max(*total-*remaining, 0)
}

// =============================================================================
// DEDUCTIBLE ACCUMULATION
// =============================================================================

func (c *Calculator) deductibleAccumulation(in Input) Data {
	plan := in.MemberHealthPlan
	info := in.Snapshot.Info.ApplyDeductibleAccumulationYTD(in.DeductibleAccumulationYTD)

	if in.WalletBalance >= 0 {
		return waterfall(in.Cost, in.WalletBalance, plan, info)
	}

	// Price the debt together with the procedure against an empty wallet,
	// then scale the result back down to what this procedure can carry.
	debt := -in.WalletBalance
	d := waterfall(in.Cost+debt, 0, plan, info)
	return RescaleForNegativeBalance(d, in.WalletBalance)
}

func waterfall(cost, balance int64, plan *eligibility.MemberHealthPlan, info eligibility.Info) Data {
	planType := plan.PlanType
	dedRemaining := info.DeductibleRemaining(planType)
	oopRemaining := info.OOPRemaining(planType)

	deductible := min(cost, dedRemaining, oopRemaining)
	afterDeductible := cost - deductible

	var copay, coinsurance int64
	switch {
	case info.Copay != nil:
		copay = min(*info.Copay, afterDeductible)
	case info.Coinsurance != nil:
		coinsurance = coinsuranceAmount(afterDeductible, info)
	}

	// OOP max caps everything the member owes through the plan.
	shareCap := oopRemaining - deductible
	copay = min(copay, shareCap)
	coinsurance = min(coinsurance, shareCap-copay)
	member := deductible + copay + coinsurance

	var hra int64
	if plan.EmployerHealthPlan.HRAEnabled && info.HRARemaining != nil {
		hra = min(member, max(*info.HRARemaining, 0))
	}

	planPortion := cost - member
	employerWallet := min(planPortion, balance)
	overage := planPortion - employerWallet

	d := Data{
		TotalMemberResponsibility:   member + overage,
		TotalEmployerResponsibility: employerWallet + hra,
		BeginningWalletBalance:      balance,
		EndingWalletBalance:         balance - employerWallet,
		CostBreakdownType:           TypeDeductibleAccumulation,
		AmountType:                  amountTypeFor(planType),
		Deductible:                  deductible,
		DeductibleRemaining:         max(remainingFor(info.IndividualDeductibleRemaining, dedRemaining)-deductible, 0),
		Coinsurance:                 coinsurance,
		Copay:                       copay,
		OverageAmount:               overage,
		OOPApplied:                  member,
		OOPRemaining:                max(remainingFor(info.IndividualOOPRemaining, oopRemaining)-member, 0),
		HRAApplied:                  hra,
	}
	if planType == eligibility.PlanTypeFamily {
		d.FamilyDeductibleRemaining = max(remainingFor(info.FamilyDeductibleRemaining, dedRemaining)-deductible, 0)
		d.FamilyOOPRemaining = max(remainingFor(info.FamilyOOPRemaining, oopRemaining)-member, 0)
	}
	return d
}

func remainingFor(reported *int64, effective int64) int64 {
	return eligibility.ValueOr(reported, effective)
}

// coinsuranceAmount applies the coinsurance rate to amount, clamped to the
// configured min/max and never more than amount itself.
func coinsuranceAmount(amount int64, info eligibility.Info) int64 {
	if amount <= 0 {
		return 0
	}
	v := decimal.NewFromInt(amount).Mul(*info.Coinsurance).Round(0).IntPart()
	if info.CoinsuranceMin != nil && v < *info.CoinsuranceMin {
		v = *info.CoinsuranceMin
	}
	if info.CoinsuranceMax != nil && v > *info.CoinsuranceMax {
		v = *info.CoinsuranceMax
	}
	return min(max(v, 0), amount)
}
