/*
negative.go - Negative wallet balance correction

PURPOSE:
  A negative wallet balance is money the member already owes us from an
  earlier under-collection. It is paid down before this procedure earns
  any new deductible or OOP credit.

ALGORITHM:
  The calculator prices cost + |balance| against an empty wallet, then
  calls RescaleForNegativeBalance. With

    total  = member + employer - hra   (the inflated cost)
    target = max(total - |balance|, 0) (the real cost)
    ratio  = target / total

  every amount is multiplied by ratio and rounded half-up to the cent.
  Employer responsibility is re-derived from the rescaled member share so
  the conservation invariant still holds against target. Remaining
  accumulators get back whatever the rescale took off the applied amounts.
  The wallet stays where it was: ending = min(beginning, 0).

EXAMPLE:
  beginning -500, cost 100, priced as 600:
    deductible 600, oop 600, member 600, copay 200, overage 600
  ratio 100/600:
    deductible 100, oop 100, member 100, copay 100, overage 100, ending -500
*/
package costbreakdown

import "github.com/shopspring/decimal"

// RescaleForNegativeBalance scales d, priced against cost + |beginning|,
// back down to the procedure cost. It is a no-op for non-negative balances.
func RescaleForNegativeBalance(d Data, beginning int64) Data {
	if beginning >= 0 {
		return d
	}
	debt := -beginning

	out := d
	out.BeginningWalletBalance = beginning
	out.EndingWalletBalance = min(beginning, 0)

	total := d.TotalMemberResponsibility + d.TotalEmployerResponsibility - d.HRAApplied
	if total <= 0 {
		return out
	}
	target := max(total-debt, 0)
	ratio := decimal.NewFromInt(target).Div(decimal.NewFromInt(total))
	scale := func(v int64) int64 {
		return decimal.NewFromInt(v).Mul(ratio).Round(0).IntPart()
	}

	out.Deductible = scale(d.Deductible)
	out.OOPApplied = scale(d.OOPApplied)
	out.OverageAmount = scale(d.OverageAmount)
	out.HRAApplied = scale(d.HRAApplied)
	out.TotalMemberResponsibility = scale(d.TotalMemberResponsibility)
	out.TotalEmployerResponsibility = max(target-out.TotalMemberResponsibility+out.HRAApplied, 0)
	out.Copay = min(d.Copay, out.TotalMemberResponsibility)
	out.Coinsurance = min(d.Coinsurance, out.TotalMemberResponsibility)

	dedReturned := d.Deductible - out.Deductible
	oopReturned := d.OOPApplied - out.OOPApplied
	out.DeductibleRemaining = d.DeductibleRemaining + dedReturned
	out.OOPRemaining = d.OOPRemaining + oopReturned
	if d.AmountType == AmountFamily {
		out.FamilyDeductibleRemaining = d.FamilyDeductibleRemaining + dedReturned
		out.FamilyOOPRemaining = d.FamilyOOPRemaining + oopReturned
	}
	return out
}
