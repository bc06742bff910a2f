/*
sequential.go - Year-to-date adjustments for procedures the payer hasn't seen yet

PURPOSE:
  An RTE snapshot only reflects claims the payer has already processed.
  Procedures we priced earlier in the same batch (or that are still waiting
  for the accumulator file round trip) have consumed deductible and OOP the
  payer doesn't know about. Before pricing a new procedure we subtract
  those sequential amounts from the snapshot's remaining fields.

INVARIANT:
  Remaining amounts never go below zero. A zero adjustment reproduces the
  snapshot unchanged.
*/
package eligibility

// DeductibleAccumulationYTDInfo sums deductible/OOP applied by earlier,
// not-yet-reconciled cost breakdowns on a deductible accumulation wallet.
type DeductibleAccumulationYTDInfo struct {
	IndividualDeductibleApplied int64
	IndividualOOPApplied        int64
	FamilyDeductibleApplied     int64
	FamilyOOPApplied            int64
}

// HDHPAccumulationYTDInfo sums member responsibility already assigned on an
// HDHP plan, individually and across the family.
type HDHPAccumulationYTDInfo struct {
	SequentialMemberResponsibilities int64
	SequentialFamilyResponsibilities int64
}

func (y DeductibleAccumulationYTDInfo) IsZero() bool {
	return y == DeductibleAccumulationYTDInfo{}
}

// ApplyDeductibleAccumulationYTD returns a copy of i with the sequential
// amounts subtracted from every reported remaining field.
func (i Info) ApplyDeductibleAccumulationYTD(ytd DeductibleAccumulationYTDInfo) Info {
	out := i.Clone()
	out.IndividualDeductibleRemaining = subtractFloor(out.IndividualDeductibleRemaining, ytd.IndividualDeductibleApplied)
	out.IndividualOOPRemaining = subtractFloor(out.IndividualOOPRemaining, ytd.IndividualOOPApplied)
	out.FamilyDeductibleRemaining = subtractFloor(out.FamilyDeductibleRemaining, ytd.FamilyDeductibleApplied)
	out.FamilyOOPRemaining = subtractFloor(out.FamilyOOPRemaining, ytd.FamilyOOPApplied)
	return out
}

// ApplyHDHPYTD returns a copy of i with sequential HDHP responsibility
// subtracted from the OOP remaining fields.
func (i Info) ApplyHDHPYTD(ytd HDHPAccumulationYTDInfo) Info {
	out := i.Clone()
	out.IndividualOOPRemaining = subtractFloor(out.IndividualOOPRemaining, ytd.SequentialMemberResponsibilities)
	out.FamilyOOPRemaining = subtractFloor(out.FamilyOOPRemaining, ytd.SequentialFamilyResponsibilities)
	return out
}

func subtractFloor(p *int64, amount int64) *int64 {
	if p == nil {
		return nil
	}
	v := max(*p-amount, 0)
	return &v
}
