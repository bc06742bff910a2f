/*
Package eligibility describes a member's accumulator state against a health plan.

PURPOSE:
  Everything the cost breakdown calculator needs to know about "where the
  member stands" for the plan year: how much deductible and out-of-pocket
  (OOP) is left, individually and for the family, what coinsurance or copay
  applies, and how much HRA money remains.

KEY CONCEPTS IN THIS FILE (types.go):
  - Info: immutable accumulator snapshot as of a point in time
  - Source: where the snapshot came from (real-time eligibility or plan config)

SOURCES:
  1. RTE (real-time eligibility): a live payer lookup. Comes with a
     transaction id that is persisted on the cost breakdown.
  2. Plan cost-sharing (payer not integrated): built from the employer
     plan's configured limits minus the externally reported year-to-date
     spend. No transaction id.

AMOUNTS:
  All money is int64 cents. Percentages (coinsurance) are decimal fractions:
  0.2 means 20%. A nil pointer means "the payer did not report this field",
  which is different from zero.

SEE ALSO:
  - plan.go: health plan model
  - sequential.go: year-to-date adjustments for not-yet-reconciled procedures
  - validate.go: required fields for RTE snapshots
*/
package eligibility

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SOURCE
// =============================================================================

type Source string

const (
	SourceRTE             Source = "rte"
	SourcePlanCostSharing Source = "plan_cost_sharing"
)

// =============================================================================
// INFO - Accumulator snapshot
// =============================================================================

// Info is a value type. Methods that adjust it return a modified copy.
type Info struct {
	IndividualDeductible          *int64
	IndividualDeductibleRemaining *int64
	FamilyDeductible              *int64
	FamilyDeductibleRemaining     *int64
	IndividualOOP                 *int64
	IndividualOOPRemaining        *int64
	FamilyOOP                     *int64
	FamilyOOPRemaining            *int64

	Coinsurance    *decimal.Decimal
	CoinsuranceMin *int64
	CoinsuranceMax *int64
	Copay          *int64
	HRARemaining   *int64

	IsDeductibleEmbedded bool
	IsOOPEmbedded        bool
}

// Snapshot is an Info together with its provenance.
type Snapshot struct {
	Info             Info
	Source           Source
	RTETransactionID *int64
}

// Cents returns a pointer to v. Used to build snapshots in code and tests.
func Cents(v int64) *int64 { return &v }

// Percent returns a pointer to the decimal fraction for pct (20 -> 0.2).
func Percent(pct int64) *decimal.Decimal {
	d := decimal.NewFromInt(pct).Div(decimal.NewFromInt(100))
	return &d
}

// ValueOr dereferences p, or returns def when p is nil.
func ValueOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

// Clone returns a deep copy so adjustments never alias the original.
func (i Info) Clone() Info {
	c := i
	c.IndividualDeductible = clonePtr(i.IndividualDeductible)
	c.IndividualDeductibleRemaining = clonePtr(i.IndividualDeductibleRemaining)
	c.FamilyDeductible = clonePtr(i.FamilyDeductible)
	c.FamilyDeductibleRemaining = clonePtr(i.FamilyDeductibleRemaining)
	c.IndividualOOP = clonePtr(i.IndividualOOP)
	c.IndividualOOPRemaining = clonePtr(i.IndividualOOPRemaining)
	c.FamilyOOP = clonePtr(i.FamilyOOP)
	c.FamilyOOPRemaining = clonePtr(i.FamilyOOPRemaining)
	c.CoinsuranceMin = clonePtr(i.CoinsuranceMin)
	c.CoinsuranceMax = clonePtr(i.CoinsuranceMax)
	c.Copay = clonePtr(i.Copay)
	c.HRARemaining = clonePtr(i.HRARemaining)
	if i.Coinsurance != nil {
		d := *i.Coinsurance
		c.Coinsurance = &d
	}
	return c
}

// DeductibleRemaining is the deductible still owed for the plan type.
// Family plans with an embedded deductible stop at whichever of the
// individual or family remaining is reached first.
func (i Info) DeductibleRemaining(planType PlanType) int64 {
	if planType == PlanTypeFamily {
		family := ValueOr(i.FamilyDeductibleRemaining, 0)
		if i.IsDeductibleEmbedded && i.IndividualDeductibleRemaining != nil {
			return min(family, *i.IndividualDeductibleRemaining)
		}
		return family
	}
	return ValueOr(i.IndividualDeductibleRemaining, 0)
}

// OOPRemaining is the out-of-pocket still owed for the plan type.
func (i Info) OOPRemaining(planType PlanType) int64 {
	if planType == PlanTypeFamily {
		family := ValueOr(i.FamilyOOPRemaining, 0)
		if i.IsOOPEmbedded && i.IndividualOOPRemaining != nil {
			return min(family, *i.IndividualOOPRemaining)
		}
		return family
	}
	return ValueOr(i.IndividualOOPRemaining, 0)
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
