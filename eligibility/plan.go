package eligibility

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

type PlanType string

const (
	PlanTypeIndividual PlanType = "INDIVIDUAL"
	PlanTypeFamily     PlanType = "FAMILY"
)

// Tier selects a coverage row on tiered plans. Nil means untiered.
type Tier int

const (
	TierPremium   Tier = 1
	TierSecondary Tier = 2
)

type CoverageType string

const (
	CoverageMedical CoverageType = "MEDICAL"
	CoverageRx      CoverageType = "RX"
)

type CostSharingCategory string

const (
	CategoryConsultation           CostSharingCategory = "CONSULTATION"
	CategoryMedicalCare            CostSharingCategory = "MEDICAL_CARE"
	CategoryDiagnosticMedical      CostSharingCategory = "DIAGNOSTIC_MEDICAL"
	CategoryGenericPrescriptions   CostSharingCategory = "GENERIC_PRESCRIPTIONS"
	CategorySpecialtyPrescriptions CostSharingCategory = "SPECIALTY_PRESCRIPTIONS"
)

type CostSharingType string

const (
	CostSharingCopay          CostSharingType = "COPAY"
	CostSharingCoinsurance    CostSharingType = "COINSURANCE"
	CostSharingCoinsuranceMin CostSharingType = "COINSURANCE_MIN"
	CostSharingCoinsuranceMax CostSharingType = "COINSURANCE_MAX"
)

// =============================================================================
// PAYER / PLANS
// =============================================================================

type Payer struct {
	ID   int64
	Code string
	Name string
}

type Coverage struct {
	PlanType             PlanType
	Tier                 *Tier
	CoverageType         CoverageType
	IndividualDeductible int64
	IndividualOOP        int64
	FamilyDeductible     int64
	FamilyOOP            int64
	IsDeductibleEmbedded bool
	IsOOPEmbedded        bool
}

type CostSharing struct {
	Category CostSharingCategory
	Type     CostSharingType
	Absolute *int64
	Percent  *decimal.Decimal
}

type EmployerHealthPlan struct {
	ID              int64
	Name            string
	BenefitsPayerID *int64
	GroupID         string
	RxIntegrated    bool
	IsHDHP          bool
	HRAEnabled      bool
	StartDate       time.Time
	EndDate         time.Time
	Coverages       []Coverage
	CostSharings    []CostSharing
}

// CoverageFor finds the coverage row matching plan type, tier and coverage
// type. When no exact tier match exists the first row of the right plan and
// coverage type is used.
func (p EmployerHealthPlan) CoverageFor(planType PlanType, tier *Tier, coverageType CoverageType) (Coverage, bool) {
	var fallback *Coverage
	for i := range p.Coverages {
		c := p.Coverages[i]
		if c.PlanType != planType || c.CoverageType != coverageType {
			continue
		}
		if tier == nil && c.Tier == nil {
			return c, true
		}
		if tier != nil && c.Tier != nil && *tier == *c.Tier {
			return c, true
		}
		if fallback == nil && (tier == nil || c.Tier == nil) {
			fallback = &p.Coverages[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Coverage{}, false
}

// CostSharingsFor returns the cost sharing entries configured for category.
func (p EmployerHealthPlan) CostSharingsFor(category CostSharingCategory) []CostSharing {
	var out []CostSharing
	for _, cs := range p.CostSharings {
		if cs.Category == category {
			out = append(out, cs)
		}
	}
	return out
}

type MemberHealthPlan struct {
	ID                    int64
	MemberID              int64
	EmployerHealthPlan    EmployerHealthPlan
	SubscriberInsuranceID string
	PatientFirstName      string
	PatientLastName       string
	PatientDateOfBirth    time.Time
	PatientSex            string // "M", "F" or "U"
	PatientRelationship   string // "cardholder", "spouse", "child", "other"
	PlanType              PlanType
	PlanStartAt           time.Time
	PlanEndAt             *time.Time
	IsSubscriber          bool
}

// ActiveAt reports whether the plan covers t.
func (m MemberHealthPlan) ActiveAt(t time.Time) bool {
	if t.Before(m.PlanStartAt) {
		return false
	}
	return m.PlanEndAt == nil || !t.After(*m.PlanEndAt)
}

// PlanYear returns the calendar plan year containing asOf, clipped to the
// employer plan dates.
func (m MemberHealthPlan) PlanYear(asOf time.Time) (time.Time, time.Time) {
	start := time.Date(asOf.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(asOf.Year(), time.December, 31, 23, 59, 59, 0, time.UTC)
	if !m.EmployerHealthPlan.StartDate.IsZero() && m.EmployerHealthPlan.StartDate.After(start) {
		start = m.EmployerHealthPlan.StartDate
	}
	if !m.EmployerHealthPlan.EndDate.IsZero() && m.EmployerHealthPlan.EndDate.Before(end) {
		end = m.EmployerHealthPlan.EndDate
	}
	return start, end
}
