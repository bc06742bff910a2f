package eligibility_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/eligibility"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func individualInfo() eligibility.Info {
	return eligibility.Info{
		IndividualDeductible:          eligibility.Cents(150000),
		IndividualDeductibleRemaining: eligibility.Cents(50000),
		IndividualOOP:                 eligibility.Cents(400000),
		IndividualOOPRemaining:        eligibility.Cents(300000),
		Coinsurance:                   eligibility.Percent(20),
	}
}

func familyInfo() eligibility.Info {
	return eligibility.Info{
		IndividualDeductibleRemaining: eligibility.Cents(50000),
		IndividualOOPRemaining:        eligibility.Cents(300000),
		FamilyDeductibleRemaining:     eligibility.Cents(120000),
		FamilyOOPRemaining:            eligibility.Cents(600000),
		IsDeductibleEmbedded:          true,
		IsOOPEmbedded:                 true,
	}
}

// =============================================================================
// SEQUENTIAL ADJUSTMENT TESTS
// =============================================================================

func TestApplyDeductibleAccumulationYTD_Zero_Unchanged(t *testing.T) {
	info := individualInfo()

	adjusted := info.ApplyDeductibleAccumulationYTD(eligibility.DeductibleAccumulationYTDInfo{})

	assert.Equal(t, info, adjusted)
}

func TestApplyDeductibleAccumulationYTD_FullDeductible(t *testing.T) {
	// GIVEN: 500.00 deductible remaining, 3000.00 OOP remaining
	// WHEN: an earlier procedure already applied the whole remaining deductible
	// THEN: deductible remaining is zero and OOP drops by the same amount
	info := individualInfo()

	adjusted := info.ApplyDeductibleAccumulationYTD(eligibility.DeductibleAccumulationYTDInfo{
		IndividualDeductibleApplied: 50000,
		IndividualOOPApplied:        50000,
	})

	assert.Equal(t, int64(0), *adjusted.IndividualDeductibleRemaining)
	assert.Equal(t, int64(250000), *adjusted.IndividualOOPRemaining)
	// original snapshot is untouched
	assert.Equal(t, int64(50000), *info.IndividualDeductibleRemaining)
}

func TestApplyDeductibleAccumulationYTD_NeverNegative(t *testing.T) {
	info := individualInfo()

	adjusted := info.ApplyDeductibleAccumulationYTD(eligibility.DeductibleAccumulationYTDInfo{
		IndividualDeductibleApplied: 90000,
		IndividualOOPApplied:        900000,
	})

	assert.Equal(t, int64(0), *adjusted.IndividualDeductibleRemaining)
	assert.Equal(t, int64(0), *adjusted.IndividualOOPRemaining)
}

func TestApplyDeductibleAccumulationYTD_MissingFieldsStayMissing(t *testing.T) {
	info := individualInfo()

	adjusted := info.ApplyDeductibleAccumulationYTD(eligibility.DeductibleAccumulationYTDInfo{
		FamilyDeductibleApplied: 100,
	})

	assert.Nil(t, adjusted.FamilyDeductibleRemaining)
}

func TestApplyHDHPYTD(t *testing.T) {
	info := familyInfo()

	adjusted := info.ApplyHDHPYTD(eligibility.HDHPAccumulationYTDInfo{
		SequentialMemberResponsibilities: 100000,
		SequentialFamilyResponsibilities: 250000,
	})

	assert.Equal(t, int64(200000), *adjusted.IndividualOOPRemaining)
	assert.Equal(t, int64(350000), *adjusted.FamilyOOPRemaining)
}

// =============================================================================
// REMAINING BY PLAN TYPE
// =============================================================================

func TestRemaining_FamilyEmbedded_UsesLowerOfIndividualAndFamily(t *testing.T) {
	info := familyInfo()

	assert.Equal(t, int64(50000), info.DeductibleRemaining(eligibility.PlanTypeFamily))
	assert.Equal(t, int64(300000), info.OOPRemaining(eligibility.PlanTypeFamily))

	info.IsDeductibleEmbedded = false
	assert.Equal(t, int64(120000), info.DeductibleRemaining(eligibility.PlanTypeFamily))
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidateRealTimeEligibility(t *testing.T) {
	tests := []struct {
		name     string
		planType eligibility.PlanType
		mutate   func(*eligibility.Info)
		want     error
	}{
		{
			name:     "individual complete",
			planType: eligibility.PlanTypeIndividual,
			mutate:   func(*eligibility.Info) {},
		},
		{
			name:     "individual missing deductible remaining",
			planType: eligibility.PlanTypeIndividual,
			mutate:   func(i *eligibility.Info) { i.IndividualDeductibleRemaining = nil },
			want:     eligibility.ErrNoIndividualDeductibleOopRemaining,
		},
		{
			name:     "individual missing oop remaining",
			planType: eligibility.PlanTypeIndividual,
			mutate:   func(i *eligibility.Info) { i.IndividualOOPRemaining = nil },
			want:     eligibility.ErrNoIndividualDeductibleOopRemaining,
		},
		{
			name:     "family missing family oop",
			planType: eligibility.PlanTypeFamily,
			mutate:   func(i *eligibility.Info) { i.FamilyOOPRemaining = nil },
			want:     eligibility.ErrNoFamilyDeductibleOopRemaining,
		},
		{
			name:     "family embedded missing individual deductible",
			planType: eligibility.PlanTypeFamily,
			mutate:   func(i *eligibility.Info) { i.IndividualDeductibleRemaining = nil },
			want:     eligibility.ErrNoFamilyDeductibleOopRemaining,
		},
		{
			name:     "family non-embedded without individual values",
			planType: eligibility.PlanTypeFamily,
			mutate: func(i *eligibility.Info) {
				i.IsDeductibleEmbedded = false
				i.IsOOPEmbedded = false
				i.IndividualDeductibleRemaining = nil
				i.IndividualOOPRemaining = nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := familyInfo()
			tt.mutate(&info)

			err := eligibility.ValidateRealTimeEligibility(info, tt.planType)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			var missing *eligibility.MissingAccumulatorError
			assert.ErrorAs(t, err, &missing)
		})
	}
}

// =============================================================================
// PLAN COST-SHARING FALLBACK
// =============================================================================

func fallbackPlan() eligibility.MemberHealthPlan {
	return eligibility.MemberHealthPlan{
		ID:       1,
		MemberID: 10,
		PlanType: eligibility.PlanTypeFamily,
		EmployerHealthPlan: eligibility.EmployerHealthPlan{
			ID: 7,
			Coverages: []eligibility.Coverage{
				{
					PlanType:             eligibility.PlanTypeFamily,
					CoverageType:         eligibility.CoverageMedical,
					IndividualDeductible: 100000,
					IndividualOOP:        300000,
					FamilyDeductible:     200000,
					FamilyOOP:            600000,
					IsDeductibleEmbedded: true,
				},
			},
			CostSharings: []eligibility.CostSharing{
				{Category: eligibility.CategoryMedicalCare, Type: eligibility.CostSharingCoinsurance, Percent: eligibility.Percent(10)},
				{Category: eligibility.CategoryMedicalCare, Type: eligibility.CostSharingCoinsuranceMax, Absolute: eligibility.Cents(5000)},
				{Category: eligibility.CategoryConsultation, Type: eligibility.CostSharingCopay, Absolute: eligibility.Cents(2500)},
			},
		},
	}
}

func TestFromPlanCostSharing_RemainingFromSpend(t *testing.T) {
	snap, err := eligibility.FromPlanCostSharing(eligibility.FallbackRequest{
		Plan:     fallbackPlan(),
		Category: eligibility.CategoryMedicalCare,
		Spend: eligibility.YTDSpend{
			IndividualDeductibleSpent: 40000,
			IndividualOOPSpent:        40000,
			FamilyDeductibleSpent:     250000,
			FamilyOOPSpent:            90000,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, eligibility.SourcePlanCostSharing, snap.Source)
	assert.Nil(t, snap.RTETransactionID)
	assert.Equal(t, int64(60000), *snap.Info.IndividualDeductibleRemaining)
	assert.Equal(t, int64(0), *snap.Info.FamilyDeductibleRemaining, "floored at zero")
	assert.Equal(t, int64(510000), *snap.Info.FamilyOOPRemaining)
	assert.True(t, snap.Info.Coinsurance.Equal(*eligibility.Percent(10)))
	assert.Equal(t, int64(5000), *snap.Info.CoinsuranceMax)
	assert.Nil(t, snap.Info.Copay)
	assert.True(t, snap.Info.IsDeductibleEmbedded)
}

func TestFromPlanCostSharing_Copay(t *testing.T) {
	snap, err := eligibility.FromPlanCostSharing(eligibility.FallbackRequest{
		Plan:     fallbackPlan(),
		Category: eligibility.CategoryConsultation,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), *snap.Info.Copay)
	assert.Nil(t, snap.Info.Coinsurance)
}

func TestFromPlanCostSharing_NoCostSharing(t *testing.T) {
	_, err := eligibility.FromPlanCostSharing(eligibility.FallbackRequest{
		Plan:     fallbackPlan(),
		Category: eligibility.CategorySpecialtyPrescriptions,
	})

	assert.ErrorIs(t, err, eligibility.ErrNoCostSharingFound)
	var noCS *eligibility.NoCostSharingFoundError
	require.ErrorAs(t, err, &noCS)
	assert.Equal(t, int64(7), noCS.EmployerHealthPlanID)
	assert.True(t, eligibility.IsValidationError(err))
}

func TestFromPlanCostSharing_NoCoverage(t *testing.T) {
	plan := fallbackPlan()
	plan.PlanType = eligibility.PlanTypeIndividual

	_, err := eligibility.FromPlanCostSharing(eligibility.FallbackRequest{
		Plan:     plan,
		Category: eligibility.CategoryMedicalCare,
	})

	assert.ErrorIs(t, err, eligibility.ErrNoCoverage)
}
