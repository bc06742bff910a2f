package eligibility

// ValidateRealTimeEligibility checks that an RTE snapshot carries the fields
// the calculator reads for planType. Plan cost-sharing snapshots are built
// by FromPlanCostSharing and never need this.
func ValidateRealTimeEligibility(info Info, planType PlanType) error {
	switch planType {
	case PlanTypeFamily:
		if info.FamilyDeductibleRemaining == nil {
			return &MissingAccumulatorError{PlanType: planType, Field: "family_deductible_remaining"}
		}
		if info.FamilyOOPRemaining == nil {
			return &MissingAccumulatorError{PlanType: planType, Field: "family_oop_remaining"}
		}
		if info.IsDeductibleEmbedded && info.IndividualDeductibleRemaining == nil {
			return &MissingAccumulatorError{PlanType: planType, Field: "individual_deductible_remaining"}
		}
		if info.IsOOPEmbedded && info.IndividualOOPRemaining == nil {
			return &MissingAccumulatorError{PlanType: planType, Field: "individual_oop_remaining"}
		}
	default:
		if info.IndividualDeductibleRemaining == nil {
			return &MissingAccumulatorError{PlanType: PlanTypeIndividual, Field: "individual_deductible_remaining"}
		}
		if info.IndividualOOPRemaining == nil {
			return &MissingAccumulatorError{PlanType: PlanTypeIndividual, Field: "individual_oop_remaining"}
		}
	}
	return nil
}
