package eligibility

import (
	"context"
	"time"
)

// RTEProvider performs a real-time eligibility lookup. Implementations
// return ErrRTEUnavailable when the payer isn't integrated.
type RTEProvider interface {
	EligibilityInfo(ctx context.Context, plan MemberHealthPlan, asOf time.Time) (Info, int64, error)
}

// HealthPlanRepository resolves plans as of an effective date.
type HealthPlanRepository interface {
	// MemberHealthPlanAsOf returns ErrMemberHealthPlanNotFound when the member
	// has no plan active at asOf.
	MemberHealthPlanAsOf(ctx context.Context, memberID int64, asOf time.Time) (MemberHealthPlan, error)

	// FamilyMemberIDs returns every member sharing the plan's subscriber,
	// including the plan's own member.
	FamilyMemberIDs(ctx context.Context, plan MemberHealthPlan) ([]int64, error)
}

type PayerRepository interface {
	GetPayer(ctx context.Context, id int64) (Payer, error)
}

type YTDSpendRepository interface {
	YTDSpend(ctx context.Context, plan MemberHealthPlan, asOf time.Time) (YTDSpend, error)
}

// UnavailableRTE is an RTEProvider for deployments without an RTE
// integration. Every lookup falls back to plan cost sharing.
type UnavailableRTE struct{}

func (UnavailableRTE) EligibilityInfo(context.Context, MemberHealthPlan, time.Time) (Info, int64, error) {
	return Info{}, 0, ErrRTEUnavailable
}
