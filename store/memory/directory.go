package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/reimbursement"
)

// =============================================================================
// DIRECTORY - Reference data the engine reads but never writes
// =============================================================================

// Directory holds health plans, payers, YTD spend, clinics, members and
// global procedures. It satisfies the eligibility repositories and the
// reimbursement directories.
type Directory struct {
	mu         sync.RWMutex
	plans      map[int64][]eligibility.MemberHealthPlan
	payers     map[int64]eligibility.Payer
	spend      map[int64]eligibility.YTDSpend
	clinics    map[int64]reimbursement.Clinic
	members    map[int64]reimbursement.Member
	procedures map[string]reimbursement.GlobalProcedure
}

func NewDirectory() *Directory {
	return &Directory{
		plans:      make(map[int64][]eligibility.MemberHealthPlan),
		payers:     make(map[int64]eligibility.Payer),
		spend:      make(map[int64]eligibility.YTDSpend),
		clinics:    make(map[int64]reimbursement.Clinic),
		members:    make(map[int64]reimbursement.Member),
		procedures: make(map[string]reimbursement.GlobalProcedure),
	}
}

func (d *Directory) PutMemberHealthPlan(p eligibility.MemberHealthPlan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	plans := append(d.plans[p.MemberID], p)
	sort.Slice(plans, func(i, j int) bool { return plans[i].PlanStartAt.Before(plans[j].PlanStartAt) })
	d.plans[p.MemberID] = plans
}

func (d *Directory) PutPayer(p eligibility.Payer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payers[p.ID] = p
}

// PutYTDSpend records externally reported spend for a member health plan.
func (d *Directory) PutYTDSpend(memberHealthPlanID int64, s eligibility.YTDSpend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spend[memberHealthPlanID] = s
}

func (d *Directory) PutClinic(c reimbursement.Clinic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clinics[c.ID] = c
}

func (d *Directory) PutMember(m reimbursement.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

func (d *Directory) PutGlobalProcedure(p reimbursement.GlobalProcedure) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.procedures[p.ID] = p
}

// =============================================================================
// eligibility.HealthPlanRepository
// =============================================================================

// MemberHealthPlanAsOf returns the latest plan active at asOf.
func (d *Directory) MemberHealthPlanAsOf(_ context.Context, memberID int64, asOf time.Time) (eligibility.MemberHealthPlan, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	plans := d.plans[memberID]
	for i := len(plans) - 1; i >= 0; i-- {
		if plans[i].ActiveAt(asOf) {
			return plans[i], nil
		}
	}
	return eligibility.MemberHealthPlan{}, eligibility.ErrMemberHealthPlanNotFound
}

// FamilyMemberIDs returns members sharing the subscriber insurance id on
// the same employer plan.
func (d *Directory) FamilyMemberIDs(_ context.Context, plan eligibility.MemberHealthPlan) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[int64]bool{plan.MemberID: true}
	ids := []int64{plan.MemberID}
	for memberID, plans := range d.plans {
		if seen[memberID] {
			continue
		}
		for _, p := range plans {
			if p.SubscriberInsuranceID == plan.SubscriberInsuranceID &&
				p.EmployerHealthPlan.ID == plan.EmployerHealthPlan.ID {
				seen[memberID] = true
				ids = append(ids, memberID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// =============================================================================
// eligibility.PayerRepository / YTDSpendRepository
// =============================================================================

func (d *Directory) GetPayer(_ context.Context, id int64) (eligibility.Payer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.payers[id]
	if !ok {
		return eligibility.Payer{}, eligibility.ErrPayerNotFound
	}
	return p, nil
}

func (d *Directory) PayerByCode(_ context.Context, code string) (eligibility.Payer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.payers {
		if p.Code == code {
			return p, nil
		}
	}
	return eligibility.Payer{}, eligibility.ErrPayerNotFound
}

// YTDSpend returns zero spend when nothing was reported.
func (d *Directory) YTDSpend(_ context.Context, plan eligibility.MemberHealthPlan, _ time.Time) (eligibility.YTDSpend, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spend[plan.ID], nil
}

// =============================================================================
// reimbursement directories
// =============================================================================

func (d *Directory) GetClinic(_ context.Context, id int64) (reimbursement.Clinic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clinics[id]
	if !ok {
		return reimbursement.Clinic{}, reimbursement.ErrClinicNotFound
	}
	return c, nil
}

func (d *Directory) GetMember(_ context.Context, id int64) (reimbursement.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	if !ok {
		return reimbursement.Member{}, reimbursement.ErrMemberNotFound
	}
	return m, nil
}

func (d *Directory) GetProcedureByID(_ context.Context, id string) (reimbursement.GlobalProcedure, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.procedures[id]
	if !ok {
		return reimbursement.GlobalProcedure{}, reimbursement.ErrProcedureNotFound
	}
	return p, nil
}

// =============================================================================
// RTE - Canned real-time eligibility responses
// =============================================================================

type rteResponse struct {
	info          eligibility.Info
	transactionID int64
	err           error
}

// RTE answers eligibility lookups from canned responses keyed by member
// health plan id. Plans without a response are treated as not integrated.
type RTE struct {
	mu        sync.RWMutex
	responses map[int64]rteResponse
}

func NewRTE() *RTE {
	return &RTE{responses: make(map[int64]rteResponse)}
}

func (r *RTE) Put(memberHealthPlanID int64, info eligibility.Info, transactionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[memberHealthPlanID] = rteResponse{info: info, transactionID: transactionID}
}

// Fail makes lookups for the plan return err.
func (r *RTE) Fail(memberHealthPlanID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[memberHealthPlanID] = rteResponse{err: err}
}

func (r *RTE) EligibilityInfo(_ context.Context, plan eligibility.MemberHealthPlan, _ time.Time) (eligibility.Info, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resp, ok := r.responses[plan.ID]
	if !ok {
		return eligibility.Info{}, 0, eligibility.ErrRTEUnavailable
	}
	if resp.err != nil {
		return eligibility.Info{}, 0, resp.err
	}
	return resp.info.Clone(), resp.transactionID, nil
}
