package reimbursement_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/credits"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/reimbursement"
	"github.com/warp/benefits-engine/store/memory"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	memberID = int64(100)
	clinicID = int64(3)
	walletID = int64(9)
)

var serviceDate = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

// fakeStore keeps requests and links in memory. Cost breakdowns are
// registered by the test.
type fakeStore struct {
	wallets        map[int64]wallet.Wallet
	costBreakdowns map[int64]costbreakdown.CostBreakdown
	saved          []wallet.LinkedRequest
	nextID         int64
	saveErr        error
}

func newFakeStore(w wallet.Wallet) *fakeStore {
	return &fakeStore{
		wallets:        map[int64]wallet.Wallet{w.ID: w},
		costBreakdowns: map[int64]costbreakdown.CostBreakdown{},
	}
}

func (s *fakeStore) GetWallet(_ context.Context, id int64) (wallet.Wallet, error) {
	w, ok := s.wallets[id]
	if !ok {
		return wallet.Wallet{}, reimbursement.ErrWalletNotFound
	}
	return w, nil
}

func (s *fakeStore) PreviousCostBreakdownWithReimbursementRequests(_ context.Context, procedureUUID uuid.UUID) (*costbreakdown.CostBreakdown, bool, error) {
	ids := make([]int64, 0, len(s.costBreakdowns))
	for id, cb := range s.costBreakdowns {
		if cb.TreatmentProcedureUUID != nil && *cb.TreatmentProcedureUUID == procedureUUID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		linked := s.linked(id)
		if len(linked) == 0 {
			continue
		}
		cb := s.costBreakdowns[id]
		var deductible bool
		for _, lr := range linked {
			deductible = deductible || lr.Link.ClaimType == wallet.ClaimEmployeeDeductible
		}
		return &cb, deductible, nil
	}
	return nil, false, nil
}

func (s *fakeStore) SaveReimbursementRequests(_ context.Context, reqs []wallet.LinkedRequest) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	for i := range reqs {
		s.nextID++
		reqs[i].Request.ID = s.nextID
		reqs[i].Link.ReimbursementRequestID = s.nextID
		s.saved = append(s.saved, reqs[i])
	}
	return nil
}

func (s *fakeStore) LinkedRequestsForCostBreakdown(_ context.Context, costBreakdownID int64) ([]wallet.LinkedRequest, error) {
	return s.linked(costBreakdownID), nil
}

func (s *fakeStore) linked(costBreakdownID int64) []wallet.LinkedRequest {
	var out []wallet.LinkedRequest
	for _, lr := range s.saved {
		if lr.Link.CostBreakdownID == costBreakdownID {
			out = append(out, lr)
		}
	}
	return out
}

type fakeClaims struct {
	submitted []wallet.ReimbursementRequest
	err       error
}

func (c *fakeClaims) CreateDirectPaymentClaim(_ context.Context, _ wallet.Wallet, rr wallet.ReimbursementRequest, _ wallet.ClaimType) error {
	if c.err != nil {
		return c.err
	}
	c.submitted = append(c.submitted, rr)
	return nil
}

type fixture struct {
	engine    *reimbursement.Engine
	store     *fakeStore
	claims    *fakeClaims
	directory *memory.Directory
	ledger    *credits.Ledger
	wallet    wallet.Wallet
}

func newFixture(t *testing.T, w wallet.Wallet, hdhp bool) fixture {
	t.Helper()
	dir := memory.NewDirectory()
	dir.PutClinic(reimbursement.Clinic{ID: clinicID, Name: "Bay Area Fertility"})
	dir.PutMember(reimbursement.Member{ID: memberID, FirstName: "Ada", LastName: "Lovelace"})
	dir.PutGlobalProcedure(reimbursement.GlobalProcedure{ID: "gp-transfer", Name: "Embryo transfer", CostCredit: 4})
	dir.PutMemberHealthPlan(eligibility.MemberHealthPlan{
		ID:                    1,
		MemberID:              memberID,
		EmployerHealthPlan:    eligibility.EmployerHealthPlan{ID: 1, IsHDHP: hdhp},
		SubscriberInsuranceID: "U0000010001",
		PlanType:              eligibility.PlanTypeIndividual,
		PlanStartAt:           time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		IsSubscriber:          true,
	})

	store := newFakeStore(w)
	claims := &fakeClaims{}
	ledger := credits.NewLedger(memory.NewCredits())
	engine := reimbursement.NewEngine(reimbursement.Deps{
		Store:      store,
		Clinics:    dir,
		Members:    dir,
		Plans:      dir,
		Procedures: dir,
		Credits:    ledger,
		Claims:     claims,
	}, zerolog.Nop())
	return fixture{engine: engine, store: store, claims: claims, directory: dir, ledger: ledger, wallet: w}
}

func currencyWallet(deductibleAccumulation bool) wallet.Wallet {
	return wallet.Wallet{
		ID:                            walletID,
		MemberID:                      memberID,
		BenefitType:                   wallet.BenefitCurrency,
		DeductibleAccumulationEnabled: deductibleAccumulation,
		BenefitLimit:                  2500000,
	}
}

func completedProcedure() wallet.TreatmentProcedure {
	clinic := clinicID
	return wallet.TreatmentProcedure{
		ID:                1,
		UUID:              uuid.New(),
		MemberID:          memberID,
		WalletID:          walletID,
		ClinicID:          &clinic,
		GlobalProcedureID: "gp-transfer",
		ProcedureName:     "Embryo transfer",
		Status:            wallet.ProcedureCompleted,
		ProcedureType:     wallet.ProcedureMedical,
		StartDate:         serviceDate,
		Cost:              100000,
	}
}

// price registers a cost breakdown for tp and points tp at it.
func (f fixture) price(tp *wallet.TreatmentProcedure, id, employer, deductible int64) costbreakdown.CostBreakdown {
	procUUID := tp.UUID
	cb := costbreakdown.CostBreakdown{
		ID:                     id,
		WalletID:               tp.WalletID,
		MemberID:               tp.MemberID,
		TreatmentProcedureUUID: &procUUID,
		Data: costbreakdown.Data{
			TotalEmployerResponsibility: employer,
			TotalMemberResponsibility:   tp.Cost - employer,
			Deductible:                  deductible,
		},
	}
	f.store.costBreakdowns[id] = cb
	tp.CostBreakdownID = &cb.ID
	return cb
}

// =============================================================================
// DEDUCT BALANCE
// =============================================================================

func TestDeductBalance_RecordsEmployerRequest(t *testing.T) {
	// GIVEN: A completed procedure priced at 800.00 employer responsibility
	// WHEN: Deducting the wallet balance
	// THEN: One approved EMPLOYER request is saved and submitted as a claim
	f := newFixture(t, currencyWallet(true), false)
	tp := completedProcedure()
	cb := f.price(&tp, 1, 80000, 0)

	ok, err := f.engine.DeductBalance(context.Background(), tp, cb, f.wallet)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, f.store.saved, 1)
	rr := f.store.saved[0]
	assert.Equal(t, int64(80000), rr.Request.Amount)
	assert.Equal(t, wallet.StateApproved, rr.Request.State)
	assert.Equal(t, wallet.ReimbursementDirectBilling, rr.Request.ReimbursementType)
	assert.Equal(t, "Bay Area Fertility", rr.Request.ServiceProvider)
	assert.Equal(t, "Ada Lovelace", rr.Request.PersonReceivingService)
	assert.Equal(t, wallet.ClaimEmployer, rr.Link.ClaimType)
	assert.Equal(t, cb.ID, rr.Link.CostBreakdownID)

	require.Len(t, f.claims.submitted, 1)
	assert.Equal(t, rr.Request.ID, f.claims.submitted[0].ID)
}

func TestDeductBalance_NotBillableIsNoop(t *testing.T) {
	f := newFixture(t, currencyWallet(true), false)
	tp := completedProcedure()
	tp.Status = wallet.ProcedureScheduled
	cb := f.price(&tp, 1, 80000, 0)

	ok, err := f.engine.DeductBalance(context.Background(), tp, cb, f.wallet)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.store.saved)
}

func TestDeductBalance_SameCostBreakdownTwice(t *testing.T) {
	f := newFixture(t, currencyWallet(true), false)
	ctx := context.Background()
	tp := completedProcedure()
	cb := f.price(&tp, 1, 80000, 0)

	_, err := f.engine.DeductBalance(ctx, tp, cb, f.wallet)
	require.NoError(t, err)
	ok, err := f.engine.DeductBalance(ctx, tp, cb, f.wallet)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, f.store.saved, 1)
}

func TestDeductBalance_RepriceRecordsDelta(t *testing.T) {
	// GIVEN: A procedure deducted at 800.00 then repriced to 650.00
	// WHEN: Deducting with the new cost breakdown
	// THEN: A -150.00 request is saved but never submitted
	f := newFixture(t, currencyWallet(true), false)
	ctx := context.Background()
	tp := completedProcedure()
	first := f.price(&tp, 1, 80000, 0)

	_, err := f.engine.DeductBalance(ctx, tp, first, f.wallet)
	require.NoError(t, err)

	second := f.price(&tp, 2, 65000, 0)
	ok, err := f.engine.DeductBalance(ctx, tp, second, f.wallet)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, f.store.saved, 2)
	assert.Equal(t, int64(-15000), f.store.saved[1].Request.Amount)
	assert.Equal(t, second.ID, f.store.saved[1].Link.CostBreakdownID)
	assert.Len(t, f.claims.submitted, 1)
}

func TestDeductBalance_HDHPEmployeeDeductible(t *testing.T) {
	// GIVEN: A wallet without deductible accumulation on an HDHP plan
	// WHEN: Deducting a cost breakdown with 300.00 of deductible
	// THEN: An EMPLOYEE_DEDUCTIBLE request is saved next to the EMPLOYER one
	f := newFixture(t, currencyWallet(false), true)
	tp := completedProcedure()
	cb := f.price(&tp, 1, 70000, 30000)

	_, err := f.engine.DeductBalance(context.Background(), tp, cb, f.wallet)
	require.NoError(t, err)

	require.Len(t, f.store.saved, 2)
	assert.Equal(t, wallet.ClaimEmployeeDeductible, f.store.saved[0].Link.ClaimType)
	assert.Equal(t, int64(30000), f.store.saved[0].Request.Amount)
	assert.Equal(t, wallet.ClaimEmployer, f.store.saved[1].Link.ClaimType)
	assert.Equal(t, int64(70000), f.store.saved[1].Request.Amount)
}

func TestDeductBalance_NonHDHPHasNoEmployeeDeductible(t *testing.T) {
	f := newFixture(t, currencyWallet(false), false)
	tp := completedProcedure()
	cb := f.price(&tp, 1, 70000, 30000)

	_, err := f.engine.DeductBalance(context.Background(), tp, cb, f.wallet)
	require.NoError(t, err)

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, wallet.ClaimEmployer, f.store.saved[0].Link.ClaimType)
}

func TestDeductBalance_MissingClinic(t *testing.T) {
	f := newFixture(t, currencyWallet(true), false)
	tp := completedProcedure()
	unknown := int64(404)
	tp.ClinicID = &unknown
	cb := f.price(&tp, 1, 80000, 0)

	ok, err := f.engine.DeductBalance(context.Background(), tp, cb, f.wallet)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.store.saved)
}

func TestDeductBalance_SaveFailure(t *testing.T) {
	f := newFixture(t, currencyWallet(true), false)
	f.store.saveErr = errors.New("disk full")
	tp := completedProcedure()
	cb := f.price(&tp, 1, 80000, 0)

	ok, err := f.engine.DeductBalance(context.Background(), tp, cb, f.wallet)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.claims.submitted)
}

func TestDeductBalance_ClaimFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"remote failure is logged", errors.New("provider timeout"), false},
		{"malformed claim propagates", &reimbursement.InvalidClaimRequestError{Reason: "bad"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, currencyWallet(true), false)
			f.claims.err = tt.err
			tp := completedProcedure()
			cb := f.price(&tp, 1, 80000, 0)

			ok, err := f.engine.DeductBalance(context.Background(), tp, cb, f.wallet)
			if tt.wantErr {
				assert.ErrorIs(t, err, reimbursement.ErrInvalidClaimRequest)
				assert.False(t, ok)
			} else {
				require.NoError(t, err)
				assert.True(t, ok)
			}
			// requests stay persisted either way
			assert.Len(t, f.store.saved, 1)
		})
	}
}

// =============================================================================
// ADD BACK BALANCE
// =============================================================================

func TestAddBackBalance_RefundsLinkedRequests(t *testing.T) {
	// GIVEN: A deducted procedure
	// WHEN: Adding the balance back
	// THEN: A negated REFUNDED request is saved and submitted; a second
	// add back is refused
	f := newFixture(t, currencyWallet(true), false)
	ctx := context.Background()
	tp := completedProcedure()
	cb := f.price(&tp, 1, 80000, 0)
	_, err := f.engine.DeductBalance(ctx, tp, cb, f.wallet)
	require.NoError(t, err)

	refunds, err := f.engine.AddBackBalance(ctx, tp)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(-80000), refunds[0].Amount)
	assert.Equal(t, wallet.StateRefunded, refunds[0].State)
	assert.NotZero(t, refunds[0].ID)
	assert.Len(t, f.claims.submitted, 2)

	_, err = f.engine.AddBackBalance(ctx, tp)
	assert.ErrorIs(t, err, reimbursement.ErrWalletBalanceReimbursements)
}

func TestAddBackBalance_Preconditions(t *testing.T) {
	f := newFixture(t, currencyWallet(true), false)
	ctx := context.Background()

	unpriced := completedProcedure()
	_, err := f.engine.AddBackBalance(ctx, unpriced)
	assert.ErrorIs(t, err, reimbursement.ErrWalletBalanceReimbursements)

	cancelled := completedProcedure()
	f.price(&cancelled, 1, 80000, 0)
	cancelled.Status = wallet.ProcedureCancelled
	_, err = f.engine.AddBackBalance(ctx, cancelled)
	assert.ErrorIs(t, err, reimbursement.ErrWalletBalanceReimbursements)
}

// =============================================================================
// CYCLE WALLETS
// =============================================================================

func TestCycleWallet_CreditsFollowBalance(t *testing.T) {
	// GIVEN: A cycle wallet with 12 credits and a 4 credit procedure
	// WHEN: Deducting, then adding back
	// THEN: Credits drop to 8 and return to 12
	w := currencyWallet(false)
	w.BenefitType = wallet.BenefitCycle
	f := newFixture(t, w, false)
	ctx := context.Background()
	require.NoError(t, f.ledger.Grant(ctx, w.ID, 12, "grant"))

	tp := completedProcedure()
	cb := f.price(&tp, 1, 100000, 0)

	ok, err := f.engine.DeductBalance(ctx, tp, cb, w)
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := f.ledger.Balance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)

	_, err = f.engine.AddBackBalance(ctx, tp)
	require.NoError(t, err)

	balance, err = f.ledger.Balance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)
}

func TestCycleWallet_InsufficientCreditsThenRetry(t *testing.T) {
	// GIVEN: A cycle wallet with 2 credits and a 4 credit procedure
	// WHEN: Deducting, then retrying after 10 more credits are granted
	// THEN: The first call persists nothing; the retry records the request
	// and spends the credits once
	w := currencyWallet(false)
	w.BenefitType = wallet.BenefitCycle
	f := newFixture(t, w, false)
	ctx := context.Background()
	require.NoError(t, f.ledger.Grant(ctx, w.ID, 2, "grant"))

	tp := completedProcedure()
	cb := f.price(&tp, 1, 100000, 0)

	ok, err := f.engine.DeductBalance(ctx, tp, cb, w)
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
	assert.False(t, ok)
	assert.Empty(t, f.store.saved)
	assert.Empty(t, f.claims.submitted)

	require.NoError(t, f.ledger.Grant(ctx, w.ID, 10, "top-up"))

	ok, err = f.engine.DeductBalance(ctx, tp, cb, w)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, f.store.saved, 1)
	assert.Len(t, f.claims.submitted, 1)

	balance, err := f.ledger.Balance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestCycleWallet_RepriceSpendsCreditsOnce(t *testing.T) {
	w := currencyWallet(false)
	w.BenefitType = wallet.BenefitCycle
	f := newFixture(t, w, false)
	ctx := context.Background()
	require.NoError(t, f.ledger.Grant(ctx, w.ID, 12, "grant"))

	tp := completedProcedure()
	first := f.price(&tp, 1, 100000, 0)
	_, err := f.engine.DeductBalance(ctx, tp, first, w)
	require.NoError(t, err)

	second := f.price(&tp, 2, 90000, 0)
	ok, err := f.engine.DeductBalance(ctx, tp, second, w)
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := f.ledger.Balance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
	assert.Len(t, f.store.saved, 2)
}
