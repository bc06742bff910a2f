package accumulation_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefits-engine/accumulation"
	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/store/sqlstore"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var buildNow = time.Date(2025, time.March, 4, 10, 11, 12, 0, time.UTC)

type roundTrip struct {
	store     *sqlstore.Store
	builder   *accumulation.Builder
	processor *costbreakdown.Processor
	wallet    wallet.Wallet
	tp        wallet.TreatmentProcedure
	cb        costbreakdown.CostBreakdown
}

// setupRoundTrip seeds a Premera member with one priced procedure that
// applied 123.45 of deductible.
func setupRoundTrip(t *testing.T) roundTrip {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.New(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.PutPayer(ctx, eligibility.Payer{ID: 8, Code: "premera", Name: "Premera"}))
	pid := int64(8)
	employer := eligibility.EmployerHealthPlan{ID: 5, Name: "Premera PPO", BenefitsPayerID: &pid, GroupID: "GRP001"}
	require.NoError(t, store.PutEmployerHealthPlan(ctx, employer))
	plan := eligibility.MemberHealthPlan{
		MemberID:              100,
		EmployerHealthPlan:    employer,
		SubscriberInsuranceID: "U1234567801",
		PatientFirstName:      "Jane",
		PatientLastName:       "Doe",
		PatientDateOfBirth:    time.Date(1990, time.April, 12, 0, 0, 0, 0, time.UTC),
		PatientSex:            "F",
		PatientRelationship:   "cardholder",
		PlanType:              eligibility.PlanTypeIndividual,
		PlanStartAt:           time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		IsSubscriber:          true,
	}
	require.NoError(t, store.PutMemberHealthPlan(ctx, &plan))

	w := wallet.Wallet{MemberID: 100, CategoryID: 1, BenefitType: wallet.BenefitCurrency, DeductibleAccumulationEnabled: true, BenefitLimit: 1000000}
	require.NoError(t, store.CreateWallet(ctx, &w))
	tp := wallet.TreatmentProcedure{
		MemberID:      100,
		WalletID:      w.ID,
		CategoryID:    1,
		Status:        wallet.ProcedureCompleted,
		ProcedureType: wallet.ProcedureMedical,
		StartDate:     time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC),
		Cost:          100000,
	}
	require.NoError(t, store.CreateTreatmentProcedure(ctx, &tp))

	processor := costbreakdown.NewProcessor(costbreakdown.Config{}, costbreakdown.Deps{
		Store: store, Plans: store, Payers: store, Spend: store,
	}, zerolog.Nop())
	cb, err := processor.CreateOverrideCostBreakdown(ctx, costbreakdown.OverrideRequest{
		TreatmentProcedure: &tp,
		Wallet:             w,
		MemberID:           100,
		Cost:               tp.Cost,
		DeductibleOverride: eligibility.Cents(12345),
	})
	require.NoError(t, err)

	builder := accumulation.NewBuilder(accumulation.BuilderDeps{
		Mappings:       store,
		Subjects:       store,
		CostBreakdowns: store,
		Plans:          store,
		Payers:         store,
	}, accumulation.Options{SenderID: "WARPHEALTH"}, zerolog.Nop())

	return roundTrip{store: store, builder: builder, processor: processor, wallet: w, tp: tp, cb: cb}
}

// reprice writes a new cost breakdown for the procedure with the given
// deductible.
func (rt *roundTrip) reprice(t *testing.T, deductible int64) costbreakdown.CostBreakdown {
	t.Helper()
	cb, err := rt.processor.CreateOverrideCostBreakdown(context.Background(), costbreakdown.OverrideRequest{
		TreatmentProcedure: &rt.tp,
		Wallet:             rt.wallet,
		MemberID:           100,
		Cost:               rt.tp.Cost,
		DeductibleOverride: eligibility.Cents(deductible),
	})
	require.NoError(t, err)
	return cb
}

func fileLines(content []byte) []string {
	return strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
}

// withUniqueID swaps the 50 character unique id column of a Premera detail line.
func withUniqueID(line, uniqueID string) string {
	return line[:1] + uniqueID + strings.Repeat(" ", 50-len(uniqueID)) + line[51:]
}

// =============================================================================
// ENQUEUE
// =============================================================================

func TestEnqueue(t *testing.T) {
	rt := setupRoundTrip(t)
	ctx := context.Background()

	m, err := rt.builder.Enqueue(ctx, rt.tp, rt.cb, false)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, accumulation.StatusWaiting, m.Status)
	assert.Equal(t, int64(8), m.PayerID)
	assert.Equal(t, accumulation.RecordMedical, m.RecordType)
	assert.Equal(t, rt.cb.ID, m.CostBreakdownID)

	// nothing to report
	empty := rt.cb
	empty.Deductible, empty.OOPApplied, empty.HRAApplied = 0, 0, 0
	m, err = rt.builder.Enqueue(ctx, rt.tp, empty, false)
	require.NoError(t, err)
	assert.Nil(t, m)
}

// =============================================================================
// REPORT / REVERSE
// =============================================================================

func TestReport_RepricedProcedure(t *testing.T) {
	// GIVEN: a procedure whose 123.45 deductible was already sent to the payer
	// WHEN: repricing it, first to the same amounts and then to 200.00
	// THEN: the same amounts report nothing; the change goes out as a
	// reversal of the old report plus a forward of the new one
	rt := setupRoundTrip(t)
	ctx := context.Background()

	first, err := rt.builder.Report(ctx, rt.tp, rt.cb)
	require.NoError(t, err)
	require.NotNil(t, first)
	_, err = rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)

	same := rt.reprice(t, 12345)
	m, err := rt.builder.Report(ctx, rt.tp, same)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, first.ID, m.ID)

	file, err := rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, file.Details)

	changed := rt.reprice(t, 20000)
	m, err = rt.builder.Report(ctx, rt.tp, changed)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, changed.ID, m.CostBreakdownID)

	file, err = rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, file.Details, 2)
	assert.Equal(t, accumulation.Reversal, file.Details[0].Direction)
	assert.Equal(t, rt.cb.ID, file.Details[0].CostBreakdownID)
	assert.Equal(t, int64(12345), file.Details[0].Deductible)
	assert.Equal(t, accumulation.Forward, file.Details[1].Direction)
	assert.Equal(t, int64(20000), file.Details[1].Deductible)

	// a repeat report of the current cost breakdown is a no-op
	again, err := rt.builder.Report(ctx, rt.tp, changed)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
}

func TestReport_UnsentMappingIsSkipped(t *testing.T) {
	// GIVEN: a forward report still WAITING
	// WHEN: the procedure is repriced before the nightly file
	// THEN: the unsent report is marked SKIP and only the new one goes out
	rt := setupRoundTrip(t)
	ctx := context.Background()

	first, err := rt.builder.Report(ctx, rt.tp, rt.cb)
	require.NoError(t, err)

	changed := rt.reprice(t, 20000)
	_, err = rt.builder.Report(ctx, rt.tp, changed)
	require.NoError(t, err)

	skipped, err := rt.store.GetMapping(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, accumulation.StatusSkip, skipped.Status)

	file, err := rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)
	require.Len(t, file.Details, 1)
	assert.Equal(t, accumulation.Forward, file.Details[0].Direction)
	assert.Equal(t, changed.ID, file.Details[0].CostBreakdownID)
}

func TestReverse(t *testing.T) {
	rt := setupRoundTrip(t)
	ctx := context.Background()

	// nothing reported yet
	m, err := rt.builder.Reverse(ctx, rt.tp)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = rt.builder.Report(ctx, rt.tp, rt.cb)
	require.NoError(t, err)
	_, err = rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)

	m, err = rt.builder.Reverse(ctx, rt.tp)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.IsRefund)
	assert.Equal(t, rt.cb.ID, m.CostBreakdownID)

	// the reversal cancels the report, so there is nothing left to take back
	m, err = rt.builder.Reverse(ctx, rt.tp)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestReport_RejectedReportIsNotReversed(t *testing.T) {
	rt := setupRoundTrip(t)
	ctx := context.Background()

	first, err := rt.builder.Report(ctx, rt.tp, rt.cb)
	require.NoError(t, err)
	first.Status = accumulation.StatusRejected
	require.NoError(t, rt.store.UpdateMapping(ctx, *first))

	changed := rt.reprice(t, 20000)
	_, err = rt.builder.Report(ctx, rt.tp, changed)
	require.NoError(t, err)

	file, err := rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)
	require.Len(t, file.Details, 1)
	assert.Equal(t, accumulation.Forward, file.Details[0].Direction)
}

// =============================================================================
// BUILD FILE
// =============================================================================

func TestBuildFile_SubmitsWaitingMappings(t *testing.T) {
	// GIVEN: one valid WAITING mapping and one pointing at a missing cost breakdown
	// WHEN: building the nightly Premera file
	// THEN: the valid one is written and SUBMITTED, the broken one stays WAITING
	rt := setupRoundTrip(t)
	ctx := context.Background()

	good, err := rt.builder.Enqueue(ctx, rt.tp, rt.cb, false)
	require.NoError(t, err)
	broken := accumulation.TreatmentMapping{
		TreatmentProcedureUUID: &rt.tp.UUID,
		CostBreakdownID:        999,
		PayerID:                8,
		RecordType:             accumulation.RecordMedical,
		Status:                 accumulation.StatusWaiting,
	}
	require.NoError(t, rt.store.CreateMapping(ctx, &broken))

	file, err := rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)

	assert.Equal(t, "Warp_Premera_Accumulator_File_20250304_101112", file.Name)
	require.Len(t, file.Details, 1)
	assert.Equal(t, []int64{broken.ID}, file.Skipped)
	assert.Len(t, fileLines(file.Content), 3)
	assert.Equal(t, accumulation.TransmissionID(buildNow, rt.cb.ID), file.Details[0].UniqueID)
	assert.Equal(t, int64(12345), file.Details[0].Deductible)

	gen, err := accumulation.NewGenerator(accumulation.PayerPremera, rt.store, accumulation.Options{})
	require.NoError(t, err)
	count, err := accumulation.RecordCountFromBuffer(gen, file.Content)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	submitted, err := rt.store.GetMapping(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, accumulation.StatusSubmitted, submitted.Status)
	assert.Equal(t, file.Name, submitted.FileName)
	assert.Equal(t, file.Details[0].UniqueID, submitted.AccumulationUniqueID)

	waiting, err := rt.store.WaitingMappings(ctx, 8)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, broken.ID, waiting[0].ID)
}

func TestBuildFile_RefundIsReversal(t *testing.T) {
	rt := setupRoundTrip(t)
	ctx := context.Background()

	_, err := rt.builder.Enqueue(ctx, rt.tp, rt.cb, true)
	require.NoError(t, err)

	file, err := rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)
	require.Len(t, file.Details, 1)
	assert.Equal(t, accumulation.Reversal, file.Details[0].Direction)
	assert.Contains(t, file.Details[0].Line, "-0000012345")
}

func TestBuildFile_UnknownPayer(t *testing.T) {
	rt := setupRoundTrip(t)
	_, err := rt.builder.BuildFile(context.Background(), accumulation.PayerESI, buildNow)
	assert.ErrorIs(t, err, eligibility.ErrPayerNotFound)
}

func TestRegenerate_LeavesStatus(t *testing.T) {
	rt := setupRoundTrip(t)
	ctx := context.Background()

	m, err := rt.builder.Enqueue(ctx, rt.tp, rt.cb, false)
	require.NoError(t, err)

	detail, err := rt.builder.Regenerate(ctx, m.ID, buildNow)
	require.NoError(t, err)
	assert.Equal(t, rt.cb.ID, detail.CostBreakdownID)

	again, err := rt.store.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, accumulation.StatusWaiting, again.Status)
}

// =============================================================================
// RESPONSES
// =============================================================================

func TestResponseProcessor_AppliesStatuses(t *testing.T) {
	// GIVEN: a submitted file echoed back with one rejection and one stray line
	// WHEN: processing the response
	// THEN: the mapping is REJECTED with the payer's reason; the stray line is unmatched
	rt := setupRoundTrip(t)
	ctx := context.Background()

	m, err := rt.builder.Enqueue(ctx, rt.tp, rt.cb, false)
	require.NoError(t, err)
	file, err := rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)

	lines := fileLines(file.Content)
	rejected := lines[1][:166] + "RE002" + lines[1][171:]
	stray := withUniqueID(lines[1], accumulation.TransmissionID(buildNow, 777))
	stray = stray[:166] + "A" + stray[167:]
	response := strings.Join([]string{lines[0], rejected, stray, lines[2]}, "\n") + "\n"

	processor := accumulation.NewResponseProcessor(rt.store, rt.store, accumulation.Options{}, zerolog.Nop())
	rows, err := processor.Process(ctx, accumulation.PayerPremera, []byte(response))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.True(t, rows[0].Matched)
	assert.Equal(t, m.ID, rows[0].MappingID)
	assert.Equal(t, accumulation.StatusRejected, rows[0].Status)
	assert.Equal(t, "E002", rows[0].ResponseCode)
	assert.False(t, rows[1].Matched)

	got, err := rt.store.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, accumulation.StatusRejected, got.Status)
	assert.Equal(t, "Member not eligible on date of service", got.ResponseReason)
	require.NotNil(t, got.CompletedAt)

	path := filepath.Join(t.TempDir(), "responses.parquet")
	require.NoError(t, accumulation.WriteReport(path, rows))
	report, err := parquet.ReadFile[accumulation.ReportRow](path)
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, "REJECTED", report[0].Status)
	assert.False(t, report[1].Matched)
}

func TestResponseProcessor_FallsBackToCostBreakdownID(t *testing.T) {
	// GIVEN: the payer echoes a unique id we never stored
	// THEN: the mapping is found through its #cb_ suffix
	rt := setupRoundTrip(t)
	ctx := context.Background()

	m, err := rt.builder.Enqueue(ctx, rt.tp, rt.cb, false)
	require.NoError(t, err)
	file, err := rt.builder.BuildFile(ctx, accumulation.PayerPremera, buildNow)
	require.NoError(t, err)

	line := fileLines(file.Content)[1]
	rewritten := accumulation.TransmissionID(buildNow.Add(time.Hour), rt.cb.ID)
	line = withUniqueID(line, rewritten)
	line = line[:166] + "A" + line[167:]

	processor := accumulation.NewResponseProcessor(rt.store, rt.store, accumulation.Options{}, zerolog.Nop())
	rows, err := processor.Process(ctx, accumulation.PayerPremera, []byte(line+"\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Matched)
	assert.Equal(t, m.ID, rows[0].MappingID)

	got, err := rt.store.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, accumulation.StatusAccepted, got.Status)
}
