package accumulation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/store/memory"
)

// =============================================================================
// FIXTURES
// =============================================================================

var testNow = time.Date(2025, 3, 4, 10, 11, 12, 345678000, time.UTC)

func testPayers() *memory.Directory {
	dir := memory.NewDirectory()
	dir.PutPayer(eligibility.Payer{ID: 7, Code: "esi", Name: "Express Scripts"})
	dir.PutPayer(eligibility.Payer{ID: 8, Code: "premera", Name: "Premera"})
	return dir
}

func testPlan(payerID int64) eligibility.MemberHealthPlan {
	return eligibility.MemberHealthPlan{
		ID:       11,
		MemberID: 100,
		EmployerHealthPlan: eligibility.EmployerHealthPlan{
			ID:              5,
			BenefitsPayerID: &payerID,
			GroupID:         "GRP001",
		},
		SubscriberInsuranceID: "U1234567801",
		PatientFirstName:      "Jane",
		PatientLastName:       "Doe",
		PatientDateOfBirth:    time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC),
		PatientSex:            "F",
		PatientRelationship:   "cardholder",
		PlanType:              eligibility.PlanTypeIndividual,
	}
}

func testRequest(payerID int64, dir Direction) DetailRequest {
	return DetailRequest{
		RecordID:         1,
		RecordType:       RecordPharmacy,
		CostBreakdown:    costbreakdown.CostBreakdown{ID: 42},
		ServiceStartDate: time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC),
		MemberHealthPlan: testPlan(payerID),
		Deductible:       12345,
		OOPApplied:       23456,
		HRAApplied:       500,
		Direction:        dir,
		Now:              testNow,
	}
}

func testOptions() Options { return Options{SenderID: "WARPHEALTH", Environment: "T"} }

// =============================================================================
// UNIQUE IDS
// =============================================================================

func TestTransmissionID_DecodesToCostBreakdownID(t *testing.T) {
	id := TransmissionID(testNow, 42)

	assert.Equal(t, "20250304101112345678#cb_42", id)
	cbID, err := CostBreakdownIDFromUniqueID(id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cbID)
}

func TestCostBreakdownIDFromUniqueID_Invalid(t *testing.T) {
	for _, id := range []string{"", "20250304101112345678", "20250304#cb_", "20250304#cb_abc"} {
		_, err := CostBreakdownIDFromUniqueID(id)
		assert.ErrorIs(t, err, ErrInvalidUniqueID, id)
	}
}

// =============================================================================
// ESI
// =============================================================================

func TestESI_DetailRoundTrip(t *testing.T) {
	// GIVEN: an ESI generator and a forward report
	gen := NewESI(testPayers(), testOptions())

	// WHEN: the detail is generated
	detail, err := gen.GenerateDetail(context.Background(), testRequest(7, Forward))
	require.NoError(t, err)

	// THEN: the line is byte exact and every column decodes to what was written
	assert.Len(t, detail.Line, 300)
	rec, err := esiDetailLayout.Decode(detail.Line)
	require.NoError(t, err)
	again, err := esiDetailLayout.Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, detail.Line, again)

	assert.Equal(t, "DT", rec.Get("record_type"))
	assert.Equal(t, "20250304101112345678#cb_42", rec.Get("transmission_id"))
	assert.Equal(t, "20250220", rec.Get("date_of_service"))
	assert.Equal(t, "U1234567801", rec.Get("cardholder_id"))
	assert.Equal(t, "GRP001", rec.Get("group_id"))
	assert.Equal(t, "JANE", rec.Get("patient_first_name"))
	assert.Equal(t, "DOE", rec.Get("patient_last_name"))
	assert.Equal(t, "19900412", rec.Get("date_of_birth"))
	assert.Equal(t, "2", rec.Get("patient_gender"))
	assert.Equal(t, "1", rec.Get("patient_relationship"))
	assert.Equal(t, "00", rec.Get("accumulator_action_code"))
	assert.Equal(t, "0000012345", rec["deductible_amount"])
	assert.Equal(t, "+", rec["deductible_action"])
	assert.Equal(t, "0000023456", rec["oop_amount"])
	assert.Equal(t, "+", rec["oop_action"])

	cbID, err := CostBreakdownIDFromUniqueID(detail.UniqueID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cbID)
	assert.Equal(t, "U1234567801", detail.CardholderID)
}

func TestESI_ReversalFlipsActionCodes(t *testing.T) {
	gen := NewESI(testPayers(), testOptions())

	detail, err := gen.GenerateDetail(context.Background(), testRequest(7, Reversal))
	require.NoError(t, err)

	rec, err := esiDetailLayout.Decode(detail.Line)
	require.NoError(t, err)
	assert.Equal(t, "11", rec.Get("accumulator_action_code"))
	assert.Equal(t, "-", rec["deductible_action"])
	assert.Equal(t, "-", rec["oop_action"])
	// amounts stay magnitudes
	assert.Equal(t, "0000012345", rec["deductible_amount"])
	assert.Equal(t, Reversal, detail.Direction)
}

func TestESI_NegativeAmountRejected(t *testing.T) {
	gen := NewESI(testPayers(), testOptions())
	req := testRequest(7, Forward)
	req.Deductible = -100

	_, err := gen.GenerateDetail(context.Background(), req)

	assert.ErrorIs(t, err, ErrNegativeAmount)
	assert.True(t, IsValidationError(err))
}

func TestESI_MissingGroupID(t *testing.T) {
	gen := NewESI(testPayers(), testOptions())

	// GIVEN: a plan that is not rx integrated and has no group id
	req := testRequest(7, Forward)
	req.MemberHealthPlan.EmployerHealthPlan.GroupID = ""

	_, err := gen.GenerateDetail(context.Background(), req)

	assert.ErrorIs(t, err, ErrInvalidGroupID)
	var groupErr *InvalidGroupIDError
	require.ErrorAs(t, err, &groupErr)
	assert.Equal(t, int64(5), groupErr.EmployerHealthPlanID)

	// rx integrated plans don't need one
	req.MemberHealthPlan.EmployerHealthPlan.RxIntegrated = true
	_, err = gen.GenerateDetail(context.Background(), req)
	assert.NoError(t, err)
}

func TestESI_InvalidPayer(t *testing.T) {
	gen := NewESI(testPayers(), testOptions())

	t.Run("no payer id", func(t *testing.T) {
		req := testRequest(7, Forward)
		req.MemberHealthPlan.EmployerHealthPlan.BenefitsPayerID = nil
		_, err := gen.GenerateDetail(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidPayer)
	})

	t.Run("unknown payer id", func(t *testing.T) {
		_, err := gen.GenerateDetail(context.Background(), testRequest(999, Forward))
		assert.ErrorIs(t, err, ErrInvalidPayer)
		var payerErr *InvalidPayerError
		require.ErrorAs(t, err, &payerErr)
		assert.Equal(t, int64(5), payerErr.EmployerHealthPlanID)
	})
}

func TestESI_DetailMetadata(t *testing.T) {
	gen := NewESI(testPayers(), testOptions())
	detail, err := gen.GenerateDetail(context.Background(), testRequest(7, Forward))
	require.NoError(t, err)

	withResponse := func(status string) string {
		return detail.Line[:130] + status + detail.Line[134:]
	}

	t.Run("outbound line is not a response", func(t *testing.T) {
		meta, err := gen.DetailMetadata(detail.Line)
		require.NoError(t, err)
		assert.False(t, meta.IsResponse)
		assert.False(t, meta.ShouldUpdate)
	})

	t.Run("accepted", func(t *testing.T) {
		meta, err := gen.DetailMetadata(withResponse("A   "))
		require.NoError(t, err)
		assert.True(t, meta.IsResponse)
		assert.True(t, meta.ShouldUpdate)
		assert.False(t, meta.IsRejection)
		assert.Equal(t, detail.UniqueID, meta.UniqueID)
		assert.Equal(t, "U1234567801", meta.MemberID)
	})

	t.Run("rejected with known code", func(t *testing.T) {
		meta, err := gen.DetailMetadata(withResponse("R011"))
		require.NoError(t, err)
		assert.True(t, meta.IsRejection)
		assert.Equal(t, "011", meta.ResponseCode)
		assert.Equal(t, "Group ID not found", meta.ResponseReason)
	})

	t.Run("rejected with unmapped code falls back to the code", func(t *testing.T) {
		meta, err := gen.DetailMetadata(withResponse("R999"))
		require.NoError(t, err)
		assert.Equal(t, "999", meta.ResponseReason)
	})
}

// =============================================================================
// PREMERA
// =============================================================================

func TestPremera_DetailRoundTrip(t *testing.T) {
	gen := NewPremera(testPayers(), testOptions())

	detail, err := gen.GenerateDetail(context.Background(), testRequest(8, Forward))
	require.NoError(t, err)

	assert.Len(t, detail.Line, 200)
	rec, err := premeraDetailLayout.Decode(detail.Line)
	require.NoError(t, err)
	again, err := premeraDetailLayout.Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, detail.Line, again)

	assert.Equal(t, "D", rec.Get("record_type"))
	assert.Equal(t, detail.UniqueID, rec.Get("unique_id"))
	assert.Equal(t, "P", rec.Get("claim_type"))
	assert.Equal(t, "+0000012345", rec["deductible_amount"])
	assert.Equal(t, "+0000023456", rec["oop_amount"])
	assert.Equal(t, "+0000000500", rec["hra_amount"])
}

func TestPremera_ReversalSignsAmounts(t *testing.T) {
	gen := NewPremera(testPayers(), testOptions())
	req := testRequest(8, Reversal)
	req.RecordType = RecordMedical

	detail, err := gen.GenerateDetail(context.Background(), req)
	require.NoError(t, err)

	rec, err := premeraDetailLayout.Decode(detail.Line)
	require.NoError(t, err)
	assert.Equal(t, "M", rec.Get("claim_type"))
	assert.Equal(t, "-0000012345", rec["deductible_amount"])
	assert.Equal(t, "-0000023456", rec["oop_amount"])
}

func TestPremera_DetailMetadata(t *testing.T) {
	gen := NewPremera(testPayers(), testOptions())
	detail, err := gen.GenerateDetail(context.Background(), testRequest(8, Forward))
	require.NoError(t, err)

	line := detail.Line[:166] + "RE002" + detail.Line[171:]
	meta, err := gen.DetailMetadata(line)
	require.NoError(t, err)

	assert.True(t, meta.IsResponse)
	assert.True(t, meta.IsRejection)
	assert.Equal(t, "E002", meta.ResponseCode)
	assert.Equal(t, "Member not eligible on date of service", meta.ResponseReason)
	assert.Equal(t, detail.UniqueID, meta.UniqueID)
}

// =============================================================================
// FILES
// =============================================================================

func TestGenerateFile_RecordCount(t *testing.T) {
	for _, payer := range []struct {
		name PayerName
		id   int64
	}{{PayerESI, 7}, {PayerPremera, 8}} {
		t.Run(string(payer.name), func(t *testing.T) {
			gen, err := NewGenerator(payer.name, testPayers(), testOptions())
			require.NoError(t, err)

			forward, err := gen.GenerateDetail(context.Background(), testRequest(payer.id, Forward))
			require.NoError(t, err)
			req := testRequest(payer.id, Reversal)
			req.Now = testNow.Add(time.Microsecond)
			reversal, err := gen.GenerateDetail(context.Background(), req)
			require.NoError(t, err)

			data, err := GenerateFile(gen, []DetailRecordWrapper{forward, reversal}, testNow)
			require.NoError(t, err)

			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			assert.Len(t, lines, 4)
			count, err := RecordCountFromBuffer(gen, data)
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestRecordCountFromBuffer_Mismatch(t *testing.T) {
	gen := NewESI(testPayers(), testOptions())
	detail, err := gen.GenerateDetail(context.Background(), testRequest(7, Forward))
	require.NoError(t, err)
	header, err := gen.GenerateHeader(testNow)
	require.NoError(t, err)
	trailer, err := gen.GenerateTrailer(3, Totals{}, testNow)
	require.NoError(t, err)

	data := []byte(header + "\n" + detail.Line + "\n" + trailer + "\n")

	_, err = RecordCountFromBuffer(gen, data)
	assert.ErrorIs(t, err, ErrRecordCountMismatch)
}

func TestPremera_TrailerTotals(t *testing.T) {
	gen := NewPremera(testPayers(), testOptions())
	details := []DetailRecordWrapper{
		{Line: "D", Deductible: 12345, OOPApplied: 12345, Direction: Forward},
		{Line: "D", Deductible: 2345, OOPApplied: 20000, Direction: Reversal},
	}

	data, err := GenerateFile(gen, details, testNow)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	rec, err := premeraTrailerLayout.Decode(lines[len(lines)-1])
	require.NoError(t, err)
	assert.Equal(t, "000000002", rec["record_count"])
	assert.Equal(t, "+0000010000", rec["total_deductible"])
	assert.Equal(t, "-0000007655", rec["total_oop"])
}

func TestESI_HeaderAndFileName(t *testing.T) {
	gen := NewESI(testPayers(), Options{SenderID: "WARPHEALTH"})

	header, err := gen.GenerateHeader(testNow)
	require.NoError(t, err)

	rec, err := esiHeaderLayout.Decode(header)
	require.NoError(t, err)
	assert.Equal(t, "HD", rec.Get("record_type"))
	assert.Equal(t, "20250304", rec.Get("creation_date"))
	assert.Equal(t, "WARPHEALTH", rec.Get("sender_id"))
	assert.Equal(t, "T", rec.Get("environment"), "environment defaults to test")
	assert.Equal(t, "WARP_RxAccum_20250304_101112.txt", gen.FileName(testNow))
}

func TestNewGenerator_UnknownPayer(t *testing.T) {
	_, err := NewGenerator("aetna", testPayers(), testOptions())
	assert.ErrorIs(t, err, ErrUnknownPayer)
}

// =============================================================================
// REPORT
// =============================================================================

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.parquet")
	rows := []ResponseRow{
		{Payer: PayerESI, MappingID: 1, CostBreakdownID: 42, UniqueID: "x#cb_42", Status: StatusAccepted, Matched: true},
		{Payer: PayerESI, UniqueID: "y#cb_9", Status: StatusRejected, ResponseCode: "001", ResponseReason: "Cardholder ID not found"},
	}

	require.NoError(t, WriteReport(path, rows))

	got, err := parquet.ReadFile[ReportRow](path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "esi", got[0].Payer)
	assert.Equal(t, int64(42), got[0].CostBreakdownID)
	assert.True(t, got[0].Matched)
	assert.Equal(t, "REJECTED", got[1].Status)
	assert.Equal(t, "Cardholder ID not found", got[1].ResponseReason)
	assert.False(t, got[1].Matched)
}
