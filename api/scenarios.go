/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	members, plans and wallets so the pricing and balance endpoints can be
	exercised end to end.

AVAILABLE SCENARIOS:

	deductible-accumulation: ESI PPO member with RTE, DA wallet
	hdhp-family:             Premera HDHP family, no RTE (YTD spend fallback)
	cycle-wallet:            Cycle credit wallet with a manual reimbursement request

HOW SCENARIOS WORK:
 1. Load shared reference data once (payers, employer plans, clinic)
 2. Create the member health plan and eligibility responses
 3. Create a wallet
 4. Create treatment procedures and reimbursement requests

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "deductible-accumulation"}

NOTE:

	Scenarios add data and never reset. Loading one twice creates a second
	wallet for the same member. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Pricing and balance endpoints
  - store/memory/directory.go: RTE canned responses
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/benefits-engine/credits"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/reimbursement"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "deductible-accumulation",
		Name:        "Deductible Accumulation",
		Description: "PPO member with real-time eligibility and a deductible accumulation wallet",
		Payer:       "esi",
	},
	{
		ID:          "hdhp-family",
		Name:        "HDHP Family",
		Description: "Family HDHP priced from plan cost sharing and year-to-date spend",
		Payer:       "premera",
	},
	{
		ID:          "cycle-wallet",
		Name:        "Cycle Wallet",
		Description: "Cycle credit wallet with a manual reimbursement request",
		Payer:       "esi",
	},
}

const (
	esiPayerID     = int64(1)
	premeraPayerID = int64(2)
	ppoPlanID      = int64(1)
	hdhpPlanID     = int64(2)
	demoClinicID   = int64(1)
	demoCategoryID = int64(1)
)

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.loadReferenceData(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load reference data", err)
		return
	}

	var resp LoadScenarioResponse
	var err error
	switch req.ScenarioID {
	case "deductible-accumulation":
		resp, err = h.loadDeductibleAccumulationScenario(ctx)
	case "hdhp-family":
		resp, err = h.loadHDHPFamilyScenario(ctx)
	case "cycle-wallet":
		resp, err = h.loadCycleWalletScenario(ctx)
	default:
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	resp.ScenarioID = req.ScenarioID
	h.log.Info().Str("scenario_id", req.ScenarioID).Int64("wallet_id", resp.WalletID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// loadReferenceData writes payers, employer plans, the clinic and global
// procedures unless they are already present.
func (h *Handler) loadReferenceData(ctx context.Context) error {
	_, err := h.Store.GetPayer(ctx, esiPayerID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, eligibility.ErrPayerNotFound) {
		return err
	}

	for _, p := range []eligibility.Payer{
		{ID: esiPayerID, Code: "esi", Name: "Express Scripts"},
		{ID: premeraPayerID, Code: "premera", Name: "Premera Blue Cross"},
	} {
		if err := h.Store.PutPayer(ctx, p); err != nil {
			return err
		}
	}

	for _, p := range []eligibility.EmployerHealthPlan{ppoPlan(), hdhpPlan()} {
		if err := h.Store.PutEmployerHealthPlan(ctx, p); err != nil {
			return err
		}
	}

	if err := h.Store.PutClinic(ctx, reimbursement.Clinic{ID: demoClinicID, Name: "Bay Area Fertility"}); err != nil {
		return err
	}
	for _, gp := range []reimbursement.GlobalProcedure{
		{ID: "gp-ivf-retrieval", Name: "IVF egg retrieval", CostCredit: 12},
		{ID: "gp-embryo-transfer", Name: "Frozen embryo transfer", CostCredit: 4},
		{ID: "gp-fertility-rx", Name: "Fertility medication", CostCredit: 0},
	} {
		if err := h.Store.PutGlobalProcedure(ctx, gp); err != nil {
			return err
		}
	}
	return nil
}

func ppoPlan() eligibility.EmployerHealthPlan {
	payer := esiPayerID
	return eligibility.EmployerHealthPlan{
		ID:              ppoPlanID,
		Name:            "Acme PPO",
		BenefitsPayerID: &payer,
		GroupID:         "ACME001",
		RxIntegrated:    true,
		Coverages: []eligibility.Coverage{{
			PlanType:             eligibility.PlanTypeIndividual,
			CoverageType:         eligibility.CoverageMedical,
			IndividualDeductible: 150000,
			IndividualOOP:        400000,
		}},
		CostSharings: []eligibility.CostSharing{
			{Category: eligibility.CategoryMedicalCare, Type: eligibility.CostSharingCoinsurance, Percent: eligibility.Percent(20)},
			{Category: eligibility.CategoryGenericPrescriptions, Type: eligibility.CostSharingCopay, Absolute: eligibility.Cents(2500)},
		},
	}
}

func hdhpPlan() eligibility.EmployerHealthPlan {
	payer := premeraPayerID
	return eligibility.EmployerHealthPlan{
		ID:              hdhpPlanID,
		Name:            "Acme HDHP",
		BenefitsPayerID: &payer,
		GroupID:         "ACME002",
		RxIntegrated:    true,
		IsHDHP:          true,
		Coverages: []eligibility.Coverage{{
			PlanType:             eligibility.PlanTypeFamily,
			CoverageType:         eligibility.CoverageMedical,
			IndividualDeductible: 330000,
			IndividualOOP:        700000,
			FamilyDeductible:     660000,
			FamilyOOP:            1400000,
			IsDeductibleEmbedded: true,
		}},
		CostSharings: []eligibility.CostSharing{
			{Category: eligibility.CategoryMedicalCare, Type: eligibility.CostSharingCoinsurance, Percent: eligibility.Percent(10)},
		},
	}
}

// =============================================================================
// SCENARIO: DEDUCTIBLE ACCUMULATION
// =============================================================================

func (h *Handler) loadDeductibleAccumulationScenario(ctx context.Context) (LoadScenarioResponse, error) {
	const memberID = int64(2001)
	now := h.now().UTC()

	plan, err := h.memberPlan(ctx, demoMember{ID: memberID, SubscriberID: memberID, First: "Jane", Last: "Doe", Sex: "F", Relationship: "cardholder"}, ppoPlan(), eligibility.PlanTypeIndividual)
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	h.RTE.Put(plan.ID, eligibility.Info{
		IndividualDeductible:          eligibility.Cents(150000),
		IndividualDeductibleRemaining: eligibility.Cents(50000),
		IndividualOOP:                 eligibility.Cents(400000),
		IndividualOOPRemaining:        eligibility.Cents(300000),
		Coinsurance:                   eligibility.Percent(20),
	}, now.Unix())

	wlt := wallet.Wallet{
		MemberID:                      memberID,
		CategoryID:                    demoCategoryID,
		BenefitType:                   wallet.BenefitCurrency,
		DeductibleAccumulationEnabled: true,
		BenefitLimit:                  2500000,
	}
	if err := h.Store.CreateWallet(ctx, &wlt); err != nil {
		return LoadScenarioResponse{}, err
	}

	resp := LoadScenarioResponse{WalletID: wlt.ID, MemberID: memberID}
	for _, tp := range []wallet.TreatmentProcedure{
		h.demoProcedure(wlt, "gp-ivf-retrieval", "IVF egg retrieval", wallet.ProcedureMedical, wallet.ProcedureCompleted, now.AddDate(0, 0, -14), 1200000),
		h.demoProcedure(wlt, "gp-fertility-rx", "Fertility medication", wallet.ProcedurePharmacy, wallet.ProcedureCompleted, now.AddDate(0, 0, -7), 85000),
	} {
		if err := h.Store.CreateTreatmentProcedure(ctx, &tp); err != nil {
			return LoadScenarioResponse{}, err
		}
		resp.TreatmentProcedureUUIDs = append(resp.TreatmentProcedureUUIDs, tp.UUID.String())
	}
	return resp, nil
}

// =============================================================================
// SCENARIO: HDHP FAMILY
// =============================================================================

func (h *Handler) loadHDHPFamilyScenario(ctx context.Context) (LoadScenarioResponse, error) {
	const subscriberID, spouseID = int64(2002), int64(2003)
	now := h.now().UTC()

	plan, err := h.memberPlan(ctx, demoMember{ID: subscriberID, SubscriberID: subscriberID, First: "Sam", Last: "Rivera", Sex: "M", Relationship: "cardholder"}, hdhpPlan(), eligibility.PlanTypeFamily)
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	if _, err := h.memberPlan(ctx, demoMember{ID: spouseID, SubscriberID: subscriberID, First: "Alex", Last: "Rivera", Sex: "F", Relationship: "spouse"}, hdhpPlan(), eligibility.PlanTypeFamily); err != nil {
		return LoadScenarioResponse{}, err
	}
	if err := h.Store.PutYTDSpend(ctx, plan.ID, eligibility.YTDSpend{
		IndividualDeductibleSpent: 80000,
		IndividualOOPSpent:        80000,
		FamilyDeductibleSpent:     200000,
		FamilyOOPSpent:            200000,
	}); err != nil {
		return LoadScenarioResponse{}, err
	}

	wlt := wallet.Wallet{
		MemberID:                      subscriberID,
		CategoryID:                    demoCategoryID,
		BenefitType:                   wallet.BenefitCurrency,
		DeductibleAccumulationEnabled: true,
		BenefitLimit:                  2000000,
	}
	if err := h.Store.CreateWallet(ctx, &wlt); err != nil {
		return LoadScenarioResponse{}, err
	}

	resp := LoadScenarioResponse{WalletID: wlt.ID, MemberID: subscriberID}
	tp := h.demoProcedure(wlt, "gp-embryo-transfer", "Frozen embryo transfer", wallet.ProcedureMedical, wallet.ProcedureCompleted, now.AddDate(0, 0, -3), 450000)
	if err := h.Store.CreateTreatmentProcedure(ctx, &tp); err != nil {
		return LoadScenarioResponse{}, err
	}
	resp.TreatmentProcedureUUIDs = append(resp.TreatmentProcedureUUIDs, tp.UUID.String())
	return resp, nil
}

// =============================================================================
// SCENARIO: CYCLE WALLET
// =============================================================================

func (h *Handler) loadCycleWalletScenario(ctx context.Context) (LoadScenarioResponse, error) {
	const memberID = int64(2004)
	now := h.now().UTC()

	plan, err := h.memberPlan(ctx, demoMember{ID: memberID, SubscriberID: memberID, First: "Morgan", Last: "Lee", Sex: "U", Relationship: "cardholder"}, ppoPlan(), eligibility.PlanTypeIndividual)
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	h.RTE.Put(plan.ID, eligibility.Info{
		IndividualDeductibleRemaining: eligibility.Cents(0),
		IndividualOOPRemaining:        eligibility.Cents(250000),
		Coinsurance:                   eligibility.Percent(20),
	}, now.Unix())

	wlt := wallet.Wallet{
		MemberID:    memberID,
		CategoryID:  demoCategoryID,
		BenefitType: wallet.BenefitCycle,
	}
	if err := h.Store.CreateWallet(ctx, &wlt); err != nil {
		return LoadScenarioResponse{}, err
	}
	ledger := credits.NewLedger(h.Store)
	if err := ledger.Grant(ctx, wlt.ID, 36, fmt.Sprintf("scenario-cycle-grant-%d", wlt.ID)); err != nil {
		return LoadScenarioResponse{}, err
	}

	resp := LoadScenarioResponse{WalletID: wlt.ID, MemberID: memberID}
	tp := h.demoProcedure(wlt, "gp-ivf-retrieval", "IVF egg retrieval", wallet.ProcedureMedical, wallet.ProcedureCompleted, now.AddDate(0, 0, -10), 1500000)
	if err := h.Store.CreateTreatmentProcedure(ctx, &tp); err != nil {
		return LoadScenarioResponse{}, err
	}
	resp.TreatmentProcedureUUIDs = append(resp.TreatmentProcedureUUIDs, tp.UUID.String())

	rr := wallet.ReimbursementRequest{
		WalletID:               wlt.ID,
		CategoryID:             demoCategoryID,
		Label:                  "Genetic testing",
		ServiceProvider:        "Bay Area Fertility",
		PersonReceivingService: "Morgan Lee",
		Amount:                 60000,
		State:                  wallet.StateNew,
		ReimbursementType:      wallet.ReimbursementManual,
		ProcedureType:          wallet.ProcedureMedical,
		CostSharingCategory:    eligibility.CategoryDiagnosticMedical,
		ServiceStartDate:       now.AddDate(0, 0, -5).Truncate(24 * time.Hour),
		CreatedAt:              now,
	}
	if err := h.Store.CreateReimbursementRequest(ctx, &rr); err != nil {
		return LoadScenarioResponse{}, err
	}
	resp.ReimbursementRequestIDs = append(resp.ReimbursementRequestIDs, rr.ID)
	return resp, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func yearStart(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

type demoMember struct {
	ID           int64
	SubscriberID int64
	First        string
	Last         string
	Sex          string
	Relationship string
}

// memberPlan stores an open-ended member health plan starting last
// January along with the member directory entry. Dependents share the
// subscriber's insurance id.
func (h *Handler) memberPlan(ctx context.Context, m demoMember, employer eligibility.EmployerHealthPlan, planType eligibility.PlanType) (eligibility.MemberHealthPlan, error) {
	if err := h.Store.PutMember(ctx, reimbursement.Member{ID: m.ID, FirstName: m.First, LastName: m.Last}); err != nil {
		return eligibility.MemberHealthPlan{}, err
	}
	plan := eligibility.MemberHealthPlan{
		MemberID:              m.ID,
		EmployerHealthPlan:    employer,
		SubscriberInsuranceID: fmt.Sprintf("U%08d01", m.SubscriberID),
		PatientFirstName:      m.First,
		PatientLastName:       m.Last,
		PatientDateOfBirth:    time.Date(1988, time.June, 15, 0, 0, 0, 0, time.UTC),
		PatientSex:            m.Sex,
		PatientRelationship:   m.Relationship,
		PlanType:              planType,
		PlanStartAt:           yearStart(h.now()).AddDate(-1, 0, 0),
		IsSubscriber:          m.ID == m.SubscriberID,
	}
	if err := h.Store.PutMemberHealthPlan(ctx, &plan); err != nil {
		return eligibility.MemberHealthPlan{}, err
	}
	return plan, nil
}

func (h *Handler) demoProcedure(w wallet.Wallet, gpID, name string, procType wallet.ProcedureType, status wallet.ProcedureStatus, start time.Time, cost int64) wallet.TreatmentProcedure {
	clinic := demoClinicID
	return wallet.TreatmentProcedure{
		MemberID:          w.MemberID,
		WalletID:          w.ID,
		ClinicID:          &clinic,
		GlobalProcedureID: gpID,
		ProcedureName:     name,
		CategoryID:        w.CategoryID,
		Status:            status,
		ProcedureType:     procType,
		StartDate:         start.Truncate(24 * time.Hour),
		Cost:              cost,
	}
}
