/*
handlers.go - HTTP API handlers for the benefits engine

PURPOSE:
  Exposes cost breakdowns, wallet balance reimbursements and accumulator
  files via REST API. Handles HTTP request/response, JSON serialization,
  and delegates to domain logic.

ENDPOINTS:
  Cost breakdowns:
    POST   /api/reimbursement-requests/{id}/cost-breakdown           Price a request
    POST   /api/reimbursement-requests/{id}/cost-breakdown/override  Admin override
    POST   /api/treatment-procedures/{uuid}/cost-breakdown           Price a procedure
    POST   /api/treatment-procedures/{uuid}/cost-breakdown/override  Admin override
    GET    /api/cost-breakdowns/{id}                                 Get cost breakdown

  Wallet balance:
    POST   /api/treatment-procedures/{uuid}/deduct-balance    Deduct and queue accumulation
    POST   /api/treatment-procedures/{uuid}/add-back-balance  Refund and queue reversal

  Accumulation:
    POST   /api/accumulation/{payer}/files      Generate the payer file
    POST   /api/accumulation/{payer}/responses  Apply a payer response file

  Scenarios:
    GET    /api/scenarios       List demo scenarios
    POST   /api/scenarios/load  Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: sqlstore, satisfying every repository interface
  - Processor, Engine, Builder, Responses: domain services built on Store
  - RTE: canned eligibility responses, filled by scenarios

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input
  - 404: Resource not found
  - 409: Conflict (already linked, already refunded, payer disabled)
  - 422: Input the calculator cannot price
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/benefits-engine/accumulation"
	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/credits"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/reimbursement"
	"github.com/warp/benefits-engine/store/memory"
	"github.com/warp/benefits-engine/store/sqlstore"
	"github.com/warp/benefits-engine/wallet"
)

const maxResponseFileBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlstore.Store
	RTE       *memory.RTE
	Processor *costbreakdown.Processor
	Engine    *reimbursement.Engine
	Builder   *accumulation.Builder
	Responses *accumulation.ResponseProcessor

	log zerolog.Logger
	now func() time.Time
}

// NewHandler wires the domain services on top of store.
func NewHandler(store *sqlstore.Store, rte *memory.RTE, cfg costbreakdown.Config, opts accumulation.Options, log zerolog.Logger) *Handler {
	if rte == nil {
		rte = memory.NewRTE()
	}
	return &Handler{
		Store: store,
		RTE:   rte,
		Processor: costbreakdown.NewProcessor(cfg, costbreakdown.Deps{
			Store:  store,
			Plans:  store,
			Payers: store,
			RTE:    rte,
			Spend:  store,
		}, log),
		Engine: reimbursement.NewEngine(reimbursement.Deps{
			Store:      store,
			Clinics:    store,
			Members:    store,
			Plans:      store,
			Procedures: store,
			Credits:    credits.NewLedger(store),
		}, log),
		Builder: accumulation.NewBuilder(accumulation.BuilderDeps{
			Mappings:       store,
			Subjects:       store,
			CostBreakdowns: store,
			Plans:          store,
			Payers:         store,
		}, opts, log),
		Responses: accumulation.NewResponseProcessor(store, store, opts, log),
		log:       log.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
}

// =============================================================================
// COST BREAKDOWN HANDLERS
// =============================================================================

// CostBreakdownForReimbursementRequest prices a reimbursement request.
func (h *Handler) CostBreakdownForReimbursementRequest(w http.ResponseWriter, r *http.Request) {
	rr, ok := h.reimbursementRequest(w, r)
	if !ok {
		return
	}

	var req ReimbursementRequestCostBreakdownRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	wlt, err := h.Store.GetWallet(r.Context(), rr.WalletID)
	if err != nil {
		h.writeDomainError(w, "Failed to load wallet", err)
		return
	}

	cb, err := h.Processor.CostBreakdownForReimbursementRequest(r.Context(), costbreakdown.RequestParams{
		Request:               rr,
		Wallet:                wlt,
		UserID:                req.UserID,
		CostSharingCategory:   eligibility.CostSharingCategory(req.CostSharingCategory),
		WalletBalanceOverride: req.WalletBalanceOverride,
		Tier:                  tierPtr(req.Tier),
	})
	if err != nil {
		h.writeDomainError(w, costbreakdown.AdminMessage(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostBreakdownDTO(cb))
}

// OverrideReimbursementRequestCostBreakdown writes an admin override for a
// reimbursement request.
func (h *Handler) OverrideReimbursementRequestCostBreakdown(w http.ResponseWriter, r *http.Request) {
	rr, ok := h.reimbursementRequest(w, r)
	if !ok {
		return
	}

	var req OverrideCostBreakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wlt, err := h.Store.GetWallet(r.Context(), rr.WalletID)
	if err != nil {
		h.writeDomainError(w, "Failed to load wallet", err)
		return
	}
	memberID := req.MemberID
	if memberID == 0 {
		memberID = wlt.MemberID
	}
	cost := rr.Amount
	if req.Cost != nil {
		cost = *req.Cost
	}

	cb, err := h.Processor.CreateOverrideCostBreakdown(r.Context(), costbreakdown.OverrideRequest{
		ReimbursementRequest: &rr,
		Wallet:               wlt,
		MemberID:             memberID,
		Cost:                 cost,
		DeductibleOverride:   req.DeductibleOverride,
		OOPOverride:          req.OOPOverride,
		WalletBalance:        req.WalletBalance,
	})
	if err != nil {
		h.writeDomainError(w, costbreakdown.AdminMessage(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostBreakdownDTO(cb))
}

// CostBreakdownForTreatmentProcedure prices a treatment procedure as of its
// start date.
func (h *Handler) CostBreakdownForTreatmentProcedure(w http.ResponseWriter, r *http.Request) {
	tp, ok := h.treatmentProcedure(w, r)
	if !ok {
		return
	}

	var req TreatmentProcedureCostBreakdownRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	wlt, err := h.Store.GetWallet(r.Context(), tp.WalletID)
	if err != nil {
		h.writeDomainError(w, "Failed to load wallet", err)
		return
	}

	cb, err := h.Processor.CostBreakdownForTreatmentProcedure(r.Context(), tp, wlt, costbreakdown.ProcedureOptions{
		CostSharingCategory:   eligibility.CostSharingCategory(req.CostSharingCategory),
		WalletBalanceOverride: req.WalletBalanceOverride,
		Tier:                  tierPtr(req.Tier),
	})
	if err != nil {
		h.writeDomainError(w, costbreakdown.AdminMessage(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostBreakdownDTO(cb))
}

// OverrideTreatmentProcedureCostBreakdown writes an admin override for a
// treatment procedure and points the procedure at it.
func (h *Handler) OverrideTreatmentProcedureCostBreakdown(w http.ResponseWriter, r *http.Request) {
	tp, ok := h.treatmentProcedure(w, r)
	if !ok {
		return
	}

	var req OverrideCostBreakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wlt, err := h.Store.GetWallet(r.Context(), tp.WalletID)
	if err != nil {
		h.writeDomainError(w, "Failed to load wallet", err)
		return
	}
	cost := tp.Cost
	if req.Cost != nil {
		cost = *req.Cost
	}

	cb, err := h.Processor.CreateOverrideCostBreakdown(r.Context(), costbreakdown.OverrideRequest{
		TreatmentProcedure: &tp,
		Wallet:             wlt,
		MemberID:           tp.MemberID,
		Cost:               cost,
		DeductibleOverride: req.DeductibleOverride,
		OOPOverride:        req.OOPOverride,
		WalletBalance:      req.WalletBalance,
	})
	if err != nil {
		h.writeDomainError(w, costbreakdown.AdminMessage(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostBreakdownDTO(cb))
}

// GetCostBreakdown returns a persisted cost breakdown.
func (h *Handler) GetCostBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cost breakdown id", err)
		return
	}

	cb, err := h.Processor.GetCostBreakdown(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get cost breakdown", err)
		return
	}
	writeJSON(w, http.StatusOK, toCostBreakdownDTO(cb))
}

// =============================================================================
// WALLET BALANCE HANDLERS
// =============================================================================

// DeductBalance records the procedure's cost breakdown against the wallet.
// Deductible accumulation wallets also get an accumulator report queued.
func (h *Handler) DeductBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tp, ok := h.treatmentProcedure(w, r)
	if !ok {
		return
	}
	if tp.CostBreakdownID == nil {
		writeError(w, http.StatusUnprocessableEntity, "Treatment procedure has no cost breakdown", nil)
		return
	}

	cb, err := h.Store.GetCostBreakdown(ctx, *tp.CostBreakdownID)
	if err != nil {
		h.writeDomainError(w, "Failed to load cost breakdown", err)
		return
	}
	wlt, err := h.Store.GetWallet(ctx, tp.WalletID)
	if err != nil {
		h.writeDomainError(w, "Failed to load wallet", err)
		return
	}

	processed, err := h.Engine.DeductBalance(ctx, tp, cb, wlt)
	if err != nil {
		h.writeDomainError(w, "Failed to deduct wallet balance", err)
		return
	}

	resp := DeductBalanceResponse{
		TreatmentProcedureUUID: tp.UUID.String(),
		CostBreakdownID:        cb.ID,
		Processed:              processed,
	}
	if processed && wlt.DeductibleAccumulationEnabled && tp.Status.IsBillable() {
		resp.AccumulationMappingID = h.queueAccumulation(ctx, tp, cb)
	}

	resp.WalletBalance, err = h.Store.WalletBalance(ctx, wlt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load wallet balance", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddBackBalance refunds the procedure's reimbursement requests. A reversal
// is queued when the original amounts were reported to the payer.
func (h *Handler) AddBackBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tp, ok := h.treatmentProcedure(w, r)
	if !ok {
		return
	}

	refunds, err := h.Engine.AddBackBalance(ctx, tp)
	if err != nil {
		h.writeDomainError(w, "Failed to add back wallet balance", err)
		return
	}

	resp := AddBackBalanceResponse{
		TreatmentProcedureUUID: tp.UUID.String(),
		Refunds:                make([]ReimbursementRequestDTO, len(refunds)),
	}
	for i, rr := range refunds {
		resp.Refunds[i] = toReimbursementRequestDTO(rr)
	}

	wlt, err := h.Store.GetWallet(ctx, tp.WalletID)
	if err != nil {
		h.writeDomainError(w, "Failed to load wallet", err)
		return
	}
	if wlt.DeductibleAccumulationEnabled {
		resp.AccumulationMappingID = h.queueReversal(ctx, tp)
	}

	resp.WalletBalance, err = h.Store.WalletBalance(ctx, wlt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load wallet balance", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// queueAccumulation reports cb to the payer, taking back an earlier report
// of the same procedure when it was repriced. Failures are logged; the
// balance change already happened.
func (h *Handler) queueAccumulation(ctx context.Context, tp wallet.TreatmentProcedure, cb costbreakdown.CostBreakdown) *int64 {
	m, err := h.Builder.Report(ctx, tp, cb)
	if err != nil {
		h.log.Error().Err(err).
			Str("treatment_procedure_uuid", tp.UUID.String()).
			Int64("cost_breakdown_id", cb.ID).
			Msg("failed to queue accumulation mapping")
		return nil
	}
	if m == nil {
		return nil
	}
	return &m.ID
}

// queueReversal takes back the procedure's standing report, if one was sent.
func (h *Handler) queueReversal(ctx context.Context, tp wallet.TreatmentProcedure) *int64 {
	m, err := h.Builder.Reverse(ctx, tp)
	if err != nil {
		h.log.Error().Err(err).
			Str("treatment_procedure_uuid", tp.UUID.String()).
			Msg("failed to queue accumulation reversal")
		return nil
	}
	if m == nil {
		return nil
	}
	return &m.ID
}

// =============================================================================
// ACCUMULATION HANDLERS
// =============================================================================

// GenerateAccumulationFile builds the payer's file from its WAITING
// mappings and returns it as the response body.
func (h *Handler) GenerateAccumulationFile(w http.ResponseWriter, r *http.Request) {
	payer := payerParam(r)

	file, err := h.Builder.BuildFile(r.Context(), payer, h.now().UTC())
	if err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to generate %s accumulation file", payer), err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=us-ascii")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("X-Accumulation-Records", strconv.Itoa(len(file.Details)))
	w.Header().Set("X-Accumulation-Skipped", strconv.Itoa(len(file.Skipped)))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Content)
}

// ProcessAccumulationResponses applies a payer response file.
func (h *Handler) ProcessAccumulationResponses(w http.ResponseWriter, r *http.Request) {
	payer := payerParam(r)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxResponseFileBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read response file", err)
		return
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "Response file is empty", nil)
		return
	}

	rows, err := h.Responses.Process(r.Context(), payer, raw)
	if err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to process %s response file", payer), err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponsesResponse(payer, rows))
}

func payerParam(r *http.Request) accumulation.PayerName {
	return accumulation.PayerName(strings.ToLower(chi.URLParam(r, "payer")))
}

// =============================================================================
// LOOKUP HELPERS
// =============================================================================

func (h *Handler) reimbursementRequest(w http.ResponseWriter, r *http.Request) (wallet.ReimbursementRequest, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reimbursement request id", err)
		return wallet.ReimbursementRequest{}, false
	}
	rr, err := h.Store.GetReimbursementRequest(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get reimbursement request", err)
		return wallet.ReimbursementRequest{}, false
	}
	return rr, true
}

func (h *Handler) treatmentProcedure(w http.ResponseWriter, r *http.Request) (wallet.TreatmentProcedure, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid treatment procedure uuid", err)
		return wallet.TreatmentProcedure{}, false
	}
	tp, err := h.Store.GetTreatmentProcedure(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get treatment procedure", err)
		return wallet.TreatmentProcedure{}, false
	}
	return tp, true
}

// decodeOptionalBody decodes JSON into v, accepting an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
	return false
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrTreatmentProcedureNotFound),
		errors.Is(err, wallet.ErrReimbursementRequestNotFound),
		errors.Is(err, costbreakdown.ErrNotFound),
		errors.Is(err, eligibility.ErrMemberHealthPlanNotFound),
		errors.Is(err, eligibility.ErrPayerNotFound),
		errors.Is(err, accumulation.ErrMappingNotFound),
		errors.Is(err, accumulation.ErrUnknownPayer),
		reimbursement.IsNotFound(err):
		return http.StatusNotFound

	case errors.Is(err, costbreakdown.ErrRecordExists),
		errors.Is(err, costbreakdown.ErrPayerDisabled),
		errors.Is(err, reimbursement.ErrWalletBalanceReimbursements),
		errors.Is(err, credits.ErrDuplicateIdempotencyKey),
		errors.Is(err, credits.ErrInsufficientCredits):
		return http.StatusConflict

	case costbreakdown.IsValidationError(err),
		accumulation.IsValidationError(err),
		errors.Is(err, reimbursement.ErrInvalidClaimRequest):
		return http.StatusUnprocessableEntity

	case errors.Is(err, accumulation.ErrRecordCountMismatch),
		errors.Is(err, accumulation.ErrInvalidUniqueID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
