/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zerolog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/reimbursement-requests/*  Cost breakdowns for reimbursement requests
  /api/treatment-procedures/*    Cost breakdowns and wallet balance
  /api/cost-breakdowns/*         Persisted cost breakdowns
  /api/accumulation/*            Payer accumulator files
  /api/scenarios/*               Demo scenarios
  /healthz                       Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Accumulation-Records", "X-Accumulation-Skipped"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Reimbursement request routes
		r.Route("/reimbursement-requests/{id}", func(r chi.Router) {
			r.Post("/cost-breakdown", h.CostBreakdownForReimbursementRequest)
			r.Post("/cost-breakdown/override", h.OverrideReimbursementRequestCostBreakdown)
		})

		// Treatment procedure routes
		r.Route("/treatment-procedures/{uuid}", func(r chi.Router) {
			r.Post("/cost-breakdown", h.CostBreakdownForTreatmentProcedure)
			r.Post("/cost-breakdown/override", h.OverrideTreatmentProcedureCostBreakdown)
			r.Post("/deduct-balance", h.DeductBalance)
			r.Post("/add-back-balance", h.AddBackBalance)
		})

		r.Get("/cost-breakdowns/{id}", h.GetCostBreakdown)

		// Accumulation routes
		r.Route("/accumulation/{payer}", func(r chi.Router) {
			r.Post("/files", h.GenerateAccumulationFile)
			r.Post("/responses", h.ProcessAccumulationResponses)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
