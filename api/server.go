/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/pto/policies/*   Policy management
  /api/pto/employees/*  Employee records
  /api/pto/balance/*    Balances and adjustments
  /api/pto/ledger/*     History and reconciliation
  /api/pto/requests/*   Request lifecycle
  /api/pto/accruals/*   Batch accrual triggers
  /api/pto/carryover/*  Year-boundary carryover
  /api/pto/reports/*    Aggregations
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api/pto", func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Put("/{id}", h.UpdatePolicy)
			r.Delete("/{id}", h.DeactivatePolicy)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
		})

		r.Route("/balance", func(r chi.Router) {
			r.Get("/", h.ListCompanyBalances)
			r.Get("/{employeeId}", h.GetBalances)
			r.Post("/{employeeId}/adjust", h.AdjustBalance)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/{employeeId}", h.GetLedger)
			r.Post("/{employeeId}/reconcile", h.ReconcileBalance)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/deny", h.DenyRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Route("/accruals", func(r chi.Router) {
			r.Post("/process", h.ProcessAccruals)
			r.Post("/process/{employeeId}", h.ProcessEmployeeAccrual)
		})

		r.Post("/carryover/process", h.ProcessCarryover)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/company/{companyId}", h.CompanyReport)
			r.Get("/employee/{employeeId}", h.EmployeeReport)
		})
	})

	return r
}
