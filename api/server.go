/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, picked up by handler logs
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/subjects/*     Soll intervals of tenancies and managed units
  /api/properties/*   Expenses, postings, annual summary
  /api/import         Fact documents
  /api/scenarios/*    Demo scenarios
  /metrics            Prometheus
  /healthz            Liveness

SECURITY NOTE:
  No authentication middleware. The engine is a single-user tool.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Subject routes
		r.Route("/subjects", func(r chi.Router) {
			r.Post("/", h.CreateSubject)
			r.Get("/{id}", h.GetSubject)
			r.Get("/{id}/intervals", h.ListIntervals)
			r.Delete("/{id}/intervals/{intervalID}", h.DeleteInterval)
			r.Get("/{id}/value", h.GetValue)
			r.Get("/{id}/current", h.GetCurrentValue)
			r.Get("/{id}/latest", h.GetLatest)
			r.Get("/{id}/coverage", h.GetCoverage)
			r.Post("/{id}/successor/draft", h.ProposeSuccessor)
			r.Post("/{id}/successor", h.CommitSuccessor)
		})

		// Property routes
		r.Route("/properties/{id}", func(r chi.Router) {
			r.Get("/subjects", h.ListSubjects)
			r.Get("/expenses", h.ListExpenses)
			r.Post("/expenses", h.CreateExpense)
			r.Get("/expenses/{expenseID}/schedule", h.GetExpenseSchedule)
			r.Get("/amortization", h.GetAmortization)
			r.Post("/postings", h.CreatePosting)
			r.Get("/summary", h.GetSummary)
		})

		r.Post("/import", h.ImportFacts)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "No such route", nil)
	})

	return r
}
