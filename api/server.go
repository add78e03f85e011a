/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logging:    zerolog request.start / request.complete
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Actor:      X-Actor-ID / X-Actor-Role into the request context

ROUTE GROUPS:
  /api/transactions/*   Apply any kind, fetch, reverse
  /api/purchases/*      Apply, edit, reverse (DELETE)
  /api/transfers/*      Apply, reverse
  /api/assignments/*    Apply, reverse, convert/expend a line
  /api/expenditures/*   Apply, reverse
  /api/balances         Balance read model (low_stock filter)
  /api/audit            Audit trail (alias /api/movements)
  /api/snapshots        Daily snapshots (alias /api/summaries)
  /api/sites, /assets   Catalog
  /api/admin/*          Aggregation and reconciliation
  /healthz              Liveness + store ping
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  Writes require an X-Actor-ID header. Authenticating that header is the
  job of the gateway in front of this service.

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

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
)

// RouterOptions configures the outer surface of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        http.Handler // mounted at /metrics when set
	Logger         *logger.Logger

	// EnableScenarios mounts the demo scenario loader.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(Logging(logg))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorIDHeader, actorRoleHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	r.Use(Actor(logg))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.With(RequireActor).Post("/", h.ApplyTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.With(RequireActor).Post("/{id}/reverse", h.ReverseTransaction)
		})

		// Per-kind routes
		r.Route("/purchases", func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/", h.ApplyKind(ledger.KindPurchase))
			r.Put("/{id}", h.UpdatePurchase)
			r.Delete("/{id}", h.ReverseKind(ledger.KindPurchase))
		})
		r.Route("/transfers", func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/", h.ApplyKind(ledger.KindTransfer))
			r.Delete("/{id}", h.ReverseKind(ledger.KindTransfer))
		})
		r.Route("/assignments", func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/", h.ApplyKind(ledger.KindAssignment))
			r.Delete("/{id}", h.ReverseKind(ledger.KindAssignment))
			r.Post("/{id}/convert", h.ConvertAssignment)
			r.Post("/{id}/expend", h.ConvertAssignment)
		})
		r.Route("/expenditures", func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/", h.ApplyKind(ledger.KindExpenditure))
			r.Delete("/{id}", h.ReverseKind(ledger.KindExpenditure))
		})

		// Read models
		r.Get("/balances", h.QueryBalances)
		r.Get("/audit", h.QueryAuditTrail)
		r.Get("/movements", h.QueryAuditTrail)
		r.Get("/snapshots", h.QuerySnapshots)
		r.Get("/summaries", h.QuerySnapshots)

		// Catalog routes
		r.Route("/sites", func(r chi.Router) {
			r.Get("/", h.ListSites)
			r.With(RequireActor).Post("/", h.CreateSite)
		})
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", h.ListAssets)
			r.With(RequireActor).Post("/", h.CreateAsset)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/aggregate", h.RunAggregation)
			r.Post("/summaries/run", h.RunAggregation)
			r.Get("/reconcile", h.Reconcile)
			r.Post("/reconcile", h.Reconcile)
			if opts.EnableScenarios {
				r.Post("/scenarios/load", h.LoadScenario)
			}
		})

		if opts.EnableScenarios {
			r.Get("/scenarios", h.ListScenarios)
		}
	})

	return r
}
