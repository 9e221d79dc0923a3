package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"binfleet-backend/internal/metrics"
	"binfleet-backend/internal/middleware"
	"binfleet-backend/internal/models"
	"binfleet-backend/internal/services"
	"binfleet-backend/internal/store"
	"binfleet-backend/internal/websocket"
)

// Deps is everything the HTTP layer needs
type Deps struct {
	Repo      store.Repository
	Refresher *services.Refresher
	Planner   *services.Planner
	Hub       *websocket.Hub
	Geocoder  services.Geocoder // nil disables coordinate backfill
	JWTSecret string
	PageSize  int
}

// NewRouter wires the API routes
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Metrics)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint (authentication handled in handler via query param)
	if d.Hub != nil {
		r.Get("/ws", websocket.HandleWebSocket(d.Hub, d.JWTSecret))
	}

	r.Route("/api", func(r chi.Router) {
		// Bin risk view (read-only)
		r.Get("/bins/risk", GetBinRisk(d.Repo, d.PageSize))
		r.Get("/bins/priority-feed", GetPriorityFeed(d.Repo))
		r.Get("/route-plans/{date}", GetRoutePlan(d.Planner))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.JWTSecret))

			// FCM token registration
			r.Post("/fcm-tokens", RegisterDevice(d.Repo))
		})

		// Manager endpoints (require authentication + admin role)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.JWTSecret))
			r.Use(middleware.RequireRole(models.RoleAdmin))

			r.Post("/bins/{id}/collections", RecordCollection(d.Repo))
			if d.Geocoder != nil {
				r.Post("/manager/bins/geocode-missing", GeocodeMissingBins(d.Repo, d.Geocoder))
			}
			r.Get("/manager/officers", GetOfficers(d.Repo))
			r.Post("/manager/predictions/refresh", RefreshPredictions(d.Refresher))
			r.Post("/manager/route-plans/{date}/solve", SolveRoutePlan(d.Planner))
			r.Post("/manager/route-plans/{date}/assign", AssignRoutePlan(d.Planner))
		})
	})

	return r
}
