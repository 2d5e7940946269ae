package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"featurevotes/internal/service"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter mounts the feature-votes API. POST /reconcile is only mounted
// when reconcileSecret is set.
func NewRouter(logger *log.Logger, voteService *service.VoteService, db Pinger, reconcileSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logger.Printf("Health check failed: %v", err)
			writeError(w, logger, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/feature-votes", func(r chi.Router) {
		r.Method(http.MethodPost, "/confirm", NewConfirmHandler(logger, voteService))
		r.Method(http.MethodPost, "/create-checkout", NewCreateCheckoutHandler(logger, voteService))
		if reconcileSecret != "" {
			r.With(requireSecret(logger, ReconcileSecretHeader, reconcileSecret)).
				Method(http.MethodPost, "/reconcile", NewReconcileHandler(logger, voteService))
		}
		r.Method(http.MethodGet, "/leaderboard", NewLeaderboardHandler(logger, voteService))
		r.Method(http.MethodGet, "/checkouts/{checkoutID}", NewCheckoutStateHandler(logger, voteService))
	})

	return r
}
