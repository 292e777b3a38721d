// Package diag is the node's optional read-only diagnostics HTTP surface:
// process status, follow-graph counts, outbox depth, and recent
// notifications, for operational introspection only — no endpoint here
// mutates state. Grounded on klistr's internal/server admin surface, pared
// down to GET-only JSON since this node has no web UI of its own.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klppl/socialnode/internal/gossip"
	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/store"
)

// Server is the diagnostics HTTP listener.
type Server struct {
	self      *identity.Identity
	store     *store.Store
	publisher *gossip.Publisher
	startedAt time.Time
	router    *chi.Mux
}

// New builds a diagnostics Server. publisher may be nil if gossip fan-out
// stats aren't available in the caller's context (e.g. a test harness).
func New(self *identity.Identity, st *store.Store, publisher *gossip.Publisher) *Server {
	s := &Server{self: self, store: st, publisher: publisher, startedAt: time.Now()}
	s.router = s.buildRouter()
	return s
}

// Start runs the diagnostics HTTP server on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting diagnostics listener", "addr", addr)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("diagnostics shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("diagnostics server error", "error", err)
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/followers", s.handleFollowers)
	r.Get("/outbox", s.handleOutbox)
	r.Get("/notifications", s.handleNotifications)
	return r
}

func jsonResponse(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("diag: encode response", "error", err)
	}
}
