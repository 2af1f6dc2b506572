package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hyperregistry/internal/config"
	"hyperregistry/internal/storage"
	"hyperregistry/pkg/logging"
)

const subsystem = "HTTP"

// Server is the HTTP front of the registry.
type Server struct {
	cfg     config.ServerConfig
	store   *storage.Backend
	router  chi.Router
	httpSrv *http.Server
	metrics *metrics
	limits  *limiterPool
}

// New builds the server and its route tree. The storage backend is only
// used for the relationship index reads; everything else goes through
// the api handler surface.
func New(cfg config.ServerConfig, store *storage.Backend) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		metrics: newMetrics(),
		limits:  newLimiterPool(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.instrument)
	r.Use(s.rateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/registry", func(r chi.Router) {
			r.Get("/entries", s.handleListEntries)
			r.Post("/entries", s.handleCreateEntry)
			r.Get("/entries/{id}", s.handleGetEntry)
			r.Put("/entries/{id}", s.handlePutEntry)
			r.Patch("/entries/{id}", s.handlePatchEntry)
			r.Delete("/entries/{id}", s.handleDeleteEntry)
			r.Get("/entries/{id}/relationships", s.handleEntryRelationships)

			r.Post("/search", s.handleSearch)
			r.Post("/relationships", s.handleAddRelationship)

			r.Post("/propagate", s.handlePropagate)
			r.Get("/propagate/{id}", s.handleGetSession)

			r.Post("/hotswap", s.handleHotSwap)
			r.Get("/hotswap/{id}", s.handleGetTransition)

			r.Get("/health", s.handleHealth)
			r.Get("/stats", s.handleStats)
		})

		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
		r.Get("/stream/{entry_id}", s.handleStream)
	})

	s.router = r
	return s
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(subsystem, "Listening on %s", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Info(subsystem, "Shutting down")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
