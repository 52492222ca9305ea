// Package httpstatus exposes the loopback /healthz and /metrics endpoints
// the process listens on, grounded on the teacher's own server.Run (its
// stdlib http.ServeMux plus stampede/middleware chain) and
// internal/prometheus.go's promhttp wiring, generalized from the
// teacher's book/work/author routes to a health probe and a metrics
// scrape target.
package httpstatus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/stampede"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nowail/bookwatch/internal/metrics"
	"github.com/nowail/bookwatch/internal/store"
)

// Server serves the status mux.
type Server struct {
	store     store.Store
	metrics   *metrics.Collector
	startedAt time.Time
}

// New builds a Server.
func New(s store.Store, m *metrics.Collector) *Server {
	return &Server{store: s, metrics: m, startedAt: time.Now()}
}

// Mux builds the status mux: /healthz, /metrics, and a 404 default,
// wrapped in the same stampede-coalescing/request-ID/recover chain the
// teacher's server.Run assembles around its own mux.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	var h http.Handler = mux
	h = stampede.Handler(1024, 0)(h) // Coalesce requests to the same resource.
	h = middleware.RequestID(h)      // Include a request ID header.
	h = middleware.Recoverer(h)      // Recover from panics.
	return h
}

// healthResponse is the /healthz JSON body.
type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	TotalBooks    int     `json:"total_books,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// healthz reports process uptime and a Store reachability check (a cheap
// Stats() round trip), returning 503 if the Store can't be reached.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", UptimeSeconds: time.Since(s.startedAt).Seconds()}
	stats, err := s.store.Stats(ctx)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	resp.TotalBooks = stats.TotalBooks
	_ = json.NewEncoder(w).Encode(resp)
}

// ListenAndServe runs the status mux on addr until ctx is cancelled, then
// shuts down gracefully within a bounded window.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Mux()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
