// Package statusapi implements the engine's status/introspection HTTP
// server: liveness, pending async-map keys for stuck-build debugging, and a
// Prometheus scrape endpoint. Grounded on the teacher's internal/api/api.go,
// which is plain net/http with no router library; this package keeps that
// shape, with a single writeJSON helper.
package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/buildforge/justb/internal/metrics"
)

// PendingSource names one asyncmap-backed consumer whose pending keys
// should be reported under /pending, keyed by a human label ("targets",
// "rules", "directories").
type PendingSource struct {
	Label string
	Keys  func() []string
}

// Server is the status HTTP server.
type Server struct {
	addr       string
	collector  *metrics.Collector
	sources    []PendingSource
	startTime  time.Time
	httpServer *http.Server
}

// NewServer constructs a status server listening on addr, reporting
// collector's metrics at /metrics and each source's pending keys at
// /pending.
func NewServer(addr string, collector *metrics.Collector, sources []PendingSource) *Server {
	return &Server{addr: addr, collector: collector, sources: sources, startTime: time.Now()}
}

// Start begins listening on addr. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/pending", s.handlePending)
	if s.collector != nil {
		mux.Handle("/metrics", s.collector.Handler())
	}

	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"uptime_s": time.Since(s.startTime).Seconds(),
	})
}

// pendingEntry is one consumer's pending-key snapshot under /pending.
type pendingEntry struct {
	Consumer string   `json:"consumer"`
	Count    int      `json:"count"`
	Keys     []string `json:"keys"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	entries := make([]pendingEntry, 0, len(s.sources))
	for _, src := range s.sources {
		keys := src.Keys()
		entries = append(entries, pendingEntry{Consumer: src.Label, Count: len(keys), Keys: keys})
	}
	writeJSON(w, entries)
}
