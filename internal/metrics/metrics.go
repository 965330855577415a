// Package metrics exposes the engine's live counters as Prometheus metrics:
// queued/cached/executed/flaky action counts from internal/depgraph.Statistics,
// per-generation object counts from internal/cas.Storage, and pending-key
// gauges from internal/asyncmap maps, scraped via promhttp at [metrics]
// listen_addr. Grounded on vjache-cie's cmd/cie/index.go, which exposes
// promhttp.Handler() on an optional --metrics-addr flag; that repo registers
// no custom metrics of its own, so the Collector/gauge wiring here is this
// package's own, built with the same prometheus/client_golang primitives.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buildforge/justb/internal/depgraph"
)

// GenerationCounter is satisfied by *cas.Storage; kept as an interface so
// this package never imports internal/cas directly (metrics is a leaf
// consumer, not a dependency of storage).
type GenerationCounter interface {
	GenerationCounts() (map[int]int64, error)
}

// PendingCounter is satisfied by *asyncmap.Map[K, V] for any K, V, via a
// thin closure at the call site (PendingKeys returns a slice, and generics
// don't let us name the instantiated type here).
type PendingCounter func() int

// Collector registers and periodically refreshes the engine's Prometheus
// metrics from live sources. It owns no state of its own beyond the gauge
// handles; every value is pulled fresh from the sources on each Collect.
type Collector struct {
	registry *prometheus.Registry

	actionsQueued          prometheus.Gauge
	actionsCached          prometheus.Gauge
	actionsExecuted        prometheus.Gauge
	actionsFlaky           prometheus.Gauge
	actionsFlakyTainted    prometheus.Gauge
	rebuiltActionsCompared prometheus.Gauge
	rebuiltActionsMissing  prometheus.Gauge
	casGenerationObjects   *prometheus.GaugeVec
	asyncMapPending        *prometheus.GaugeVec

	stats       *depgraph.Statistics
	generations GenerationCounter
	pending     map[string]PendingCounter
}

// New constructs a Collector wired to stats and, when non-nil, generations.
// pending maps a label (e.g. "targets", "actions") to a closure reading the
// current pending-key count of the corresponding asyncmap.
func New(stats *depgraph.Statistics, generations GenerationCounter, pending map[string]PendingCounter) *Collector {
	c := &Collector{
		registry:    prometheus.NewRegistry(),
		stats:       stats,
		generations: generations,
		pending:     pending,

		actionsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justb_actions_queued_total",
			Help: "Actions queued for execution.",
		}),
		actionsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justb_actions_cached_total",
			Help: "Actions satisfied from the action cache without execution.",
		}),
		actionsExecuted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justb_actions_executed_total",
			Help: "Actions actually run by the executor.",
		}),
		actionsFlaky: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justb_actions_flaky_total",
			Help: "Actions whose outputs differed across rebuild comparison.",
		}),
		actionsFlakyTainted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justb_actions_flaky_tainted_total",
			Help: "Actions marked tainted after a flaky rebuild comparison.",
		}),
		rebuiltActionsCompared: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justb_rebuilt_actions_compared_total",
			Help: "Actions re-executed and compared against a prior result.",
		}),
		rebuiltActionsMissing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justb_rebuilt_actions_missing_total",
			Help: "Rebuild comparisons where the prior result was absent from cache.",
		}),
		casGenerationObjects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "justb_cas_generation_objects",
			Help: "Indexed objects per CAS generation, labeled by generation number.",
		}, []string{"generation"}),
		asyncMapPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "justb_asyncmap_pending_keys",
			Help: "Keys whose computation has started but not yet completed, by map name.",
		}, []string{"map"}),
	}

	c.registry.MustRegister(
		c.actionsQueued, c.actionsCached, c.actionsExecuted,
		c.actionsFlaky, c.actionsFlakyTainted,
		c.rebuiltActionsCompared, c.rebuiltActionsMissing,
		c.casGenerationObjects, c.asyncMapPending,
	)
	return c
}

// Collect refreshes every gauge from its live source. Call it on a timer or
// immediately before serving a scrape.
func (c *Collector) Collect() error {
	if c.stats != nil {
		c.actionsQueued.Set(float64(c.stats.ActionsQueued()))
		c.actionsCached.Set(float64(c.stats.ActionsCached()))
		c.actionsExecuted.Set(float64(c.stats.ActionsExecuted()))
		c.actionsFlaky.Set(float64(c.stats.ActionsFlaky()))
		c.actionsFlakyTainted.Set(float64(c.stats.ActionsFlakyTainted()))
		c.rebuiltActionsCompared.Set(float64(c.stats.RebuiltActionsCompared()))
		c.rebuiltActionsMissing.Set(float64(c.stats.RebuiltActionsMissing()))
	}
	if c.generations != nil {
		counts, err := c.generations.GenerationCounts()
		if err != nil {
			return err
		}
		for gen, count := range counts {
			c.casGenerationObjects.WithLabelValues(strconv.Itoa(gen)).Set(float64(count))
		}
	}
	for name, fn := range c.pending {
		c.asyncMapPending.WithLabelValues(name).Set(float64(fn()))
	}
	return nil
}

// Handler returns the promhttp handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Run refreshes the collector every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks until ctx
// is cancelled or the server fails, mirroring the teacher's metrics-http
// goroutine in cmd/cie's index command.
func Serve(ctx context.Context, addr string, c *Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
