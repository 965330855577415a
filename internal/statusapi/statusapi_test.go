package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/metrics"
)

func TestHandleHealthz(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %s", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHandlePendingReportsEachSource(t *testing.T) {
	sources := []PendingSource{
		{Label: "targets", Keys: func() []string { return []string{"//a:b", "//c:d"} }},
		{Label: "rules", Keys: func() []string { return nil }},
	}
	srv := NewServer("127.0.0.1:0", nil, sources)
	req := httptest.NewRequest(http.MethodGet, "/pending", nil)
	w := httptest.NewRecorder()
	srv.handlePending(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []pendingEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Consumer != "targets" || entries[0].Count != 2 {
		t.Fatalf("unexpected targets entry: %+v", entries[0])
	}
	if entries[1].Consumer != "rules" || entries[1].Count != 0 {
		t.Fatalf("unexpected rules entry: %+v", entries[1])
	}
}

func TestMetricsHandlerServedWhenCollectorPresent(t *testing.T) {
	collector := metrics.New(depgraph.NewStatistics(), nil, nil)
	srv := NewServer("127.0.0.1:0", collector, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", collector.Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", w.Code)
	}
}
