package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/feedtag/internal/model"
)

// findMetric は名前とラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("%s %v metric not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if NewCollector(prometheus.NewRegistry()) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestCollector_FetchCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess("https://example.com/a")
	c.RecordFetchSuccess("https://example.com/b")
	c.RecordFetchFailure("https://example.com/c", model.FailureTransport)
	c.RecordFetchFailure("https://example.com/d", model.FailureUnknownFormat)
	c.RecordFetchFailure("https://example.com/e", model.FailureTransport)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)
	c.RecordHTTPStatus(404)

	if v := findMetric(t, reg, "feedtag_fetch_success_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("fetch_success_total = %v, want 2", v)
	}
	if v := findMetric(t, reg, "feedtag_fetch_fail_total", map[string]string{"kind": "transport"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("fetch_fail_total{kind=transport} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "feedtag_fetch_fail_total", map[string]string{"kind": "unknown_format"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("fetch_fail_total{kind=unknown_format} = %v, want 1", v)
	}
	if v := findMetric(t, reg, "feedtag_http_status_total", map[string]string{"status_code": "404"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("http_status_total{404} = %v, want 2", v)
	}
}

func TestCollector_MergeAndQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEntriesMerged(3, 2)
	c.RecordEntriesMerged(1, 0)
	c.RecordHookFailures(2)
	c.RecordDateFallbacks(4)
	c.SetQueueDepth(7, 3)
	c.SetStoreEntries(42)
	c.RecordFetchLatency(150 * time.Millisecond)

	if v := findMetric(t, reg, "feedtag_entries_merged_total", map[string]string{"result": "inserted"}).GetCounter().GetValue(); v != 4 {
		t.Errorf("entries_merged_total{inserted} = %v, want 4", v)
	}
	if v := findMetric(t, reg, "feedtag_hook_failures_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("hook_failures_total = %v, want 2", v)
	}
	if v := findMetric(t, reg, "feedtag_date_fallbacks_total", nil).GetCounter().GetValue(); v != 4 {
		t.Errorf("date_fallbacks_total = %v, want 4", v)
	}
	if v := findMetric(t, reg, "feedtag_fetch_queue_depth", nil).GetGauge().GetValue(); v != 7 {
		t.Errorf("fetch_queue_depth = %v, want 7", v)
	}
	if v := findMetric(t, reg, "feedtag_fetch_in_flight", nil).GetGauge().GetValue(); v != 3 {
		t.Errorf("fetch_in_flight = %v, want 3", v)
	}
	if v := findMetric(t, reg, "feedtag_store_entries", nil).GetGauge().GetValue(); v != 42 {
		t.Errorf("store_entries = %v, want 42", v)
	}
	if n := findMetric(t, reg, "feedtag_fetch_latency_seconds", nil).GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("fetch_latency_seconds count = %v, want 1", n)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordFetchSuccess("https://example.com/feed")
	c.ObserveRequest(http.MethodGet, 200, 10*time.Millisecond)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"feedtag_fetch_success_total", "feedtag_http_request_duration_seconds"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("response should contain %s", name)
		}
	}
}
