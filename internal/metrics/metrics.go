// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/feedtag/internal/model"
)

// Collector はPrometheusメトリクスを収集する。
// fetch.UpdateMetrics と fetch.QueueMetrics を実装する。
type Collector struct {
	fetchSuccess   prometheus.Counter
	fetchFail      *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	entriesMerged  *prometheus.CounterVec
	hookFailures   prometheus.Counter
	dateFallbacks  prometheus.Counter
	queueDepth     prometheus.Gauge
	inFlight       prometheus.Gauge
	storeEntries   prometheus.Gauge
	requestLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedtag_fetch_success_total",
			Help: "フィード更新成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedtag_fetch_fail_total",
			Help: "フィード更新失敗の合計数（種別ごと）",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedtag_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedtag_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		entriesMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedtag_entries_merged_total",
			Help: "ストアにマージされたエントリ数（inserted/updated）",
		}, []string{"result"}),
		hookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedtag_hook_failures_total",
			Help: "新規エントリフックの失敗数",
		}),
		dateFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedtag_date_fallbacks_total",
			Help: "日時を解釈できず番兵値を割り当てたエントリ数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedtag_fetch_queue_depth",
			Help: "開始待ちのフェッチ要求数",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedtag_fetch_in_flight",
			Help: "実行中のフェッチ要求数",
		}),
		storeEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedtag_store_entries",
			Help: "ストア内のエントリ総数",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedtag_http_request_duration_seconds",
			Help:    "APIリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.entriesMerged,
		c.hookFailures,
		c.dateFallbacks,
		c.queueDepth,
		c.inFlight,
		c.storeEntries,
		c.requestLatency,
	)

	return c
}

// RecordFetchSuccess はフィード更新成功を記録する。
func (c *Collector) RecordFetchSuccess(_ string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフィード更新失敗を種別ごとに記録する。
func (c *Collector) RecordFetchFailure(_ string, kind model.FailureKind) {
	c.fetchFail.WithLabelValues(string(kind)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフィード取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEntriesMerged はマージされたエントリ数を記録する。
func (c *Collector) RecordEntriesMerged(inserted, updated int) {
	c.entriesMerged.WithLabelValues("inserted").Add(float64(inserted))
	c.entriesMerged.WithLabelValues("updated").Add(float64(updated))
}

// RecordHookFailures は新規エントリフックの失敗数を記録する。
func (c *Collector) RecordHookFailures(count int) {
	c.hookFailures.Add(float64(count))
}

// RecordDateFallbacks は日時のフォールバック数を記録する。
func (c *Collector) RecordDateFallbacks(count int) {
	c.dateFallbacks.Add(float64(count))
}

// SetQueueDepth はスケジューラのキュー状態を記録する。
func (c *Collector) SetQueueDepth(queued, inFlight int) {
	c.queueDepth.Set(float64(queued))
	c.inFlight.Set(float64(inFlight))
}

// SetStoreEntries はストア内のエントリ総数を記録する。
func (c *Collector) SetStoreEntries(n int) {
	c.storeEntries.Set(float64(n))
}

// ObserveRequest はAPIリクエストの処理時間を記録する。
func (c *Collector) ObserveRequest(method string, status int, duration time.Duration) {
	c.requestLatency.WithLabelValues(method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
