// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーや同期層から利用する。
type MetricsCollector interface {
	RecordSessionIssued()
	RecordTokenRequest(outcome string)
	RecordUpstreamStatus(statusCode int)
	RecordUpstreamLatency(duration time.Duration)
	RecordSyncOperation(op string, outcome string)
}

// トークン発行結果のラベル値。
const (
	OutcomeSuccess      = "success"
	OutcomeUnauthorized = "unauthorized"
	OutcomeUpstreamFail = "upstream_fail"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsIssued  prometheus.Counter
	tokenRequests   *prometheus.CounterVec
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	syncOperations  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wordsync_sessions_issued_total",
			Help: "発行されたセッショントークンの合計数",
		}),
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wordsync_token_requests_total",
			Help: "インストールトークン要求の結果別合計数",
		}, []string{"outcome"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wordsync_upstream_status_total",
			Help: "GitHub APIレスポンスのステータスコード別合計数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wordsync_upstream_latency_seconds",
			Help:    "GitHub API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		syncOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wordsync_sync_operations_total",
			Help: "リポジトリ同期操作の結果別合計数",
		}, []string{"op", "outcome"}),
	}

	reg.MustRegister(
		c.sessionsIssued,
		c.tokenRequests,
		c.upstreamStatus,
		c.upstreamLatency,
		c.syncOperations,
	)

	return c
}

// RecordSessionIssued はセッショントークンの発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordTokenRequest はインストールトークン要求の結果を記録する。
func (c *Collector) RecordTokenRequest(outcome string) {
	c.tokenRequests.WithLabelValues(outcome).Inc()
}

// RecordUpstreamStatus はGitHub APIのステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency はGitHub API呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordSyncOperation は同期操作（load/save）の結果を記録する。
func (c *Collector) RecordSyncOperation(op string, outcome string) {
	c.syncOperations.WithLabelValues(op, outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
