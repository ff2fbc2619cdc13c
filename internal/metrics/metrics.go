// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// アップストリーム名
const (
	UpstreamIdentity = "identity"
	UpstreamFile     = "file"
	UpstreamOAuth    = "oauth"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クライアント層とミドルウェアから利用する。
type MetricsCollector interface {
	// RecordUpstreamCall はアップストリーム呼び出しの結果とレイテンシを記録する。
	// outcomeは成功時"ok"、失敗時はエラー分類。
	RecordUpstreamCall(upstream, operation, outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordAuthRejection(reason string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
	authRejections  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "アップストリーム呼び出しの合計数",
		}, []string{"upstream", "operation", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_seconds",
			Help:    "アップストリーム呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_rejections_total",
			Help: "認証ミドルウェアで拒否したリクエスト数",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.upstreamCalls,
		c.upstreamLatency,
		c.httpStatus,
		c.authRejections,
	)

	return c
}

// RecordUpstreamCall はアップストリーム呼び出しを記録する。
func (c *Collector) RecordUpstreamCall(upstream, operation, outcome string, duration time.Duration) {
	c.upstreamCalls.WithLabelValues(upstream, operation, outcome).Inc()
	c.upstreamLatency.WithLabelValues(upstream, operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAuthRejection は認証拒否を記録する。
func (c *Collector) RecordAuthRejection(reason string) {
	c.authRejections.WithLabelValues(reason).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordUpstreamCall(string, string, string, time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordAuthRejection(string) {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
