package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 收信结果标签
const (
	OutcomeInserted     = "inserted"
	OutcomeDropped      = "dropped"
	OutcomeParseFailure = "parse_failure"
	OutcomeStoreFailure = "store_failure"
)

// Metrics 监控指标
//
// 所有方法允许在 nil 接收者上调用，未启用监控时直接忽略。
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 收信指标
	IngestTotal    *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec
	MessageSize    prometheus.Histogram

	// SMTP 会话指标
	SMTPSessionsActive   prometheus.Gauge
	SMTPSessionsRejected *prometheus.CounterVec

	// 推送指标
	WebsocketClients prometheus.Gauge

	// 缓存指标
	CacheRequests *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 在默认注册表上创建监控指标，进程内只能调用一次。
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWith 在指定注册表上创建监控指标。
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempinbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempinbox_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempinbox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 收信指标
		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_ingest_total",
				Help: "Total number of ingested messages by outcome",
			},
			[]string{"outcome"},
		),

		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempinbox_ingest_duration_seconds",
				Help:    "Message ingestion duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		MessageSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempinbox_message_size_bytes",
				Help:    "Raw message size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 14),
			},
		),

		// SMTP 会话指标
		SMTPSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempinbox_smtp_sessions_active",
				Help: "Number of active SMTP sessions",
			},
		),

		SMTPSessionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_smtp_sessions_rejected_total",
				Help: "Total number of SMTP sessions refused by the connection limiter",
			},
			[]string{"reason"},
		),

		// 推送指标
		WebsocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempinbox_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),

		// 缓存指标
		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_cache_requests_total",
				Help: "Total number of cache lookups by result",
			},
			[]string{"kind", "result"},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempinbox_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempinbox_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordIngest 记录一次收信处理结果与耗时
func (m *Metrics) RecordIngest(outcome string, duration time.Duration, size int) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(outcome).Inc()
	m.IngestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.MessageSize.Observe(float64(size))
}

// SMTPSessionOpened 记录 SMTP 会话建立
func (m *Metrics) SMTPSessionOpened() {
	if m == nil {
		return
	}
	m.SMTPSessionsActive.Inc()
}

// SMTPSessionClosed 记录 SMTP 会话结束
func (m *Metrics) SMTPSessionClosed() {
	if m == nil {
		return
	}
	m.SMTPSessionsActive.Dec()
}

// RecordSMTPSessionRejected 记录被限流拒绝的 SMTP 会话
func (m *Metrics) RecordSMTPSessionRejected(reason string) {
	if m == nil {
		return
	}
	m.SMTPSessionsRejected.WithLabelValues(reason).Inc()
}

// UpdateWebsocketClients 更新推送连接数
func (m *Metrics) UpdateWebsocketClients(count int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(count))
}

// RecordCacheHit 记录缓存命中
func (m *Metrics) RecordCacheHit(kind string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(kind, "hit").Inc()
}

// RecordCacheMiss 记录缓存未命中
func (m *Metrics) RecordCacheMiss(kind string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(kind, "miss").Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
