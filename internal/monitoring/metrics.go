package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 丢弃阶段标签值。进管道的每封邮件要么计入 stored/duplicate，
// 要么带着其中一个阶段标签计入 dropped。
const (
	DropStageParse      = "parse"
	DropStageNormalize  = "normalize"
	DropStageValidation = "validation"
	DropStageStorage    = "storage"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 接收管道指标
	EmailsReceived  prometheus.Counter
	EmailsStored    prometheus.Counter
	EmailsDuplicate prometheus.Counter
	EmailsDropped   *prometheus.CounterVec

	// 存储指标
	StorageErrors *prometheus.CounterVec

	// 邮箱指标
	MailboxesCreated prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	// 导入指标
	EmailsImported *prometheus.CounterVec
}

// NewMetrics 创建监控指标并注册到独立的注册表。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		// 接收管道指标
		EmailsReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vmail_emails_received_total",
				Help: "Total number of emails handed to the ingestion pipeline",
			},
		),

		EmailsStored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vmail_emails_stored_total",
				Help: "Total number of emails persisted",
			},
		),

		EmailsDuplicate: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vmail_emails_duplicate_total",
				Help: "Total number of duplicate inserts ignored",
			},
		),

		EmailsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_emails_dropped_total",
				Help: "Total number of emails dropped by the pipeline",
			},
			[]string{"stage"},
		),

		// 存储指标
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_storage_errors_total",
				Help: "Total number of storage backend errors",
			},
			[]string{"backend", "op"},
		),

		// 邮箱指标
		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vmail_mailboxes_created_total",
				Help: "Total number of mailboxes issued",
			},
		),

		// 限流指标
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
			[]string{"endpoint"},
		),

		// 导入指标
		EmailsImported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmail_emails_imported_total",
				Help: "Total number of import records by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordEmailReceived 记录邮件进入管道
func (m *Metrics) RecordEmailReceived() {
	m.EmailsReceived.Inc()
}

// RecordEmailStored 记录邮件落库
func (m *Metrics) RecordEmailStored() {
	m.EmailsStored.Inc()
}

// RecordEmailDuplicate 记录重复写入被忽略
func (m *Metrics) RecordEmailDuplicate() {
	m.EmailsDuplicate.Inc()
}

// RecordEmailDropped 记录邮件按阶段丢弃
func (m *Metrics) RecordEmailDropped(stage string) {
	m.EmailsDropped.WithLabelValues(stage).Inc()
}

// RecordStorageError 记录存储后端错误
func (m *Metrics) RecordStorageError(backend, op string) {
	m.StorageErrors.WithLabelValues(backend, op).Inc()
}

// RecordMailboxCreated 记录邮箱签发
func (m *Metrics) RecordMailboxCreated() {
	m.MailboxesCreated.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(endpoint string) {
	m.RateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// RecordImportOutcome 记录一批导入的结果
func (m *Metrics) RecordImportOutcome(inserted, skipped, errored int) {
	m.EmailsImported.WithLabelValues("inserted").Add(float64(inserted))
	m.EmailsImported.WithLabelValues("skipped").Add(float64(skipped))
	m.EmailsImported.WithLabelValues("errored").Add(float64(errored))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
