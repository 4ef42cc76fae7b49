package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 管道监控指标
type Metrics struct {
	// 摄入指标
	MessagesAccepted  prometheus.Counter
	RecipientRejected prometheus.Counter
	JobsPublished     prometheus.Counter

	// 富化 Worker 指标
	JobsProcessed      *prometheus.CounterVec // decision: ack | retry | deadletter
	JobsDuplicate      prometheus.Counter
	EnrichmentFallback prometheus.Counter
	EnrichmentDuration prometheus.Histogram
	AttachmentsStored  prometheus.Counter
	AttachmentSize     prometheus.Histogram

	// 转发与定时发送指标
	ForwardsAttempted *prometheus.CounterVec // outcome: ok | error
	SweepOutcomes     *prometheus.CounterVec // outcome: sent | failed
	SweepDuration     prometheus.Histogram

	// 实时通知指标
	EventsBroadcast prometheus.Counter
	ActiveSessions  prometheus.Gauge

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesAccepted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_messages_accepted_total",
				Help: "Total number of inbound messages accepted by the gateway",
			},
		),

		RecipientRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_recipient_rejected_total",
				Help: "Total number of messages rejected for unknown recipient",
			},
		),

		JobsPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_ingest_jobs_published_total",
				Help: "Total number of ingestion jobs published to the queue",
			},
		),

		JobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsage_ingest_jobs_processed_total",
				Help: "Total number of ingestion jobs processed by decision",
			},
			[]string{"decision"},
		),

		JobsDuplicate: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_ingest_jobs_duplicate_total",
				Help: "Total number of duplicate job deliveries skipped",
			},
		),

		EnrichmentFallback: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_enrichment_fallback_total",
				Help: "Total number of messages stored with default enrichment",
			},
		),

		EnrichmentDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailsage_enrichment_duration_seconds",
				Help:    "End to end job processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		AttachmentsStored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_attachments_stored_total",
				Help: "Total number of attachments written to blob storage",
			},
		),

		AttachmentSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailsage_attachment_size_bytes",
				Help:    "Attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		ForwardsAttempted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsage_forwards_attempted_total",
				Help: "Total number of forwarding rule deliveries by outcome",
			},
			[]string{"outcome"},
		),

		SweepOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsage_scheduled_sweep_outcomes_total",
				Help: "Total number of scheduled sends processed by outcome",
			},
			[]string{"outcome"},
		),

		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailsage_scheduled_sweep_duration_seconds",
				Help:    "Scheduled dispatch sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		EventsBroadcast: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_events_broadcast_total",
				Help: "Total number of new mail events broadcast to sessions",
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsage_active_sessions",
				Help: "Number of open realtime sessions",
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsage_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailsage_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsage_errors_total",
				Help: "Total number of errors by component",
			},
			[]string{"component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsage_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RegisterActorGauge 注册邮箱 actor 存活数的采样函数。
// 注册表先于指标采集存在，用 GaugeFunc 拉取而不是各处手工维护计数。
func (m *Metrics) RegisterActorGauge(count func() int) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mailsage_active_actors",
			Help: "Number of live mailbox actors",
		},
		func() float64 { return float64(count()) },
	)
}

// Handler 返回 Prometheus 指标的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
