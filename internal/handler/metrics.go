package handler

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insider-one/notification-engine/internal/channel"
	"github.com/insider-one/notification-engine/internal/dispatcher"
	"github.com/insider-one/notification-engine/internal/worker"
)

// Metrics holds Prometheus metrics
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	notificationsSent   *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	deadLetterDepth     prometheus.Gauge
	processingLatency   *prometheus.HistogramVec
	channelHealth       *prometheus.GaugeVec
	breakerRejections   *prometheus.GaugeVec
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of notifications sent successfully",
			},
			[]string{"channel"},
		),
		notificationsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_failed_total",
				Help: "Total number of failed notifications",
			},
			[]string{"channel", "reason"},
		),
		deadLetterDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notification_dead_letter_depth",
				Help: "Current number of entries in the dead-letter queue",
			},
		),
		processingLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notification_processing_latency_seconds",
				Help:    "Adapter-reported duration of the successful send attempt",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"channel"},
		),
		channelHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "notification_channel_healthy",
				Help: "1 if the channel adapter's last health check passed, 0 otherwise",
			},
			[]string{"channel"},
		),
		breakerRejections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "notification_breaker_rejections_total",
				Help: "Cumulative delivery attempts short-circuited by an open circuit breaker",
			},
			[]string{"channel"},
		),
	}
}

func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordNotificationSent(channel string) {
	m.notificationsSent.WithLabelValues(channel).Inc()
}

func (m *Metrics) RecordNotificationFailed(channel, reason string) {
	m.notificationsFailed.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) RecordProcessingLatency(channel string, latency time.Duration) {
	m.processingLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// MetricsHandler serves the Prometheus scrape endpoint and a real-time
// operational snapshot of the delivery pipeline.
type MetricsHandler struct {
	metrics    *Metrics
	registry   *channel.Registry
	deadLetter *dispatcher.DeadLetterQueue
	disp       *dispatcher.Dispatcher
	daemon     *worker.Daemon
}

func NewMetricsHandler(metrics *Metrics, registry *channel.Registry, deadLetter *dispatcher.DeadLetterQueue, disp *dispatcher.Dispatcher, daemon *worker.Daemon) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, registry: registry, deadLetter: deadLetter, disp: disp, daemon: daemon}
}

func (h *MetricsHandler) Handler() http.Handler {
	return promhttp.Handler()
}

// RealtimeStatus is the real-time operational snapshot returned by
// GET /metrics/realtime.
type RealtimeStatus struct {
	DaemonState     string         `json:"daemon_state"`
	DeadLetterDepth int            `json:"dead_letter_depth"`
	ChannelHealth   map[string]bool `json:"channel_health"`
}

// RealtimeMetrics handles real-time metrics requests
// @Summary Real-time metrics
// @Description Get real-time pipeline status: daemon state, dead-letter depth, channel health
// @Tags metrics
// @Produce json
// @Success 200 {object} RealtimeStatus
// @Router /metrics/realtime [get]
func (h *MetricsHandler) RealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	health := h.registry.Health()
	channelHealth := make(map[string]bool, len(health))
	for _, status := range health {
		channelHealth[string(status.Channel)] = status.Healthy
		v := 0.0
		if status.Healthy {
			v = 1.0
		}
		h.metrics.channelHealth.WithLabelValues(string(status.Channel)).Set(v)
	}

	depth := h.deadLetter.Len()
	h.metrics.deadLetterDepth.Set(float64(depth))

	for c, count := range h.disp.BreakerRejections() {
		h.metrics.breakerRejections.WithLabelValues(string(c)).Set(float64(count))
	}

	JSON(w, http.StatusOK, RealtimeStatus{
		DaemonState:     string(h.daemon.State()),
		DeadLetterDepth: depth,
		ChannelHealth:   channelHealth,
	})
}
