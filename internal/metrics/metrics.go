package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	WebhookEvents    *prometheus.CounterVec
	MessagesDropped  prometheus.Counter
	OutboundSends    *prometheus.CounterVec
	QuotaRefusals    prometheus.Counter
	SessionChanges   *prometheus.CounterVec
}

// New registers and returns the gateway metrics
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method and path",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by outcome",
		}, []string{"outcome"}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped because no tenant owned the phone-number id",
		}),
		OutboundSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "outbound_sends_total",
			Help:      "Outbound sends by result (sent, quota_exceeded, transport_error)",
		}, []string{"result"}),
		QuotaRefusals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "quota_refusals_total",
			Help:      "Sends refused because the monthly allowance was exhausted",
		}),
		SessionChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "session_transitions_total",
			Help:      "QR session state transitions by target state",
		}, []string{"state"}),
	}
}

// Middleware records request counts and durations per route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
