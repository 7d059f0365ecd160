package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	WebhookEventsTotal    *prometheus.CounterVec
	QuotaDecisionsTotal   *prometheus.CounterVec
	UsageIncrementsTotal  *prometheus.CounterVec
	NotificationsSent     *prometheus.CounterVec
	UsagePeriodsReset     prometheus.Counter
	ProviderRequestsTotal *prometheus.CounterVec
}

// New registers all collectors on reg. A nil reg means the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "inkwell"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by provider, event type and outcome",
			},
			[]string{"provider", "type", "outcome"},
		),
		QuotaDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "quota_decisions_total",
				Help:      "Quota checks by feature and result",
			},
			[]string{"feature", "allowed"},
		),
		UsageIncrementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "usage_increments_total",
				Help:      "Usage units recorded by feature",
			},
			[]string{"feature"},
		),
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "notifications_sent_total",
				Help:      "Quota notifications sent by type",
			},
			[]string{"type"},
		),
		UsagePeriodsReset: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "usage_periods_reset_total",
				Help:      "Usage periods opened by the monthly rollover",
			},
		),
		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "provider_requests_total",
				Help:      "Outbound payment provider calls by provider, operation and status",
			},
			[]string{"provider", "operation", "status"},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookEvent(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

func (m *Metrics) RecordQuotaDecision(feature string, allowed bool) {
	if m == nil {
		return
	}
	m.QuotaDecisionsTotal.WithLabelValues(feature, strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) RecordUsageIncrement(feature string, amount int64) {
	if m == nil {
		return
	}
	m.UsageIncrementsTotal.WithLabelValues(feature).Add(float64(amount))
}

func (m *Metrics) RecordNotification(notificationType string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(notificationType).Inc()
}

func (m *Metrics) RecordPeriodsReset(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.UsagePeriodsReset.Add(float64(n))
}

func (m *Metrics) RecordProviderRequest(provider, operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderRequestsTotal.WithLabelValues(provider, operation, status).Inc()
}

// statusCodeToString buckets an HTTP status into its class.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
