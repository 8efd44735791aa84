package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	published       *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	lifecycleEvents *prometheus.CounterVec
	up              prometheus.Gauge
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_gateway_messages_published_total",
				Help: "Total number of publish attempts by exchange and result",
			},
			[]string{"exchange", "result"},
		),
		publishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "event_gateway_publish_duration_seconds",
				Help:    "Time spent handing a message to the broker transport",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"exchange"},
		),
		lifecycleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_gateway_lifecycle_events_total",
				Help: "Total number of gateway start and stop attempts by result",
			},
			[]string{"event", "result"},
		),
		up: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "event_gateway_up",
				Help: "1 while the gateway holds a live broker channel",
			},
		),
	}
}

// observePublish counts one publish attempt. Routing keys are caller defined
// and unbounded, so they go to the log line and not to a label.
func (m *Metrics) observePublish(exchange string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	m.published.WithLabelValues(exchange, result).Inc()
	m.publishDuration.WithLabelValues(exchange).Observe(elapsed.Seconds())
}

func (m *Metrics) lifecycle(event, result string) {
	if m == nil {
		return
	}
	m.lifecycleEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) setUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.up.Set(1)
		return
	}
	m.up.Set(0)
}
