package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

// Metrics is the Prometheus moderation.Recorder.
type Metrics struct {
	rateLimited      prometheus.Counter
	classifications  *prometheus.CounterVec
	actions          *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
}

var _ moderation.Recorder = (*Metrics)(nil)

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_messages_total",
			Help:      "Messages rejected for arriving faster than the minimum interval.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifier outcomes by result.",
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Escalation actions by kind and whether the platform accepted them.",
		}, []string{"kind", "applied"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_duration_seconds",
			Help:      "Time spent processing a message, by the last stage reached.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	registry.MustRegister(m.rateLimited, m.classifications, m.actions, m.pipelineDuration)
	return m
}

func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) Classified(outcome string) {
	m.classifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Action(kind moderation.ActionKind, applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	m.actions.WithLabelValues(string(kind), label).Inc()
}

func (m *Metrics) Pipeline(stage moderation.Stage, d time.Duration) {
	m.pipelineDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// RegisterPendingReversals exports the number of scheduled reversals.
func RegisterPendingReversals(registry prometheus.Registerer, actuator *moderation.Actuator) {
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_reversals",
		Help:      "Temporary restrictions waiting for their scheduled reversal.",
	}, func() float64 {
		return float64(len(actuator.PendingReversals()))
	}))
}

// RegisterInFlight exports a gauge read from fn.
func RegisterInFlight(registry prometheus.Registerer, fn func() int64) {
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "handlers_in_flight",
		Help:      "Messages currently being processed.",
	}, func() float64 {
		return float64(fn())
	}))
}
