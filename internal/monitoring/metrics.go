package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ChecksTotal      prometheus.Counter
	VerdictsTotal    *prometheus.CounterVec
	StageTransitions *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	DuplicateWaits   prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors on a specific registry; tests use
// a fresh one per instance.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "phishdetect_checks_total",
			Help: "The total number of URL checks received",
		}),
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phishdetect_verdicts_total",
			Help: "Terminal verdicts emitted, by status",
		}, []string{"status"}),
		StageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phishdetect_stage_transitions_total",
			Help: "Pipeline stage transitions, by stage",
		}, []string{"stage"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phishdetect_errors_total",
			Help: "Recoverable external failures, by type",
		}, []string{"type"}), // e.g. 'san_lookup', 'render_failed', 'metric_failed'
		DuplicateWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "phishdetect_duplicate_waits_total",
			Help: "Requests that waited on an in-flight duplicate",
		}),
	}
}

func (m *Metrics) IncChecks() {
	m.ChecksTotal.Inc()
}

func (m *Metrics) IncVerdict(status string) {
	m.VerdictsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncStage(stage string) {
	m.StageTransitions.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncDuplicateWait() {
	m.DuplicateWaits.Inc()
}
