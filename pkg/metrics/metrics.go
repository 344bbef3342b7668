package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager exposes the service's Prometheus instruments on a private
// registry so tests can run many managers without collisions
type Manager struct {
	registry *prometheus.Registry

	DriftChecks     *prometheus.CounterVec
	DriftDetections *prometheus.CounterVec
	Snapshots       *prometheus.CounterVec
	Promotions      *prometheus.CounterVec
	ABRoutes        *prometheus.CounterVec
	RetrainingJobs  *prometheus.CounterVec
	Alerts          *prometheus.CounterVec

	CheckDuration *prometheus.HistogramVec
}

// NewManager creates the instrument set on a fresh registry
func NewManager(namespace string) *Manager {
	if namespace == "" {
		namespace = "modelguard"
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Manager{
		registry: registry,
		DriftChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_checks_total",
			Help:      "Drift detection runs by dataset.",
		}, []string{"dataset"}),
		DriftDetections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_detections_total",
			Help:      "Drift detection runs that flagged drift, by dataset and method.",
		}, []string{"dataset", "method"}),
		Snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distribution_snapshots_total",
			Help:      "Distribution snapshots recorded by dataset.",
		}, []string{"dataset"}),
		Promotions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Promotion decisions by model and outcome.",
		}, []string{"model", "outcome"}),
		ABRoutes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ab_routes_total",
			Help:      "A/B test routing decisions by test and variant.",
		}, []string{"test", "variant"}),
		RetrainingJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retraining_jobs_total",
			Help:      "Retraining jobs by model and final status.",
		}, []string{"model", "status"}),
		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts dispatched by type and severity.",
		}, []string{"type", "severity"}),
		CheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of scheduled health checks by phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
}

// ObserveCheck records the duration of one health check phase
func (m *Manager) ObserveCheck(phase string, d time.Duration) {
	m.CheckDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Handler returns the scrape endpoint for this manager's registry
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test gathering
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}
