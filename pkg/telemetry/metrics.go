package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of stackzilla. A nil *Metrics
// and a disabled one are both valid and record nothing.
type Metrics struct {
	config MetricsConfig

	resourceDiffs            *prometheus.CounterVec
	attributeConflicts       prometheus.Counter
	versionIncompatibilities prometheus.Counter
	planUnits                *prometheus.CounterVec
	applyUnits               *prometheus.CounterVec
	applyUnitDuration        *prometheus.HistogramVec
	runs                     *prometheus.CounterVec
	runDuration              prometheus.Histogram
	policyViolations         *prometheus.CounterVec
	errorsByCode             *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resourceDiffs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "resource_diffs_total",
				Help:      "Resources compared, by diff result",
			},
			[]string{"result"},
		),
		attributeConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "attribute_conflicts_total",
				Help:      "Attribute level conflicts found while diffing",
			},
		),
		versionIncompatibilities: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "version_incompatibilities_total",
				Help:      "Resources whose saved major version differs from the blueprint",
			},
		),
		planUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "plan_units_total",
				Help:      "Plan units generated, by operation",
			},
			[]string{"operation"},
		),
		applyUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "apply_units_total",
				Help:      "Plan units applied, by operation and status",
			},
			[]string{"operation", "status"},
		),
		applyUnitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "apply_unit_duration_seconds",
				Help:      "Time spent applying a plan unit",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "runs_total",
				Help:      "Apply runs, by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "run_duration_seconds",
				Help:      "Duration of apply runs",
				Buckets:   buckets,
			},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "policy_violations_total",
				Help:      "Policy violations, by policy and severity",
			},
			[]string{"policy", "severity"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_total",
				Help:      "Engine errors, by class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.resourceDiffs,
		m.attributeConflicts,
		m.versionIncompatibilities,
		m.planUnits,
		m.applyUnits,
		m.applyUnitDuration,
		m.runs,
		m.runDuration,
		m.policyViolations,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordResourceDiff counts one compared resource and its attribute conflicts.
func (m *Metrics) RecordResourceDiff(result string, conflicts int) {
	if !m.enabled() {
		return
	}
	m.resourceDiffs.WithLabelValues(result).Inc()
	m.attributeConflicts.Add(float64(conflicts))
}

// RecordVersionIncompatibility counts a major version mismatch.
func (m *Metrics) RecordVersionIncompatibility() {
	if !m.enabled() {
		return
	}
	m.versionIncompatibilities.Inc()
}

// RecordPlanUnit counts a generated plan unit.
func (m *Metrics) RecordPlanUnit(operation string) {
	if !m.enabled() {
		return
	}
	m.planUnits.WithLabelValues(operation).Inc()
}

// RecordApplyUnit records the outcome and duration of an applied unit.
func (m *Metrics) RecordApplyUnit(operation, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.applyUnits.WithLabelValues(operation, status).Inc()
	m.applyUnitDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRun records a finished apply run.
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// RecordError counts an error by class and code.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByCode.WithLabelValues(class, code).Inc()
}

// Registry returns the private registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer serves the metrics endpoint in the background when a listen
// address is configured. errFn receives a serve failure.
func (m *Metrics) StartServer(errFn func(error)) {
	if !m.enabled() || m.config.ListenAddress == "" {
		return
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && errFn != nil {
			errFn(err)
		}
	}()
}

// Shutdown stops the metrics server, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
