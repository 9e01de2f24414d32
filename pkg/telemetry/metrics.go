package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a run. All methods are safe on
// a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	apiCalls    *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	rounds        prometheus.Counter
	remaining     prometheus.Gauge
	commands      *prometheus.CounterVec
	escalations   prometheus.Counter
	appOutcomes   *prometheus.CounterVec
	excludedVMs   *prometheus.GaugeVec
	errorsByClass *prometheus.CounterVec

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRun       prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a collector set on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		apiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Cluster API requests by endpoint and HTTP status (0 = transport failure)",
			},
			[]string{"endpoint", "code"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Cluster API request latency in seconds",
				Buckets:   buckets,
			},
			[]string{"endpoint"},
		),
		rounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "convergence_rounds_total",
				Help:      "Sampling rounds of the shutdown convergence loop",
			},
		),
		remaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "guest_vms_remaining",
				Help:      "Powered-on guest VMs observed in the latest sampling round",
			},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_sent_total",
				Help:      "Power-control commands sent by kind",
			},
			[]string{"kind"},
		),
		escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Runs that exhausted the shutdown budget",
			},
		),
		appOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_stops_total",
				Help:      "Application stop outcomes",
			},
			[]string{"outcome"},
		),
		excludedVMs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "excluded_vms",
				Help:      "Infrastructure VMs excluded from shutdown by reason",
			},
			[]string{"reason"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Fatal run errors by class",
			},
			[]string{"class"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Completed runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of runs",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"outcome"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}

	registry.MustRegister(
		m.apiCalls,
		m.apiDuration,
		m.rounds,
		m.remaining,
		m.commands,
		m.escalations,
		m.appOutcomes,
		m.excludedVMs,
		m.errorsByClass,
		m.runsCompleted,
		m.runDuration,
		m.lastRun,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordAPICall records one cluster API request.
func (m *Metrics) RecordAPICall(endpoint string, status int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.apiCalls.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRound records a sampling round and the guest VMs it found.
func (m *Metrics) RecordRound(remaining int) {
	if !m.enabled() {
		return
	}
	m.rounds.Inc()
	m.remaining.Set(float64(remaining))
}

// RecordCommand counts a power-control command of the given kind.
func (m *Metrics) RecordCommand(kind string) {
	if !m.enabled() {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}

// RecordEscalation counts a run that fell through to forced power-off.
func (m *Metrics) RecordEscalation() {
	if !m.enabled() {
		return
	}
	m.escalations.Inc()
}

// RecordAppOutcome counts an application stop outcome.
func (m *Metrics) RecordAppOutcome(outcome string) {
	if !m.enabled() {
		return
	}
	m.appOutcomes.WithLabelValues(outcome).Inc()
}

// SetExclusions sets the number of VMs excluded for reason.
func (m *Metrics) SetExclusions(reason string, count int) {
	if !m.enabled() {
		return
	}
	m.excludedVMs.WithLabelValues(reason).Set(float64(count))
}

// RecordError counts a fatal error of the given class.
func (m *Metrics) RecordError(class string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// RecordRunCompleted records a finished run with its outcome and duration.
func (m *Metrics) RecordRunCompleted(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

// WriteTextfile writes the registry to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if !m.enabled() || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
