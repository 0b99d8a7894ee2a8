package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the emulator core. A Metrics built
// from a disabled configuration, or by NopMetrics, records nothing.
type Metrics struct {
	config MetricsConfig

	// State multiplexer metrics
	stateChanges    *prometheus.CounterVec
	waitersResolved prometheus.Counter
	waitersPending  prometheus.Gauge

	// Command metrics
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Rendezvous metrics
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	transitions *prometheus.CounterVec
	frames      prometheus.Counter

	// Fault metrics
	faultsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() *Metrics {
	return &Metrics{}
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		stateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_changes_total",
				Help:      "Total number of emulation state changes reported by the engine",
			},
			[]string{"state"},
		),
		waitersResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "waiters_resolved_total",
				Help:      "Total number of state waiters resolved by a matching change",
			},
		),
		waitersPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "waiters_pending",
				Help:      "Waiters still registered after the last state change",
			},
		),

		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of engine commands issued",
			},
			[]string{"command", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_wait_duration_seconds",
				Help:      "Time from issuing a command until the expected state was observed",
				Buckets:   buckets,
			},
			[]string{"command"},
		),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rendezvous_requests_total",
				Help:      "Total number of requests sent to the remote handler",
			},
			[]string{"kind", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rendezvous_request_duration_seconds",
				Help:      "Time the engine thread spent blocked on a remote reply",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_transitions_total",
				Help:      "Total number of lifecycle phase transitions",
			},
			[]string{"from", "to"},
		),
		frames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of frames executed",
			},
		),

		faultsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "faults_total",
				Help:      "Total number of errors and faults by class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.stateChanges,
		m.waitersResolved,
		m.waitersPending,
		m.commands,
		m.commandDuration,
		m.requests,
		m.requestDuration,
		m.transitions,
		m.frames,
		m.faultsByClass,
	)

	return m, nil
}

// State Metrics

// RecordStateChange records a state change and how many waiters it resolved.
func (m *Metrics) RecordStateChange(state string, resolved int) {
	if m.stateChanges == nil {
		return
	}
	m.stateChanges.WithLabelValues(state).Inc()
	m.waitersResolved.Add(float64(resolved))
}

// SetWaitersPending sets the number of waiters still registered.
func (m *Metrics) SetWaitersPending(count int) {
	if m.waitersPending == nil {
		return
	}
	m.waitersPending.Set(float64(count))
}

// Command Metrics

// RecordCommand records an issued command. A zero duration records the issue
// only; a positive duration also observes the wait for the expected state.
func (m *Metrics) RecordCommand(command, status string, duration time.Duration) {
	if m.commands == nil {
		return
	}
	m.commands.WithLabelValues(command, status).Inc()
	if duration > 0 {
		m.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
	}
}

// Rendezvous Metrics

// RecordRequest records one request/reply exchange.
func (m *Metrics) RecordRequest(kind, status string, duration time.Duration) {
	if m.requests == nil {
		return
	}
	m.requests.WithLabelValues(kind, status).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Lifecycle Metrics

// RecordTransition records a lifecycle phase transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordFrame counts one executed frame.
func (m *Metrics) RecordFrame() {
	if m.frames == nil {
		return
	}
	m.frames.Inc()
}

// Fault Metrics

// RecordFault records an error or fault by class.
func (m *Metrics) RecordFault(class string) {
	if m.faultsByClass == nil {
		return
	}
	m.faultsByClass.WithLabelValues(class).Inc()
}

// Timer provides a convenient way to time operations.
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics. The server
// stops when ctx is cancelled. Serve errors are passed to onError, which may
// be nil.
func (m *Metrics) StartMetricsServer(ctx context.Context, onError func(error)) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
