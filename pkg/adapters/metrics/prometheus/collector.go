package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	invocations       *prometheus.CounterVec
	failures          *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	callbacks         *prometheus.CounterVec
	activeInvocations prometheus.Gauge
	invocationTime    *prometheus.HistogramVec
	stepDuration      *prometheus.HistogramVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a collector registered with the default registry
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith creates a collector registered with reg
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobrelay_invocations_total",
				Help: "Total number of orchestration runs by outcome",
			},
			[]string{"outcome"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobrelay_failures_total",
				Help: "Total number of failed runs by error kind and failing state",
			},
			[]string{"kind", "state"},
		),
		compensations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobrelay_compensations_total",
				Help: "Total number of compensating job transitions",
			},
			[]string{"action", "ok"},
		),
		callbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobrelay_callbacks_total",
				Help: "Total number of remote status callbacks received",
			},
			[]string{"status", "accepted"},
		),
		activeInvocations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobrelay_active_invocations",
				Help: "Number of orchestration runs in flight",
			},
		),
		invocationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobrelay_invocation_duration_seconds",
				Help:    "Orchestration run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobrelay_step_duration_seconds",
				Help:    "State machine step duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"state"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobrelay_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobrelay_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobrelay_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordInvocation records the outcome and duration of a run
func (c *Collector) RecordInvocation(outcome string, duration time.Duration) {
	c.invocations.WithLabelValues(outcome).Inc()
	c.invocationTime.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFailure records a terminal failure
func (c *Collector) RecordFailure(kind string, state string) {
	c.failures.WithLabelValues(kind, state).Inc()
}

// RecordCompensation records a cancel or fail compensation attempt
func (c *Collector) RecordCompensation(action string, ok bool) {
	c.compensations.WithLabelValues(action, strconv.FormatBool(ok)).Inc()
}

// RecordStepDuration records how long a state machine step took
func (c *Collector) RecordStepDuration(state string, duration time.Duration) {
	c.stepDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordCallback records a remote status callback
func (c *Collector) RecordCallback(status string, accepted bool) {
	c.callbacks.WithLabelValues(status, strconv.FormatBool(accepted)).Inc()
}

// SetActiveInvocations sets the number of runs in flight
func (c *Collector) SetActiveInvocations(count int) {
	c.activeInvocations.Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
