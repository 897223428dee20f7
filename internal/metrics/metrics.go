// Package metrics provides a Prometheus-backed metrics facade for the
// pipeline, scheduler, and buffer subsystems, modeled on the audiocore
// MetricsCollector's enable-gated, label-carrying recording methods.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records core-wide metrics; a nil *Collector (or one built with
// enabled=false) makes every Record* call a no-op, so call sites never
// need a nil check of their own.
type Collector struct {
	mu      sync.RWMutex
	enabled bool

	copyDuration   *prometheus.HistogramVec
	copyErrors     *prometheus.CounterVec
	xrunEvents     *prometheus.CounterVec
	bufferAvail    *prometheus.GaugeVec
	tasksActive    *prometheus.GaugeVec
	triggerEvents  *prometheus.CounterVec
	schedulerTicks *prometheus.CounterVec
}

// NewCollector registers a full metric set against reg. Pass nil to get a
// disabled Collector whose methods are no-ops, used by tests and by any
// build that omits /metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		return &Collector{enabled: false}
	}

	c := &Collector{
		enabled: true,
		copyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corefw",
			Subsystem: "pipeline",
			Name:      "copy_duration_seconds",
			Help:      "Duration of one component Copy call.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		}, []string{"pipeline_id", "variant"}),
		copyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corefw",
			Subsystem: "pipeline",
			Name:      "copy_errors_total",
			Help:      "Count of Copy calls that returned a non-xrun error.",
		}, []string{"pipeline_id", "category"}),
		xrunEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corefw",
			Subsystem: "buffer",
			Name:      "xrun_events_total",
			Help:      "Count of underrun/overrun events observed.",
		}, []string{"pipeline_id", "kind"}),
		bufferAvail: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corefw",
			Subsystem: "buffer",
			Name:      "avail_bytes",
			Help:      "Bytes currently available to consume in a ring buffer.",
		}, []string{"buffer_id"}),
		tasksActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corefw",
			Subsystem: "scheduler",
			Name:      "tasks_active",
			Help:      "Tasks currently registered per core.",
		}, []string{"core"}),
		triggerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corefw",
			Subsystem: "trigger",
			Name:      "commands_total",
			Help:      "Lifecycle commands propagated through a pipeline graph.",
		}, []string{"cmd", "result"}),
		schedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corefw",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler Tick invocations per core.",
		}, []string{"core"}),
	}

	reg.MustRegister(
		c.copyDuration,
		c.copyErrors,
		c.xrunEvents,
		c.bufferAvail,
		c.tasksActive,
		c.triggerEvents,
		c.schedulerTicks,
	)
	return c
}

// RecordCopy records one component Copy call's outcome and duration.
func (c *Collector) RecordCopy(pipelineID, variant string, d time.Duration, err error, category string) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.copyDuration.WithLabelValues(pipelineID, variant).Observe(d.Seconds())
	if err != nil {
		c.copyErrors.WithLabelValues(pipelineID, category).Inc()
	}
}

// RecordXrun records an underrun or overrun event for a pipeline.
func (c *Collector) RecordXrun(pipelineID, kind string) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.xrunEvents.WithLabelValues(pipelineID, kind).Inc()
}

// SetBufferAvail publishes a ring buffer's current available byte count.
func (c *Collector) SetBufferAvail(bufferID string, avail int) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.bufferAvail.WithLabelValues(bufferID).Set(float64(avail))
}

// SetTasksActive publishes the current registered-task count for a core.
func (c *Collector) SetTasksActive(core string, count int) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.tasksActive.WithLabelValues(core).Set(float64(count))
}

// RecordTrigger records a lifecycle command's propagation outcome.
func (c *Collector) RecordTrigger(cmd, result string) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.triggerEvents.WithLabelValues(cmd, result).Inc()
}

// RecordTick increments a core's tick counter.
func (c *Collector) RecordTick(core string) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.schedulerTicks.WithLabelValues(core).Inc()
}
