// Package metrics exposes Prometheus instrumentation for job executions
// and the scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datafactory"

type Collector struct {
	gatherer prometheus.Gatherer

	executionsStarted  *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	recordsProcessed   prometheus.Counter
	inFlight           prometheus.Gauge
	schedulerSkipped   *prometheus.CounterVec
	scheduledJobs      prometheus.Gauge
}

// NewCollector registers the collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the default registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,
		executionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Executions started, by trigger.",
		}, []string{"trigger"}),
		executionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Executions reaching a terminal status, by status.",
		}, []string{"status"}),
		executionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of finished executions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		recordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records written by successful executions.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Executions currently running.",
		}),
		schedulerSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_skipped_total",
			Help:      "Scheduled triggers that did not start a run, by reason.",
		}, []string{"reason"}),
		scheduledJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs",
			Help:      "Jobs currently holding a scheduler timer.",
		}),
	}
}

func (c *Collector) RecordStart(trigger string) {
	c.executionsStarted.WithLabelValues(trigger).Inc()
	c.inFlight.Inc()
}

func (c *Collector) RecordFinish(status string, records int64, d time.Duration) {
	c.inFlight.Dec()
	c.executionsFinished.WithLabelValues(status).Inc()
	c.executionDuration.Observe(d.Seconds())
	if records > 0 {
		c.recordsProcessed.Add(float64(records))
	}
}

func (c *Collector) RecordSkip(reason string) {
	c.schedulerSkipped.WithLabelValues(reason).Inc()
}

func (c *Collector) SetScheduledJobs(n int) {
	c.scheduledJobs.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
