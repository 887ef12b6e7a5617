package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridpilot/pkg/events"
)

const namespace = "gridpilot"

// Collector turns lifecycle events into Prometheus series. It implements
// events.Sink and owns its registry so several bots can run in one process.
type Collector struct {
	registry *prometheus.Registry

	planned    prometheus.Counter
	triggered  *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	overruns   prometheus.Counter
	outcomes   *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	breaker    prometheus.Gauge
	attempts   prometheus.Histogram
	stages     *prometheus.HistogramVec
}

// New registers the grid series on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		planned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "levels_planned_total",
			Help:      "Grid levels planned.",
		}),
		triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_triggered_total",
			Help:      "Levels crossed by price and handed to execution.",
		}, []string{"side"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_rejected_total",
			Help:      "Triggers refused before execution.",
		}, []string{"reason"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_retries_total",
			Help:      "Attempts scheduled for retry by error class.",
		}, []string{"class"}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_budget_exceeded_total",
			Help:      "Signatures that took longer than the signer's declared budget.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_outcomes_total",
			Help:      "Terminal execution outcomes.",
		}, []string{"status", "class"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_reconciled_total",
			Help:      "Parked outcomes settled by the reconciler.",
		}, []string{"status"}),
		breaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_open",
			Help:      "1 while the loss breaker blocks new exposure.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_attempts",
			Help:      "Attempts used per execution.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_stage_seconds",
			Help:      "Wall-clock time spent per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
	}
	c.registry.MustRegister(
		c.planned, c.triggered, c.rejected, c.retries, c.overruns,
		c.outcomes, c.reconciled, c.breaker, c.attempts, c.stages,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBreaker records the breaker state. Resume clears it.
func (c *Collector) SetBreaker(open bool) {
	if open {
		c.breaker.Set(1)
		return
	}
	c.breaker.Set(0)
}

// Emit implements events.Sink.
func (c *Collector) Emit(_ context.Context, e events.Event) {
	switch e.Kind {
	case events.KindPlanned:
		c.planned.Inc()
	case events.KindTriggered:
		c.triggered.WithLabelValues(string(e.Side)).Inc()
	case events.KindRejected:
		c.rejected.WithLabelValues(e.Reason).Inc()
	case events.KindRetry:
		c.retries.WithLabelValues(e.Class).Inc()
	case events.KindBudget:
		c.overruns.Inc()
	case events.KindOutcome:
		c.outcomes.WithLabelValues(e.Status, e.Class).Inc()
		if e.Attempts > 0 {
			c.attempts.Observe(float64(e.Attempts))
		}
		for stage, ms := range e.StageMillis {
			c.stages.WithLabelValues(stage).Observe(float64(ms) / 1000)
		}
	case events.KindReconciled:
		c.reconciled.WithLabelValues(e.Status).Inc()
	case events.KindBreaker:
		c.SetBreaker(true)
	}
}

var _ events.Sink = (*Collector)(nil)
