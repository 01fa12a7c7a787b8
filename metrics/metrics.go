// Package metrics records run-level counters for one-shot executions. The
// Prometheus recorder exports through a textfile so no HTTP endpoint is
// required; the no-op recorder keeps the executor free of conditionals.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes run and step completions. Implementations must be safe
// for concurrent use.
type Recorder interface {
	// RunEnded records a finished run with its terminal status.
	RunEnded(status string)

	// StepEnded records a step reaching a terminal state.
	StepEnded(status string, duration time.Duration)

	// AddTokens accumulates settled token usage.
	AddTokens(n int)

	// SetBudgetRemaining tracks the unspent budget.
	SetBudgetRemaining(n int)
}

// Nop is a Recorder that records nothing.
type Nop struct{}

// RunEnded implements Recorder.
func (Nop) RunEnded(string) {}

// StepEnded implements Recorder.
func (Nop) StepEnded(string, time.Duration) {}

// AddTokens implements Recorder.
func (Nop) AddTokens(int) {}

// SetBudgetRemaining implements Recorder.
func (Nop) SetBudgetRemaining(int) {}

// Prometheus is a Recorder backed by a private Prometheus registry.
type Prometheus struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	tokensUsedTotal prometheus.Counter
	budgetRemaining prometheus.Gauge
	stepDuration    prometheus.Histogram
}

// NewPrometheus creates a recorder with its own registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semflow",
			Name:      "runs_total",
			Help:      "Completed runs by terminal status.",
		}, []string{"status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semflow",
			Name:      "steps_total",
			Help:      "Completed steps by terminal status.",
		}, []string{"status"}),
		tokensUsedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semflow",
			Name:      "tokens_used_total",
			Help:      "Settled token usage.",
		}),
		budgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semflow",
			Name:      "budget_remaining",
			Help:      "Unspent run budget.",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "semflow",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock step duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	p.registry.MustRegister(p.runsTotal, p.stepsTotal, p.tokensUsedTotal,
		p.budgetRemaining, p.stepDuration)
	return p
}

// RunEnded implements Recorder.
func (p *Prometheus) RunEnded(status string) {
	p.runsTotal.WithLabelValues(status).Inc()
}

// StepEnded implements Recorder.
func (p *Prometheus) StepEnded(status string, duration time.Duration) {
	p.stepsTotal.WithLabelValues(status).Inc()
	p.stepDuration.Observe(duration.Seconds())
}

// AddTokens implements Recorder.
func (p *Prometheus) AddTokens(n int) {
	p.tokensUsedTotal.Add(float64(n))
}

// SetBudgetRemaining implements Recorder.
func (p *Prometheus) SetBudgetRemaining(n int) {
	p.budgetRemaining.Set(float64(n))
}

// WriteTextfile exports the current metric state in the node-exporter
// textfile format.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
