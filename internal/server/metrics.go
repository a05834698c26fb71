package server

import (
	"net/http"
	"time"

	"nftrelay/internal/chain"
	"nftrelay/internal/orchestrator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is shared by the HTTP layer, the sequencer and the submitter.
type Metrics struct {
	registry         *prometheus.Registry
	workflowsTotal   *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	submissionsTotal *prometheus.CounterVec
	rateLimitedTotal prometheus.Counter
	journalErrors    prometheus.Counter
}

func NewMetrics() *Metrics {
	workflows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftrelay_workflows_total",
		Help: "Finished transfer workflows by outcome and failed step",
	}, []string{"outcome", "step"})

	steps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nftrelay_step_duration_seconds",
		Help:    "Time spent in each workflow step, confirmation wait included",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	}, []string{"step", "result"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftrelay_submissions_total",
		Help: "Transaction submissions by result kind",
	}, []string{"kind"})

	limited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nftrelay_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	})

	journalErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nftrelay_journal_errors_total",
		Help: "Workflow outcomes that could not be written to the journal",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(workflows, steps, submissions, limited, journalErrors)

	return &Metrics{
		registry:         r,
		workflowsTotal:   workflows,
		stepDuration:     steps,
		submissionsTotal: submissions,
		rateLimitedTotal: limited,
		journalErrors:    journalErrors,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeWorkflow(res orchestrator.Result) {
	if res.Success {
		m.workflowsTotal.WithLabelValues("success", "").Inc()
		return
	}
	m.workflowsTotal.WithLabelValues("failure", string(res.Response().Step)).Inc()
}

// ObserveStep has the orchestrator.StepObserver signature.
func (m *Metrics) ObserveStep(step orchestrator.Step, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stepDuration.WithLabelValues(string(step), result).Observe(elapsed.Seconds())
}

// ObserveSubmission is passed to chain.WithObserver.
func (m *Metrics) ObserveSubmission(kind chain.Kind, _ time.Duration) {
	label := "confirmed"
	if kind != chain.KindUnclassified {
		label = kind.String()
	}
	m.submissionsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) incRateLimited() {
	m.rateLimitedTotal.Inc()
}

func (m *Metrics) incJournalError() {
	m.journalErrors.Inc()
}
