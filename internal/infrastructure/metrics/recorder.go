package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"codejanitor/internal/domain/janitor"
	"codejanitor/internal/ports"
)

// Recorder exports orchestration counters to Prometheus.
type Recorder struct {
	syncRuns       *prometheus.CounterVec
	issuesDetected *prometheus.CounterVec
	issuesClosed   *prometheus.CounterVec
	fixAttempts    *prometheus.CounterVec
	changeRequests *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	cycleFailures  prometheus.Counter
}

var _ ports.MetricsRecorder = (*Recorder)(nil)

func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_sync_runs_total",
			Help: "Analysis sync runs by project and result",
		}, []string{"project", "result"}),
		issuesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_issues_detected_total",
			Help: "Issues newly tracked by sync",
		}, []string{"project"}),
		issuesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_issues_closed_total",
			Help: "Issues closed because analysis stopped reporting them",
		}, []string{"project"}),
		fixAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_fix_attempts_total",
			Help: "Remediation attempts by result",
		}, []string{"result"}),
		changeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_change_request_outcomes_total",
			Help: "Resolved change requests by outcome",
		}, []string{"outcome"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "janitor_cycle_duration_seconds",
			Help:    "Scheduler cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		cycleFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "janitor_cycle_failures_total",
			Help: "Scheduler cycles that reported at least one error",
		}),
	}
}

func (r *Recorder) ObserveSync(projectKey string, _ int, created int, closed int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.syncRuns.WithLabelValues(projectKey, result).Inc()
	r.issuesDetected.WithLabelValues(projectKey).Add(float64(created))
	r.issuesClosed.WithLabelValues(projectKey).Add(float64(closed))
}

func (r *Recorder) ObserveFixAttempt(result string) {
	r.fixAttempts.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveChangeRequestOutcome(outcome janitor.MergeOutcome) {
	r.changeRequests.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) ObserveCycle(duration time.Duration, err error) {
	r.cycleDuration.Observe(duration.Seconds())
	if err != nil {
		r.cycleFailures.Inc()
	}
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveSync(string, int, int, int, error)         {}
func (Noop) ObserveFixAttempt(string)                         {}
func (Noop) ObserveChangeRequestOutcome(janitor.MergeOutcome) {}
func (Noop) ObserveCycle(time.Duration, error)                {}
