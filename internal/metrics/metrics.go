package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/menta2k/xray-classifier/pkg/classify"
)

const (
	namespace = "xray"
	subsystem = "classifier"
)

// Recorder exports classifier events as Prometheus metrics
type Recorder struct {
	attempts prometheus.Counter
	waits    prometheus.Histogram
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ classify.Observer = (*Recorder)(nil)

// New creates a Recorder and registers its collectors with reg
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_attempts_total",
			Help:      "Total number of remote inference invocations, including retries.",
		}),
		waits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retry_wait_seconds",
			Help:      "Backoff waits between failed attempts.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20, 60},
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classifications_total",
			Help:      "Total number of classification calls, labeled by outcome kind.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classification_duration_seconds",
			Help:      "End-to-end time of a classification call including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{r.attempts, r.waits, r.outcomes, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveAttempt counts one remote invocation
func (r *Recorder) ObserveAttempt() {
	r.attempts.Inc()
}

// ObserveWait records a backoff wait
func (r *Recorder) ObserveWait(wait time.Duration) {
	r.waits.Observe(wait.Seconds())
}

// ObserveOutcome records how a call ended and how long it took
func (r *Recorder) ObserveOutcome(kind string, elapsed time.Duration) {
	r.outcomes.WithLabelValues(kind).Inc()
	r.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
