// Package metrics records batch pipeline counters on a private Prometheus
// registry. A batch is a short-lived process, so the registry is written to a
// node-exporter textfile at the end of a run instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// WithLatencyBuckets sets custom buckets for the backend call histogram.
func WithLatencyBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.latencyBuckets = buckets
		}
	}
}

// WithRegistry registers the metrics on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// Recorder holds the pipeline metrics. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	namespace      string
	latencyBuckets []float64
	registry       *prometheus.Registry

	images        *prometheus.CounterVec
	attempts      prometheus.Counter
	players       prometheus.Counter
	storeFailures prometheus.Counter
	score         prometheus.Histogram
	backendCalls  *prometheus.HistogramVec
}

// New creates a Recorder with all metrics registered.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		namespace:      "scorito",
		latencyBuckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		registry:       prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}

	auto := promauto.With(r.registry)
	r.images = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "images_total",
		Help:      "Images processed, by terminal workflow state.",
	}, []string{"outcome"})
	r.attempts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "attempts_total",
		Help:      "Extraction attempts across all images.",
	})
	r.players = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "players_total",
		Help:      "Player records aggregated from accepted images.",
	})
	r.storeFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "store_failures_total",
		Help:      "Player records the storage sink rejected.",
	})
	r.score = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "validation_score",
		Help:      "Validation scores returned by the reasoning backend.",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})
	r.backendCalls = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "backend_call_seconds",
		Help:      "Backend call latency in seconds.",
		Buckets:   r.latencyBuckets,
	}, []string{"backend", "step"})

	return r
}

// Registry returns the registry the metrics live on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordImage counts one finished image by its terminal state and the
// attempts it used.
func (r *Recorder) RecordImage(outcome string, attempts int) {
	if r == nil {
		return
	}
	r.images.WithLabelValues(outcome).Inc()
	r.attempts.Add(float64(attempts))
}

// RecordPlayers adds n aggregated player records.
func (r *Recorder) RecordPlayers(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.players.Add(float64(n))
}

// RecordStoreFailure counts one rejected upsert.
func (r *Recorder) RecordStoreFailure() {
	if r == nil {
		return
	}
	r.storeFailures.Inc()
}

// ObserveScore records a validation score.
func (r *Recorder) ObserveScore(score int) {
	if r == nil {
		return
	}
	r.score.Observe(float64(score))
}

// ObserveCall records the latency of one backend call.
func (r *Recorder) ObserveCall(backend, step string, d time.Duration) {
	if r == nil {
		return
	}
	r.backendCalls.WithLabelValues(backend, step).Observe(d.Seconds())
}

// WriteTextfile writes the registry in text exposition format to path. The
// file is written to a temporary name and renamed, so a collector never
// reads a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
