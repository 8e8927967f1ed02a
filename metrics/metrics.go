// Package metrics exports activity counts and durations to Prometheus.
//
// A Recorder observes activities through an ActivityListener and misuse
// reports through an ErrorHandler:
//
//	rec := metrics.NewRecorder(metrics.Options{Namespace: "shop"}, nil)
//	l := rec.Listener("checkout")
//	activityz.AddActivityListener(l)
//	activityz.SetErrorHandler(rec.ErrorHandler())
//	http.Handle("/metrics", rec.Handler())
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zoobzio/activityz"
)

// Options configures metric names.
type Options struct {
	Namespace       string
	Subsystem       string
	DurationBuckets []float64
}

// Error reasons used as the reason label.
const (
	ReasonMisuse        = "misuse"
	ReasonListenerPanic = "listener_panic"
	ReasonOther         = "other"
)

// Recorder owns the activity metric vectors.
type Recorder struct {
	registry *prometheus.Registry
	started  *prometheus.CounterVec
	stopped  *prometheus.CounterVec
	active   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewRecorder creates and registers the metric vectors. A nil registry is
// replaced with a fresh one.
func NewRecorder(opts Options, registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if opts.Namespace == "" {
		opts.Namespace = "activityz"
	}
	if len(opts.DurationBuckets) == 0 {
		// 1ms to 10s.
		opts.DurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	}

	r := &Recorder{
		registry: registry,
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "activities_started_total",
			Help:      "Total number of activities started",
		}, []string{"source", "kind"}),
		stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "activities_stopped_total",
			Help:      "Total number of activities stopped, by status",
		}, []string{"source", "kind", "status"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "activities_active",
			Help:      "Number of activities started and not yet stopped",
		}, []string{"source"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "activity_duration_seconds",
			Help:      "Activity duration in seconds",
			Buckets:   opts.DurationBuckets,
		}, []string{"source", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "activity_errors_total",
			Help:      "Total number of misuse and listener panic reports",
		}, []string{"reason"}),
	}

	registry.MustRegister(r.started, r.stopped, r.active, r.duration, r.errors)
	return r
}

// Registry returns the registry the vectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Listener returns an observing listener for sourceName. It never votes, so
// it only sees activities other listeners sampled.
func (r *Recorder) Listener(sourceName string) *activityz.ActivityListener {
	return &activityz.ActivityListener{
		SourceName:      sourceName,
		ActivityStarted: r.ActivityStarted,
		ActivityStopped: r.ActivityStopped,
	}
}

// ActivityStarted counts a started activity.
func (r *Recorder) ActivityStarted(a *activityz.Activity) {
	source := sourceName(a)
	r.started.WithLabelValues(source, a.Kind().String()).Inc()
	r.active.WithLabelValues(source).Inc()
}

// ActivityStopped counts a stopped activity and observes its duration.
func (r *Recorder) ActivityStopped(a *activityz.Activity) {
	source := sourceName(a)
	kind := a.Kind().String()
	r.stopped.WithLabelValues(source, kind, a.Status().String()).Inc()
	r.active.WithLabelValues(source).Dec()
	r.duration.WithLabelValues(source, kind).Observe(a.Duration().Seconds())
}

// ErrorHandler returns a handler counting reports by reason. next, if not
// nil, is called afterwards.
func (r *Recorder) ErrorHandler(next ...activityz.ErrorHandler) activityz.ErrorHandler {
	return func(err error) {
		var (
			panicErr *activityz.ListenerPanicError
			misuse   *activityz.ActivityError
		)
		switch {
		case errors.As(err, &panicErr):
			r.errors.WithLabelValues(ReasonListenerPanic).Inc()
		case errors.As(err, &misuse):
			r.errors.WithLabelValues(ReasonMisuse).Inc()
		default:
			r.errors.WithLabelValues(ReasonOther).Inc()
		}
		for _, h := range next {
			if h != nil {
				h(err)
			}
		}
	}
}

func sourceName(a *activityz.Activity) string {
	if s := a.Source(); s != nil {
		return s.Name
	}
	return ""
}
