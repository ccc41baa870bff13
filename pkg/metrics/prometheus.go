// Package metrics records controller activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/placard/pkg/core"
)

const namespace = "placard"

// Recorder implements core.MetricsRecorder with Prometheus collectors.
type Recorder struct {
	registry      *prometheus.Registry
	commits       *prometheus.CounterVec
	commitLatency *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commit attempts by transaction mode and outcome.",
		}, []string{"mode", "outcome"}),
		commitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent inside the serialization region per commit.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"mode"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Observer callbacks delivered, by callback and whether the observer panicked.",
		}, []string{"callback", "panicked"}),
	}
	r.registry.MustRegister(r.commits, r.commitLatency, r.notifications)
	return r
}

// ObserveCommit implements core.MetricsRecorder.
func (r *Recorder) ObserveCommit(mode core.Mode, outcome string, duration time.Duration) {
	r.commits.WithLabelValues(mode.String(), outcome).Inc()
	if outcome == core.OutcomeCommitted {
		r.commitLatency.WithLabelValues(mode.String()).Observe(duration.Seconds())
	}
}

// ObserveNotification implements core.MetricsRecorder.
func (r *Recorder) ObserveNotification(callback string, panicked bool) {
	r.notifications.WithLabelValues(callback, strconv.FormatBool(panicked)).Inc()
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var _ core.MetricsRecorder = (*Recorder)(nil)
