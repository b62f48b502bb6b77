// Package monitoring owns the prometheus collectors of the build pipeline and
// the derivation service, plus a small health checker for the authority.
//
// Collectors are registered on an injected prometheus.Registerer; nothing is
// put on the default registry. A nil *Metrics is valid and records nothing.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "home"

// Metrics groups every collector the pipeline records into.
type Metrics struct {
	BuildDuration      *prometheus.HistogramVec
	FilesProcessed     *prometheus.CounterVec
	MediaProbeCache    *prometheus.CounterVec
	StoreLookups       *prometheus.CounterVec
	DeriveAttempts     *prometheus.CounterVec
	AuthorityInFlight  prometheus.Gauge
	AuthorityDurations *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of revision builds by kind and outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind", "outcome"}),
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_files_processed_total",
			Help:      "Input events applied by the revision builder",
		}, []string{"event"}),
		MediaProbeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_probe_cache_total",
			Help:      "Media properties cache lookups by result",
		}, []string{"result"}),
		StoreLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_lookups_total",
			Help:      "Layered store reads by the tier that answered",
		}, []string{"tier"}),
		DeriveAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derive_attempts_total",
			Help:      "Derive requests sent to the compute authority by response",
		}, []string{"outcome"}),
		AuthorityInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authority_jobs_in_flight",
			Help:      "Derivations currently being computed by the authority",
		}),
		AuthorityDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authority_job_duration_seconds",
			Help:      "Duration of derivation jobs by kind",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BuildDuration,
			m.FilesProcessed,
			m.MediaProbeCache,
			m.StoreLookups,
			m.DeriveAttempts,
			m.AuthorityInFlight,
			m.AuthorityDurations,
		)
	}

	return m
}

// ObserveBuild records one finished build.
func (m *Metrics) ObserveBuild(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.BuildDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// FileProcessed counts one applied input event.
func (m *Metrics) FileProcessed(event string) {
	if m == nil {
		return
	}
	m.FilesProcessed.WithLabelValues(event).Inc()
}

// ProbeCacheResult counts a media properties cache hit or miss.
func (m *Metrics) ProbeCacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.MediaProbeCache.WithLabelValues(result).Inc()
}

// StoreLookup counts a layered read answered by tier, or "miss".
func (m *Metrics) StoreLookup(tier string) {
	if m == nil {
		return
	}
	m.StoreLookups.WithLabelValues(tier).Inc()
}

// DeriveAttempt counts one authority response.
func (m *Metrics) DeriveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.DeriveAttempts.WithLabelValues(outcome).Inc()
}

// JobStarted marks an authority job as running and returns the function that
// marks it finished.
func (m *Metrics) JobStarted(kind string) func() {
	if m == nil {
		return func() {}
	}
	m.AuthorityInFlight.Inc()
	timer := prometheus.NewTimer(m.AuthorityDurations.WithLabelValues(kind))

	return func() {
		timer.ObserveDuration()
		m.AuthorityInFlight.Dec()
	}
}
