package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"toolbox/internal/convert"
	"toolbox/internal/services"
)

const namespace = "toolbox"

// Metrics holds the daemon's collectors.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	stageTransitions *prometheus.CounterVec
	jobActive        prometheus.Gauge
	engineLoads      *prometheus.CounterVec
	engineLoadTime   prometheus.Histogram
	engineReady      prometheus.Gauge
	imagesTotal      *prometheus.CounterVec
	imageBytesSaved  prometheus.Counter
	downloadsSwept   prometheus.Counter
}

var _ convert.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Conversion jobs by outcome (done or the failure kind).",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished conversion jobs by output format.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"format"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Job stage entries by stage.",
		}, []string{"stage"}),
		jobActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_active",
			Help:      "1 while a conversion job is running.",
		}),
		engineLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_loads_total",
			Help:      "Engine load attempts by result.",
		}, []string{"result"}),
		engineLoadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_load_duration_seconds",
			Help:      "Duration of engine load attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		engineReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_ready",
			Help:      "1 once the engine has loaded.",
		}),
		imagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_total",
			Help:      "Image compression requests by outcome.",
		}, []string{"outcome"}),
		imageBytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_bytes_saved_total",
			Help:      "Bytes saved by image compression.",
		}),
		downloadsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_expired_total",
			Help:      "Download artifacts removed by the expiry sweep.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.jobDuration,
		m.stageTransitions,
		m.jobActive,
		m.engineLoads,
		m.engineLoadTime,
		m.engineReady,
		m.imagesTotal,
		m.imageBytesSaved,
		m.downloadsSwept,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobStarted marks a job active.
func (m *Metrics) JobStarted(_ context.Context, _ convert.Snapshot) {
	m.jobActive.Set(1)
}

// StageChanged counts the stage entry.
func (m *Metrics) StageChanged(_ context.Context, snap convert.Snapshot, _ convert.Stage) {
	m.stageTransitions.WithLabelValues(string(snap.Stage)).Inc()
}

// JobFinished records the outcome and duration.
func (m *Metrics) JobFinished(_ context.Context, snap convert.Snapshot) {
	m.jobActive.Set(0)
	outcome := "done"
	if snap.Error != nil {
		outcome = string(snap.Error.Kind)
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	if d := snap.Duration(); d > 0 {
		m.jobDuration.WithLabelValues(snap.Spec.Format).Observe(d.Seconds())
	}
}

// ObserveEngineLoad matches engine.LoadHook.
func (m *Metrics) ObserveEngineLoad(err error, elapsed time.Duration) {
	m.engineLoadTime.Observe(elapsed.Seconds())
	if err != nil {
		m.engineLoads.WithLabelValues("failure").Inc()
		return
	}
	m.engineLoads.WithLabelValues("success").Inc()
	m.engineReady.Set(1)
}

// ObserveImage records one compression request. saved is ignored on error.
func (m *Metrics) ObserveImage(err error, saved int64) {
	if err != nil {
		m.imagesTotal.WithLabelValues(string(services.KindOf(err))).Inc()
		return
	}
	m.imagesTotal.WithLabelValues("done").Inc()
	if saved > 0 {
		m.imageBytesSaved.Add(float64(saved))
	}
}

// ObserveSweep records artifacts removed by the expiry sweep.
func (m *Metrics) ObserveSweep(removed int) {
	if removed > 0 {
		m.downloadsSwept.Add(float64(removed))
	}
}
