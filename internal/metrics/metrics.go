// Package metrics holds the Prometheus collectors exported on /metrics.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interview_sim"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	providerRequests  *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	synthesisRequests *prometheus.CounterVec
	synthesisDuration *prometheus.HistogramVec
	speechQueueDepth  prometheus.Gauge
	frames            *prometheus.CounterVec
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Chat provider calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Chat provider call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"backend"}),
		synthesisRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_synthesis_total",
			Help:      "Speech synthesis jobs by engine and outcome.",
		}, []string{"engine", "outcome"}),
		synthesisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_synthesis_duration_seconds",
			Help:      "Speech synthesis latency including queue wait.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"engine"}),
		speechQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_queue_depth",
			Help:      "Synthesis jobs waiting for a worker.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Frames emitted on chat streams by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.providerRequests,
		m.providerDuration,
		m.synthesisRequests,
		m.synthesisDuration,
		m.speechQueueDepth,
		m.frames,
	)
	return m
}

// Handler serves the exposition format for the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// TrackSessions exports the live session count, read on every scrape.
func (m *Metrics) TrackSessions(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Conversations held by the session registry.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveProvider(backend string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.providerRequests.WithLabelValues(backend, outcome).Inc()
	m.providerDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSynthesis(engine, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.synthesisRequests.WithLabelValues(engine, outcome).Inc()
	m.synthesisDuration.WithLabelValues(engine).Observe(elapsed.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.speechQueueDepth.Set(float64(n))
}

func (m *Metrics) CountFrame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}
