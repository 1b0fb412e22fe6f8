// Package metric provides Prometheus metrics collection and monitoring.
package metric

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// DefaultSystemInterval is how often system metrics are sampled.
const DefaultSystemInterval = 5 * time.Second

// Metrics contains the Prometheus metrics server and registered custom metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpServer *http.Server
	config     Config
	registry   *prometheus.Registry

	sessionsActive    prometheus.Gauge
	signalingRequests *prometheus.CounterVec
	signalingTimeouts *prometheus.CounterVec
	producersActive   prometheus.Gauge
	consumersActive   prometheus.Gauge
	jobs              *prometheus.CounterVec
	cpuUsage          prometheus.Gauge
	memoryUsage       prometheus.Gauge
}

// New creates a new Metrics instance with its own registry.
func New(config Config) *Metrics {
	m := &Metrics{
		config:   config,
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of signaling sessions.",
		}),
		signalingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_requests_total",
			Help: "Requests sent to the signaling server.",
		}, []string{"method"}),
		signalingTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_request_timeouts_total",
			Help: "Requests that got no response in time.",
		}, []string{"method"}),
		producersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "producers_active",
			Help: "Current number of producers.",
		}),
		consumersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consumers_active",
			Help: "Current number of consumers.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Finished join jobs by outcome.",
		}, []string{"status"}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percentage",
			Help: "CPU usage percentage.",
		}),
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_bytes",
			Help: "Current memory usage in bytes.",
		}),
	}
	m.registry.MustRegister(
		m.sessionsActive,
		m.signalingRequests,
		m.signalingTimeouts,
		m.producersActive,
		m.consumersActive,
		m.jobs,
		m.cpuUsage,
		m.memoryUsage,
	)
	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Start initializes and starts the metrics HTTP server.
func (m *Metrics) Start() {
	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	m.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("module", "metric").Int("port", m.config.Port).Str("path", m.config.Path).Msg("starting metrics server")
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "metric").Err(err).Msg("metrics server stopped")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (m *Metrics) Stop(ctx context.Context) error {
	if m == nil || m.httpServer == nil {
		return nil
	}
	log.Info().Str("module", "metric").Int("port", m.config.Port).Msg("stopping metrics server")
	return m.httpServer.Shutdown(ctx)
}

// UpdateSystemMetrics samples CPU and memory usage every interval until ctx
// is done.
func (m *Metrics) UpdateSystemMetrics(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.sampleSystem(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Metrics) sampleSystem(ctx context.Context) {
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		m.cpuUsage.Set(percents[0])
	} else if err != nil {
		log.Debug().Str("module", "metric").Err(err).Msg("failed to sample cpu")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.memoryUsage.Set(float64(vm.Used))
	} else {
		log.Debug().Str("module", "metric").Err(err).Msg("failed to sample memory")
	}
}

// SessionStarted increments the active session count.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionEnded decrements the active session count.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// RequestSent counts a signaling request.
func (m *Metrics) RequestSent(method string) {
	if m == nil {
		return
	}
	m.signalingRequests.WithLabelValues(method).Inc()
}

// RequestTimedOut counts a signaling request left without a response.
func (m *Metrics) RequestTimedOut(method string) {
	if m == nil {
		return
	}
	m.signalingTimeouts.WithLabelValues(method).Inc()
}

// ProducerAdded increments the active producer count.
func (m *Metrics) ProducerAdded() {
	if m == nil {
		return
	}
	m.producersActive.Inc()
}

// ProducersRemoved decrements the active producer count by n.
func (m *Metrics) ProducersRemoved(n int) {
	if m == nil {
		return
	}
	m.producersActive.Sub(float64(n))
}

// ConsumerAdded increments the active consumer count.
func (m *Metrics) ConsumerAdded() {
	if m == nil {
		return
	}
	m.consumersActive.Inc()
}

// ConsumersRemoved decrements the active consumer count by n.
func (m *Metrics) ConsumersRemoved(n int) {
	if m == nil {
		return
	}
	m.consumersActive.Sub(float64(n))
}

// JobFinished counts a finished job by its status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}
