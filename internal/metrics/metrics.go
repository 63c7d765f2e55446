// Package metrics exposes the service's Prometheus metrics: dispatch
// throughput, connection counts, wakelock holds, and backing-pressure
// drops, grounded on the ambient metrics server the daemon this module
// is descended from ships.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	gohost "github.com/shirou/gopsutil/v4/host"
)

const defaultAddr = "127.0.0.1:9128"

// Metrics holds every Prometheus collector the service registers.
type Metrics struct {
	eventsDispatched   *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	dispatchLatency    prometheus.Histogram
	connectionsActive  prometheus.Gauge
	directChannels     prometheus.Gauge
	activeSensorCount  prometheus.Gauge
	wakelockAcquires   prometheus.Counter
	wakelockReleases   prometheus.Counter
	wakelockForced     prometheus.Counter
	modeTransitions    *prometheus.CounterVec
	accessDenials      *prometheus.CounterVec
	buildInfo          *prometheus.GaugeVec
	hostUptime         prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
	log      zerolog.Logger
}

// New creates and registers every collector. version is stamped onto the
// build_info gauge the way the ambient daemon this module descends from
// does.
func New(version string, log zerolog.Logger) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensord_events_dispatched_total",
			Help: "Total sensor events delivered to at least one connection, by sensor type.",
		}, []string{"sensor_type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensord_events_dropped_total",
			Help: "Events dropped by a connection's back-pressure policy, by reason.",
		}, []string{"reason"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensord_dispatch_iteration_seconds",
			Help:    "Wall-clock duration of one dispatch loop iteration.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensord_event_connections_active",
			Help: "Currently live event connections.",
		}),
		directChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensord_direct_channels_active",
			Help: "Currently live direct (shared-memory) channels.",
		}),
		activeSensorCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensord_active_sensors",
			Help: "Sensors with at least one subscriber.",
		}),
		wakelockAcquires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensord_wakelock_acquires_total",
			Help: "Number of times the system wakelock was acquired.",
		}),
		wakelockReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensord_wakelock_releases_total",
			Help: "Number of times the system wakelock was released.",
		}),
		wakelockForced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensord_wakelock_forced_releases_total",
			Help: "Number of times the ack-receiver timeout forced a wakelock release.",
		}),
		modeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensord_mode_transitions_total",
			Help: "Operating mode transitions by destination mode and result.",
		}, []string{"mode", "result"}),
		accessDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensord_access_denials_total",
			Help: "can_access rejections by sensor type.",
		}, []string{"sensor_type"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensord_build_info",
			Help: "Service build metadata.",
		}, []string{"version", "platform"}),
		hostUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensord_host_uptime_seconds",
			Help: "Host uptime as reported by the kernel at process start.",
		}),
		registry: reg,
		log:      log.With().Str("component", "metrics").Logger(),
	}

	reg.MustRegister(
		m.eventsDispatched,
		m.eventsDropped,
		m.dispatchLatency,
		m.connectionsActive,
		m.directChannels,
		m.activeSensorCount,
		m.wakelockAcquires,
		m.wakelockReleases,
		m.wakelockForced,
		m.modeTransitions,
		m.accessDenials,
		m.buildInfo,
		m.hostUptime,
	)

	platform := "unknown"
	if info, err := gohost.Info(); err == nil {
		platform = info.Platform
		m.hostUptime.Set(float64(info.Uptime))
	} else {
		m.log.Warn().Err(err).Msg("failed to read host info")
	}
	m.buildInfo.WithLabelValues(version, platform).Set(1)

	return m
}

// Start serves /metrics on addr. An empty or "disabled" addr is a no-op,
// matching the ambient daemon's convention for optional HTTP surfaces.
func (m *Metrics) Start(addr string) error {
	if addr == "" || strings.EqualFold(addr, "disabled") {
		m.log.Info().Msg("metrics server disabled")
		return nil
	}
	if addr == "default" {
		addr = defaultAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped unexpectedly")
		}
	}()
	m.log.Info().Str("addr", addr).Msg("metrics server started")
	return nil
}

func (m *Metrics) Shutdown(ctx context.Context) {
	if m == nil || m.server == nil {
		return
	}
	_ = m.server.Shutdown(ctx)
}

func (m *Metrics) RecordDispatched(sensorType string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(sensorType).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDispatchLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d.Seconds())
}

func (m *Metrics) SetConnectionsActive(n int) {
	if m == nil {
		return
	}
	m.connectionsActive.Set(float64(n))
}

func (m *Metrics) SetDirectChannelsActive(n int) {
	if m == nil {
		return
	}
	m.directChannels.Set(float64(n))
}

func (m *Metrics) SetActiveSensorCount(n int) {
	if m == nil {
		return
	}
	m.activeSensorCount.Set(float64(n))
}

func (m *Metrics) RecordWakelockAcquire() {
	if m == nil {
		return
	}
	m.wakelockAcquires.Inc()
}

func (m *Metrics) RecordWakelockRelease() {
	if m == nil {
		return
	}
	m.wakelockReleases.Inc()
}

func (m *Metrics) RecordWakelockForced() {
	if m == nil {
		return
	}
	m.wakelockForced.Inc()
}

func (m *Metrics) RecordModeTransition(mode, result string) {
	if m == nil {
		return
	}
	m.modeTransitions.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) RecordAccessDenial(sensorType string) {
	if m == nil {
		return
	}
	m.accessDenials.WithLabelValues(sensorType).Inc()
}
