// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-hsm.
//
// go-hsm is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the HSM core and
// its service surfaces: per-operation counters, dispatch latency
// histograms, key store and in-flight gauges, and DRBG health.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all HSM metrics
	Namespace = "hsm"

	// Label names
	LabelOperation  = "operation"
	LabelAlgorithm  = "algorithm"
	LabelStatus     = "status"
	LabelProtocol   = "protocol"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"
)

var (
	// RequestsTotal counts dispatched core requests by operation and wire
	// status. Use RecordRequest to increment with the right labels.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Total number of core requests by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// DispatchDuration tracks time from dequeue to response enqueue.
	// Buckets are tuned for sub-millisecond software crypto with a tail
	// for asymmetric operations.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from request dequeue to response enqueue",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{LabelOperation},
	)

	// KeyStoreOccupancy tracks the number of occupied key slots.
	KeyStoreOccupancy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keystore_occupied_slots",
			Help:      "Number of occupied key store slots",
		},
	)

	// KeyStoreCapacity reports the fixed key store capacity.
	KeyStoreCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keystore_capacity_slots",
			Help:      "Configured key store capacity in slots",
		},
	)

	// InFlight tracks entries currently held in the dispatch table.
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "in_flight_requests",
			Help:      "Requests currently tracked by the dispatch table",
		},
	)

	// EngineBusyTotal counts requests rejected because the in-flight
	// table was full.
	EngineBusyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "engine_busy_total",
			Help:      "Requests rejected because the in-flight table was full",
		},
	)

	// ChannelFullTotal counts response enqueue attempts deferred because
	// the client's response queue was full.
	ChannelFullTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "channel_full_total",
			Help:      "Response enqueue attempts deferred due to a full client queue",
		},
	)

	// BusyRepliesDroppedTotal counts EngineBusy replies that could not
	// be delivered because the client's response queue was also full.
	// These replies are dropped, not retried, so the counter is the only
	// trace they leave.
	BusyRepliesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "busy_replies_dropped_total",
			Help:      "EngineBusy replies dropped because the client response queue was full",
		},
	)

	// DRBGReseedsTotal counts successful DRBG reseeds.
	DRBGReseedsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "drbg_reseeds_total",
			Help:      "Successful DRBG reseeds from the entropy source",
		},
	)

	// CoreHalted indicates whether the core has halted after a fatal
	// entropy failure (1) or is running (0).
	CoreHalted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "core_halted",
			Help:      "Whether the core has halted after a fatal entropy failure (1) or is running (0)",
		},
	)

	// ActiveConnections tracks the number of active connections by
	// protocol (REST, QUIC).
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	// Updated periodically by the resource collector.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks the cumulative time spent in GC stop-the-world pauses.
	// Updated periodically by the resource collector.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordRequest records one dispatched core request.
//
// Parameters:
//   - operation: the operation name (types.Operation String form)
//   - status: the wire status (types.Status String form)
//   - duration: dequeue-to-enqueue time in seconds
func RecordRequest(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	RequestsTotal.WithLabelValues(operation, status).Inc()
	DispatchDuration.WithLabelValues(operation).Observe(duration)
}

// RecordEngineBusy records a request rejected with a full in-flight table.
func RecordEngineBusy() {
	if !enabled.Load() {
		return
	}
	EngineBusyTotal.Inc()
}

// RecordBusyReplyDropped records an EngineBusy reply dropped on the floor
// because the client's response queue had no room for it.
func RecordBusyReplyDropped() {
	if !IsEnabled() {
		return
	}
	BusyRepliesDroppedTotal.Inc()
}

// RecordChannelFull records a deferred response enqueue.
func RecordChannelFull() {
	if !enabled.Load() {
		return
	}
	ChannelFullTotal.Inc()
}

// RecordDRBGReseed records a successful DRBG reseed.
func RecordDRBGReseed() {
	if !enabled.Load() {
		return
	}
	DRBGReseedsTotal.Inc()
}

// SetKeyStore updates the key store occupancy and capacity gauges.
func SetKeyStore(occupied, capacity int) {
	if !enabled.Load() {
		return
	}
	KeyStoreOccupancy.Set(float64(occupied))
	KeyStoreCapacity.Set(float64(capacity))
}

// SetInFlight updates the in-flight table gauge.
func SetInFlight(count int) {
	if !enabled.Load() {
		return
	}
	InFlight.Set(float64(count))
}

// SetCoreHalted sets the core halt indicator.
func SetCoreHalted(halted bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if halted {
		value = 1.0
	}
	CoreHalted.Set(value)
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
