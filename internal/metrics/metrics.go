package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Connections is the number of live sessions attached to the hub
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{Name: "realtime_connections", Help: "Live realtime sessions."})
	// AnnouncedUsers is the number of connections with an announced identity
	AnnouncedUsers = prometheus.NewGauge(prometheus.GaugeOpts{Name: "realtime_announced_users", Help: "Connections with an announced identity."})
	// Deliveries counts frames handed to session queues by type and audience (global, room)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_deliveries_total", Help: "Frames enqueued to sessions."},
		[]string{"type", "audience"},
	)
	// DroppedSends counts deliveries a session could not accept
	DroppedSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_dropped_sends_total", Help: "Deliveries dropped because the session queue was full or closed."},
		[]string{"type"},
	)
	// RejectedFrames counts inbound frames dropped before reaching the fan-out
	RejectedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_rejected_frames_total", Help: "Inbound frames rejected by reason."},
		[]string{"reason"},
	)

	// RecorderRecords counts sink writes by sink and status
	RecorderRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "recorder_records_total", Help: "Records written to sinks."},
		[]string{"sink", "status"},
	)
	// RecorderDropped counts records dropped because the queue was full
	RecorderDropped = prometheus.NewCounter(prometheus.CounterOpts{Name: "recorder_queue_dropped_total", Help: "Records dropped on a full recorder queue."})
	// RecorderLatency tracks sink write latencies in milliseconds
	RecorderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "recorder_write_latency_ms", Help: "Sink write latency in ms.", Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000}},
		[]string{"sink"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Connections)
		Registry.MustRegister(AnnouncedUsers)
		Registry.MustRegister(Deliveries)
		Registry.MustRegister(DroppedSends)
		Registry.MustRegister(RejectedFrames)
		Registry.MustRegister(RecorderRecords)
		Registry.MustRegister(RecorderDropped)
		Registry.MustRegister(RecorderLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
