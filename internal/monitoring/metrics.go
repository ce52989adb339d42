package monitoring

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the signaling broker. Scraped from the dedicated
// metrics listener alongside /health.
var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_connections_total",
		Help: "Total number of TCP connections accepted",
	})
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_connections_active",
		Help: "Current number of live connections",
	})
	HandshakesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_handshakes_failed_total",
		Help: "Total number of connections dropped during key exchange",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_online_users",
		Help: "Current number of authenticated users in the presence registry",
	})

	// Frame metrics
	FramesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_frames_read_total",
		Help: "Total number of frames read from clients",
	})
	FramesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_frames_written_total",
		Help: "Total number of frames written to clients",
	})
	BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_bytes_read_total",
		Help: "Total bytes read from clients",
	})
	BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_bytes_written_total",
		Help: "Total bytes written to clients",
	})
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_decode_errors_total",
		Help: "Total frames that failed decryption or JSON parsing",
	})

	// Relay metrics
	MessagesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_messages_relayed_total",
		Help: "Text relay outcomes by delivery status",
	}, []string{"status"})

	// Call metrics
	CallsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_calls_active",
		Help: "Current number of ringing or active calls",
	})
	CallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_calls_total",
		Help: "Calls leaving the table by terminal status",
	}, []string{"status"})

	// Sweeper metrics
	SweeperEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_sweeper_evictions_total",
		Help: "Entries removed by sweepers, by kind (idle_connection, stuck_call)",
	}, []string{"kind"})

	// Worker pool metrics
	WorkerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_worker_queue_depth",
		Help: "Current number of tasks waiting in the worker pool queue",
	})
	WorkerTasksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dialog_worker_tasks_dropped_total",
		Help: "Tasks dropped because the worker pool queue was full",
	})

	// System metrics
	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_cpu_usage_percent",
		Help: "Smoothed process CPU usage percentage",
	})
	MemoryHeapBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_memory_heap_bytes",
		Help: "Current heap allocation in bytes",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_goroutines",
		Help: "Current goroutine count",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		HandshakesFailed,
		OnlineUsers,
		FramesRead,
		FramesWritten,
		BytesRead,
		BytesWritten,
		DecodeErrors,
		MessagesRelayed,
		CallsActive,
		CallsTotal,
		SweeperEvictions,
		WorkerQueueDepth,
		WorkerTasksDropped,
		CPUUsagePercent,
		MemoryHeapBytes,
		GoroutineCount,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// UpdateRuntimeGauges refreshes the heap and goroutine gauges. Called by
// the system monitor on its sample tick.
func UpdateRuntimeGauges() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	MemoryHeapBytes.Set(float64(mem.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}
