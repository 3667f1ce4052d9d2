package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions    prometheus.Gauge
	activeSubscribers prometheus.Gauge
	handshakesTotal   prometheus.Counter
	releasesTotal     prometheus.Counter

	commandsTotal   *prometheus.CounterVec
	commandDuration prometheus.Histogram
	exportDuration  *prometheus.HistogramVec
	persistDuration prometheus.Histogram

	eventsBroadcastTotal *prometheus.CounterVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active plotting session count.",
				},
			),
			activeSubscribers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_subscribers",
					Help: "Current realtime subscriber count across all sessions.",
				},
			),
			handshakesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "handshakes_total",
					Help: "Total handshake operations that created a session.",
				},
			),
			releasesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "releases_total",
					Help: "Total release operations that tore down a session.",
				},
			),
			commandsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "commands_total",
					Help: "Total script commands forwarded to engine handles by status.",
				},
				[]string{"status"},
			),
			commandDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "command_duration_seconds",
					Help:    "Script command execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			exportDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "export_duration_seconds",
					Help:    "State export duration in seconds by format.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"format"},
			),
			persistDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "persist_duration_seconds",
					Help:    "Durable document write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			eventsBroadcastTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "events_broadcast_total",
					Help: "Total engine change events fanned out by kind.",
				},
				[]string{"kind"},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by session lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by session lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total completed tasks by session lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by session lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.activeSubscribers,
			m.handshakesTotal,
			m.releasesTotal,
			m.commandsTotal,
			m.commandDuration,
			m.exportDuration,
			m.persistDuration,
			m.eventsBroadcastTotal,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from any package init path.
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler returns the HTTP handler serving the process metrics.
func MetricsHandler() http.Handler {
	getMetrics()
	return promhttp.Handler()
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// SetActiveSessions records the current session count.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// SetActiveSubscribers records the current subscriber count.
func SetActiveSubscribers(n int) {
	getMetrics().activeSubscribers.Set(float64(n))
}

// RecordHandshake counts a session creation.
func RecordHandshake() {
	getMetrics().handshakesTotal.Inc()
}

// RecordRelease counts a session teardown.
func RecordRelease() {
	getMetrics().releasesTotal.Inc()
}

// RecordCommand records a script command execution.
func RecordCommand(d time.Duration, ok bool) {
	m := getMetrics()
	m.commandsTotal.WithLabelValues(statusLabel(ok)).Inc()
	if ok {
		m.commandDuration.Observe(d.Seconds())
	}
}

// RecordExport records a state export by format.
func RecordExport(format string, d time.Duration) {
	getMetrics().exportDuration.WithLabelValues(format).Observe(d.Seconds())
}

// RecordPersist records a durable document write.
func RecordPersist(d time.Duration) {
	getMetrics().persistDuration.Observe(d.Seconds())
}

// RecordBroadcast counts one fanned-out engine event.
func RecordBroadcast(kind string) {
	getMetrics().eventsBroadcastTotal.WithLabelValues(kind).Inc()
}

// RecordQueueEnqueue records an enqueue and the resulting queue size.
func RecordQueueEnqueue(lane string, size int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(size))
}

// RecordQueueCompletion records a finished task and the remaining queue size.
func RecordQueueCompletion(lane string, d time.Duration, ok bool, size int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(ok)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(d.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(size))
}

// SetQueueSize records the current queue size for a lane.
func SetQueueSize(lane string, size int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(size))
}
