package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the relay, scrapeable at /metrics.
var (
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	connectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_failed_total",
		Help: "Total number of failed or rejected connection attempts",
	})

	sessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_evicted_total",
		Help: "Total number of sessions replaced by a newer connection of the same user",
	})

	eventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_received_total",
		Help: "Total inbound events by event name",
	}, []string{"event"})

	eventsRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_rate_limited_total",
		Help: "Total inbound events rejected by the per-connection budget",
	}, []string{"event"})

	eventsMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_events_malformed_total",
		Help: "Total inbound frames that failed envelope or payload decoding",
	})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of frames written to clients",
	})

	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_bytes_sent_total",
		Help: "Total number of bytes written to clients",
	})

	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_bytes_received_total",
		Help: "Total number of bytes read from clients",
	})

	slowClientsDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_clients_disconnected_total",
		Help: "Total number of clients disconnected for not draining their send buffer",
	})

	workerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_worker_queue_depth",
		Help: "Current number of tasks waiting in the background worker queue",
	})

	workerTasksDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_worker_tasks_dropped_total",
		Help: "Total background tasks dropped because the worker queue was full",
	})

	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_memory_bytes",
		Help: "Current process memory usage in bytes",
	})
)

func init() {
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(connectionsActive)
	prometheus.MustRegister(connectionsFailed)
	prometheus.MustRegister(sessionsEvicted)

	prometheus.MustRegister(eventsReceived)
	prometheus.MustRegister(eventsRateLimited)
	prometheus.MustRegister(eventsMalformed)

	prometheus.MustRegister(messagesSent)
	prometheus.MustRegister(bytesSent)
	prometheus.MustRegister(bytesReceived)

	prometheus.MustRegister(slowClientsDisconnected)
	prometheus.MustRegister(workerQueueDepth)
	prometheus.MustRegister(workerTasksDropped)
	prometheus.MustRegister(memoryUsageBytes)
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
