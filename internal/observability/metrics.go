package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Websocket event kinds.
const (
	KindInbound   = "inbound"
	KindOutbound  = "outbound"
	KindLifecycle = "lifecycle"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served by the query surface.",
	}, []string{"method", "route", "status"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Open websocket connections.",
	})

	wsEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Websocket frames and lifecycle transitions by kind.",
	}, []string{"kind", "event"})

	hubDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "dropped_events_total",
		Help:      "Client events the hub discarded without a reply.",
	}, []string{"event", "reason"})

	hubBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "inbox_backlog",
		Help:      "Events waiting in the hub inbox after the last processed event.",
	})

	hubLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "event_duration_seconds",
		Help:      "Time the hub loop spent applying one event.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	amqpFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "amqp",
		Name:      "publish_errors_total",
		Help:      "Failed AMQP publishes.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequests,
		httpLatency,
		wsConnections,
		wsEvents,
		hubDropped,
		hubBacklog,
		hubLatency,
		amqpFailures,
	)
}

// HTTPMetricsMiddleware records count and latency per matched route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() { wsConnections.Inc() }

func DecWSActive() { wsConnections.Dec() }

func IncWSEvent(kind, event string) {
	wsEvents.WithLabelValues(kind, event).Inc()
}

func IncDropped(event, reason string) {
	hubDropped.WithLabelValues(event, reason).Inc()
}

// ObserveHubEvent records how long the hub took to apply one event and how
// many were still queued behind it.
func ObserveHubEvent(event string, took time.Duration, backlog int) {
	hubLatency.WithLabelValues(event).Observe(took.Seconds())
	hubBacklog.Set(float64(backlog))
}

func IncAMQPPublishError() { amqpFailures.Inc() }
