package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codecollab"

var (
	joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "joins_total",
		Help:      "Document join attempts by result",
	}, []string{"result"})

	broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_messages_total",
		Help:      "Messages delivered to room members by event",
	}, []string{"event"})

	droppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_sends_total",
		Help:      "Sends dropped because the recipient connection was gone",
	})

	persists = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_total",
		Help:      "Background content writes by result",
	}, []string{"result"})

	persistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "persist_duration_seconds",
		Help:      "Duration of background content writes",
		Buckets:   prometheus.DefBuckets,
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Rooms with at least one member",
	})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Attached realtime connections",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func ObserveJoin(err error) {
	if err != nil {
		joins.WithLabelValues("error").Inc()
		return
	}
	joins.WithLabelValues("ok").Inc()
}

func ObserveBroadcast(event string, delivered int) {
	broadcasts.WithLabelValues(event).Add(float64(delivered))
}

func ObserveDroppedSend() { droppedSends.Inc() }

func ObservePersist(err error, elapsed time.Duration) {
	persistLatency.Observe(elapsed.Seconds())
	if err != nil {
		persists.WithLabelValues("error").Inc()
		return
	}
	persists.WithLabelValues("ok").Inc()
}

func SetActiveRooms(n int) { activeRooms.Set(float64(n)) }

func SetConnections(n int) { connections.Set(float64(n)) }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is needed by the websocket upgrade of the socket.io transport.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request count and latency. The route label uses the
// chi route pattern when available to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
