package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Engine metrics.
var (
	consumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_credential_consume_total",
			Help: "Credential consumption attempts by outcome.",
		},
		[]string{"outcome"},
	)

	issuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_credentials_issued_total",
			Help: "Guest credentials issued by code type.",
		},
		[]string{"code_type"},
	)

	deliveryTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_delivery_transitions_total",
			Help: "Delivery state transitions by resulting status.",
		},
		[]string{"status"},
	)

	casConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_cas_conflicts_total",
			Help: "Optimistic concurrency conflicts observed by operation.",
		},
		[]string{"op"},
	)

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_events_dropped_total",
		Help: "Events dropped because the dispatch queue was full.",
	})

	eventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_events_delivered_total",
			Help: "Events handed to the notification sink by result.",
		},
		[]string{"result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatehouse_build_info",
			Help: "Always 1, labelled with the running build.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

var initOnce sync.Once

// Init registers every metric in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			consumeTotal, issuedTotal, deliveryTransitions, casConflicts,
			eventsDropped, eventsDelivered, buildInfo,
		)
	})
}

// InitBuildInfo publishes the running version. Only the latest labels are kept.
func InitBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveConsume(outcome string) { consumeTotal.WithLabelValues(outcome).Inc() }

func ObserveIssued(codeType string) { issuedTotal.WithLabelValues(codeType).Inc() }

func ObserveDeliveryTransition(status string) { deliveryTransitions.WithLabelValues(status).Inc() }

func ObserveConflict(op string) { casConflicts.WithLabelValues(op).Inc() }

func ObserveEventDropped() { eventsDropped.Inc() }

func ObserveEventDelivered(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	eventsDelivered.WithLabelValues(result).Inc()
}

// Instrument measures request count, latency and in-flight gauge. route
// resolves the low-cardinality path label after the handler ran; when nil
// or empty, CanonicalPath is used.
func Instrument(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := ""
		if route != nil {
			path = route(r)
		}
		if path == "" {
			path = CanonicalPath(r.URL.Path)
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

var collections = map[string]map[string]bool{
	"credentials": {"consume": true},
	"deliveries":  {},
}

// CanonicalPath collapses record identifiers so the path label stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		if fixed, ok := collections[parts[1]]; ok && !fixed[parts[2]] && len(parts) <= 4 {
			parts[2] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
