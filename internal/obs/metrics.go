package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by source and outcome.",
		},
		[]string{"source", "allowed"},
	)

	loginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	permCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_permission_cache_lookups_total",
			Help: "Permission cache lookups by result.",
		},
		[]string{"result"},
	)

	tokenRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_rotations_total",
			Help: "Refresh token rotations by outcome.",
		},
		[]string{"outcome"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than
// once; later calls are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, loginOutcomes, permCacheLookups, tokenRotations,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthorizationDecision records one decision of the hybrid engine.
func AuthorizationDecision(source string, allowed bool) {
	authzDecisions.WithLabelValues(source, strconv.FormatBool(allowed)).Inc()
}

// LoginOutcome records one authentication attempt result
// (success, invalid_credentials, locked, inactive).
func LoginOutcome(outcome string) {
	loginOutcomes.WithLabelValues(outcome).Inc()
}

// PermissionCacheHit counts a served cache lookup.
func PermissionCacheHit() { permCacheLookups.WithLabelValues("hit").Inc() }

// PermissionCacheMiss counts a lookup that fell through to the store.
func PermissionCacheMiss() { permCacheLookups.WithLabelValues("miss").Inc() }

// TokenRotation records one refresh rotation outcome (success, rejected).
func TokenRotation(outcome string) {
	tokenRotations.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with in-flight, count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// idCollections are the REST collections whose third path segment is an
// entity identifier.
var idCollections = map[string]bool{
	"principals": true,
	"roles":      true,
	"policies":   true,
	"sessions":   true,
}

// idSubresources are the per-entity subpaths kept after collapsing ids.
var idSubresources = map[string]bool{
	"roles":         true,
	"permissions":   true,
	"relationships": true,
}

// CanonicalPath collapses entity ids so HTTP metrics stay low-cardinality:
// /v1/principals/abc -> /v1/principals/:id.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && idCollections[parts[1]] {
		switch {
		case len(parts) == 3:
			return "/v1/" + parts[1] + "/:id"
		case len(parts) == 4 && idSubresources[parts[3]]:
			return "/v1/" + parts[1] + "/:id/" + parts[3]
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
