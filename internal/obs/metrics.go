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

// HTTP metrics for the ops endpoints.
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "access_ready",
		Help: "1 when the last readiness check passed.",
	})
)

// Access metrics.
var (
	privilegeGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_privilege_grants_total",
			Help: "Privilege grant attempts by outcome (granted, deferred, skipped, failed).",
		},
		[]string{"privilege", "outcome"},
	)

	grantDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_grant_duration_seconds",
			Help:    "Time spent in grant actions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"privilege"},
	)

	slackInvites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_slack_invites_total",
			Help: "Slack invitations by outcome (ok, test_mode, error).",
		},
		[]string{"outcome"},
	)

	aliasSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_email_aliases_saved_total",
			Help: "Email alias writes by outcome (saved, conflict, failed).",
		},
		[]string{"outcome"},
	)

	queueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_queue_jobs_total",
			Help: "Deferred grant jobs by outcome (enqueued, done, dropped, failed).",
		},
		[]string{"outcome"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			privilegeGrants, grantDuration, slackInvites, aliasSaves, queueJobs,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveGrant(privilege, outcome string) {
	privilegeGrants.WithLabelValues(privilege, outcome).Inc()
}

// GrantCounter exposes the grant outcome counter for one label pair.
func GrantCounter(privilege, outcome string) prometheus.Counter {
	return privilegeGrants.WithLabelValues(privilege, outcome)
}

func ObserveGrantDuration(privilege string, d time.Duration) {
	grantDuration.WithLabelValues(privilege).Observe(d.Seconds())
}

func ObserveSlackInvite(outcome string) { slackInvites.WithLabelValues(outcome).Inc() }

func ObserveAliasSave(outcome string) { aliasSaves.WithLabelValues(outcome).Inc() }

func ObserveQueueJob(outcome string) { queueJobs.WithLabelValues(outcome).Inc() }

// SetReady records the result of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch path {
	case "", "/":
		return "/"
	case "/healthz", "/readyz", "/metrics", "/v1/info":
		return path
	}
	return "other"
}

// Instrument wraps next with request count, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
