package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roadtemplates",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadtemplates",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadtemplates",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadtemplates",
			Subsystem: "render",
			Name:      "renders_total",
			Help:      "Total number of template renders.",
		},
		[]string{"format", "status"},
	)

	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadtemplates",
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Duration of template renders.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~2s
		},
		[]string{"format"},
	)

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roadtemplates",
			Subsystem: "render",
			Name:      "cache_hits_total",
			Help:      "Rendered output served from the cache.",
		},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roadtemplates",
			Subsystem: "render",
			Name:      "cache_misses_total",
			Help:      "Renders that missed the cache.",
		},
	)

	templateSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadtemplates",
			Subsystem: "templates",
			Name:      "saves_total",
			Help:      "Total number of template registrations and updates.",
		},
		[]string{"type"},
	)

	templateDeletes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roadtemplates",
			Subsystem: "templates",
			Name:      "deletes_total",
			Help:      "Total number of template deletions.",
		},
	)

	scriptFilterExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roadtemplates",
			Subsystem: "filters",
			Name:      "script_executions_total",
			Help:      "Total number of script filter evaluations.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		renders,
		renderDuration,
		cacheHits,
		cacheMisses,
		templateSaves,
		templateDeletes,
		scriptFilterExecutions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRender records one template render.
func RecordRender(format, status string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	renders.WithLabelValues(format, status).Inc()
	renderDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordCacheHit counts a render served from the cache.
func RecordCacheHit() { cacheHits.Inc() }

// RecordCacheMiss counts a render that had to be computed.
func RecordCacheMiss() { cacheMisses.Inc() }

// RecordTemplateSave counts a template registration or update.
func RecordTemplateSave(templateType string) {
	if templateType == "" {
		templateType = "unknown"
	}
	templateSaves.WithLabelValues(templateType).Inc()
}

// RecordTemplateDelete counts a template deletion.
func RecordTemplateDelete() { templateDeletes.Inc() }

// RecordScriptFilterExecution counts one script filter evaluation.
func RecordScriptFilterExecution(status string) {
	scriptFilterExecutions.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/v1"
	}
	resource := parts[1]
	if len(parts) == 2 {
		return "/v1/" + resource
	}
	if len(parts) == 3 {
		return "/v1/" + resource + "/:id"
	}
	return "/v1/" + resource + "/:id/" + parts[3]
}
