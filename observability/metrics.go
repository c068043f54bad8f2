package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type runtimeMetrics struct {
	calls      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	verdicts   *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	runtimeMetricsOnce sync.Once
	runtimeRegistry    *runtimeMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Runtime returns the lazily-initialised metrics registry for runtime calls.
func Runtime() *runtimeMetrics {
	runtimeMetricsOnce.Do(func() {
		runtimeRegistry = &runtimeMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dataspace",
				Subsystem: "runtime",
				Name:      "calls_total",
				Help:      "Total runtime calls segmented by call and outcome.",
			}, []string{"call", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dataspace",
				Subsystem: "runtime",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for runtime calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"call"}),
			verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dataspace",
				Subsystem: "escrow",
				Name:      "tipoff_verdicts_total",
				Help:      "Tip-offs segmented by verdict.",
			}, []string{"verdict"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dataspace",
				Subsystem: "runtime",
				Name:      "rejections_total",
				Help:      "Calls refused before execution segmented by module and reason.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			runtimeRegistry.calls,
			runtimeRegistry.latency,
			runtimeRegistry.verdicts,
			runtimeRegistry.rejections,
		)
	})
	return runtimeRegistry
}

// Observe records a finished runtime call.
func (m *runtimeMetrics) Observe(call string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if call == "" {
		call = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(call, outcome).Inc()
	m.latency.WithLabelValues(call).Observe(duration.Seconds())
}

// RecordVerdict counts a committed tip-off.
func (m *runtimeMetrics) RecordVerdict(legitimate bool) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(fmt.Sprintf("%t", legitimate)).Inc()
}

// RecordRejection increments the rejection counter. Reasons should be stable
// strings such as "paused" or "quota_exceeded".
func (m *runtimeMetrics) RecordRejection(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(module, reason).Inc()
}

// HTTP returns the metrics registry for the REST surface.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dataspace",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dataspace",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dataspace",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dataspace",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	method = strings.ToUpper(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
