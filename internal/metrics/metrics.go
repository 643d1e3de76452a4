// package metrics registers the prometheus collectors exported on /metrics
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sharelist"

var (
	tokenResolutions *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
)

func init() {
	tokenResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_resolutions_total",
		Help:      "Share token resolutions partitioned by outcome.",
	}, []string{"outcome"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Provider refresh grant attempts partitioned by result.",
	}, []string{"result"})

	providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_duration_milliseconds",
		Help:      "Time spent on Spotify calls partitioned by operation and result.",
		Buckets:   []float64{25, 50, 100, 300, 500, 1000, 5000},
	}, []string{"op", "result"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Number of HTTP requests partitioned by status code, method and route.",
	}, []string{"code", "method", "path"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_milliseconds",
		Help:      "Time spent on the request partitioned by status code, method and route.",
		Buckets:   []float64{50, 100, 300, 500, 1000, 5000},
	}, []string{"code", "method", "path"})

	prometheus.MustRegister(tokenResolutions, tokenRefreshes, providerLatency, httpRequests, httpLatency)
}

// ResolutionOutcome counts one finished token resolution.
func ResolutionOutcome(outcome string) {
	tokenResolutions.WithLabelValues(outcome).Inc()
}

// RefreshResult counts one refresh grant attempt.
func RefreshResult(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

// ObserveProvider records the latency of a provider call started at start.
func ObserveProvider(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var timeout interface{ Timeout() bool }
		if errors.As(err, &timeout) && timeout.Timeout() {
			result = "timeout"
		}
	}
	providerLatency.WithLabelValues(op, result).Observe(float64(time.Since(start).Milliseconds()))
}

// Handler counts requests and their latency by chi route pattern.
func Handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rp := rctx.RoutePattern()
			code := strconv.Itoa(ww.Status())
			httpRequests.WithLabelValues(code, r.Method, rp).Inc()
			httpLatency.WithLabelValues(code, r.Method, rp).Observe(float64(time.Since(start).Milliseconds()))
		}
	}
	return http.HandlerFunc(fn)
}
