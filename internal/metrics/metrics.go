package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillswap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillswap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillswap_operations_total",
			Help: "Total number of request and chat operations",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillswap_operation_duration_seconds",
			Help:    "Duration of request and chat operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// WriteConflicts counts conditional writes rejected because the document changed underneath.
	WriteConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillswap_write_conflicts_total",
			Help: "Conditional writes that lost a version race and were retried",
		},
		[]string{"operation"},
	)

	// ActiveSubscriptions is the number of live channel subscriptions in this process.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillswap_channel_subscriptions",
			Help: "Live channel subscriptions",
		},
	)

	// MessagesSent counts chat messages committed by this process.
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_chat_messages_total",
			Help: "Chat messages appended to channels",
		},
	)

	// ReciprocalLinkFailures counts accepted requests whose sender-side friend link could not be written.
	ReciprocalLinkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_reciprocal_friend_link_failures_total",
			Help: "Sender-side friend links that failed after an accept",
		},
	)
)

// RecordOperation observes one service operation.
func RecordOperation(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and latency labelled by the mux route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m := httpsnoop.CaptureMetrics(next, w, r)

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(m.Code)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(m.Duration.Seconds())
	})
}
