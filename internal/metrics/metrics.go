// Package metrics provides Prometheus instrumentation for the storefront.
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

var (
	// CheckoutSessions counts checkout attempts by result
	// (created, invalid, sold, reserved, upstream_error).
	CheckoutSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkout_sessions_total",
		Help: "Checkout session requests by result",
	}, []string{"result"})

	// ProviderLatency tracks payment provider session creation latency.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_provider_latency_seconds",
		Help:    "Payment provider call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// WebhookEvents counts webhook deliveries by outcome
	// (recorded, duplicate, oversold, ignored, no_edition, storage_error).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_webhook_events_total",
		Help: "Webhook deliveries by outcome",
	}, []string{"outcome"})

	// SignatureFailures counts rejected webhook deliveries.
	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_webhook_signature_failures_total",
		Help: "Webhook deliveries rejected for an invalid signature",
	})

	// OversoldEditions counts paid orders for an edition that was already sold.
	OversoldEditions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_oversold_editions_total",
		Help: "Confirmed payments for an already sold edition",
	})

	// EditionsSold tracks the size of the sold set.
	EditionsSold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_editions_sold",
		Help: "Number of editions currently sold",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routeLabel(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routeLabel(r)).Observe(duration)
	})
}

// routeLabel prefers the matched chi pattern so unknown paths do not create
// new label values.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
