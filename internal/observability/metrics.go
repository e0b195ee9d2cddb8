package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce            sync.Once
	httpRequestsTotal       *prometheus.CounterVec
	httpLatencySeconds      *prometheus.HistogramVec
	httpErrorsTotal         *prometheus.CounterVec
	checkInsTotal           *prometheus.CounterVec
	interventionTransitions *prometheus.CounterVec
	mentorNotifications     *prometheus.CounterVec
	statusStreamClients     prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		checkInsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkins_total",
			Help: "Check-ins processed, labelled by verdict and submission type.",
		}, []string{"verdict", "submission"})

		interventionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intervention_transitions_total",
			Help: "Intervention lifecycle transitions.",
		}, []string{"transition"})

		mentorNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_notifications_total",
			Help: "Mentor alert deliveries, labelled by result.",
		}, []string{"result"})

		statusStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "status_stream_clients",
			Help: "Number of websocket clients subscribed to student status changes.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			checkInsTotal,
			interventionTransitions,
			mentorNotifications,
			statusStreamClients,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// CheckIns exposes the check-in counter.
func CheckIns() *prometheus.CounterVec {
	RegisterMetrics()
	return checkInsTotal
}

// InterventionTransitions exposes the lifecycle transition counter.
func InterventionTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return interventionTransitions
}

// MentorNotifications exposes the mentor alert delivery counter.
func MentorNotifications() *prometheus.CounterVec {
	RegisterMetrics()
	return mentorNotifications
}

// StatusStreamClients exposes the gauge of connected status stream clients.
func StatusStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return statusStreamClients
}

// MetricsHandler exposes the Prometheus scrape endpoint via Fiber.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}
