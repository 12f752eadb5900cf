package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var sentimentLabels = []string{"positive", "neutral", "negative", "unknown"}

// Metrics owns its prometheus registry. There are no package-level
// instruments; the one instance built at process start is passed to the
// synchronizer, the handlers, and the scrape endpoint.
type Metrics struct {
	registry *prometheus.Registry

	FeedbackSubmitted   prometheus.Counter
	FeedbackBySentiment *prometheus.CounterVec
	UserRatingsTotal    prometheus.Counter
	UserRatingsByScore  *prometheus.CounterVec

	UsersTotal         prometheus.Gauge
	ActiveUsers        prometheus.Gauge
	UsersOnline        prometheus.Gauge
	VerifiedUsers      prometheus.Gauge
	FeedbackTotal      prometheus.Gauge
	FeedbackSentiment  *prometheus.GaugeVec
	UserRatingsGauge   *prometheus.GaugeVec
	UserRatingsAverage prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FeedbackSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedback_submitted_total",
			Help: "Total feedback submissions",
		}),
		FeedbackBySentiment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedback_by_sentiment_total",
			Help: "Feedback count by sentiment",
		}, []string{"sentiment"}),
		UserRatingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "user_ratings_total",
			Help: "Total number of user ratings submitted",
		}),
		UserRatingsByScore: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "user_ratings_by_score_total",
			Help: "User ratings count by score (1-5)",
		}, []string{"score"}),

		UsersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "users_total",
			Help: "Total number of users in the system",
		}),
		// Legacy name for the registered-user count; dashboards read both
		// this and users_total.
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_users_total",
			Help: "Total number of registered users",
		}),
		UsersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "users_online",
			Help: "Number of currently online users",
		}),
		VerifiedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "verified_users_total",
			Help: "Total number of verified users",
		}),
		FeedbackTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedback_total",
			Help: "Total feedback count",
		}),
		FeedbackSentiment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedback_sentiment",
			Help: "Feedback count by sentiment",
		}, []string{"sentiment"}),
		UserRatingsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "user_ratings_gauge",
			Help: "User ratings count by score (gauge)",
		}, []string{"score"}),
		UserRatingsAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "user_ratings_average",
			Help: "Average user rating score",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FeedbackSubmitted,
		m.FeedbackBySentiment,
		m.UserRatingsTotal,
		m.UserRatingsByScore,
		m.UsersTotal,
		m.ActiveUsers,
		m.UsersOnline,
		m.VerifiedUsers,
		m.FeedbackTotal,
		m.FeedbackSentiment,
		m.UserRatingsGauge,
		m.UserRatingsAverage,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format from the owned registry. Scrapes
// are reads; concurrent scrapes are safe.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware tracks request counts and latency per route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}

		status := c.Response().StatusCode()
		m.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())

		return err
	}
}
