package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal - запросы к API по маршруту, статусу и роли пользователя
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_api_requests_total",
			Help: "Количество HTTP запросов к API бронирований",
		},
		[]string{"method", "route", "status", "role"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_api_request_duration_seconds",
			Help:    "Длительность HTTP запросов в секундах",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_api_requests_in_flight",
			Help: "Текущее количество запросов в обработке",
		},
	)
)

// PrometheusMiddleware собирает метрики HTTP запросов. Сам /metrics не учитывается
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		RequestsInFlight.Inc()
		defer RequestsInFlight.Dec()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		role := c.GetString("role")
		if role == "" {
			role = "anonymous"
		}

		RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), role).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
