// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notez"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "route", "status"},
	)
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "logins_total", Help: "Login attempts by outcome"},
		[]string{"outcome"},
	)
	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "registrations_total", Help: "Registration attempts by outcome"},
		[]string{"outcome"},
	)
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"},
	)
	RemindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reminders_total", Help: "To-do reminder emails by outcome"},
		[]string{"outcome"},
	)
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "backups_total", Help: "Backup runs by outcome"},
		[]string{"outcome"},
	)
	PurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trash_purged_total", Help: "Soft-deleted rows permanently removed"},
		[]string{"entity"},
	)
	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "websocket_clients", Help: "Connected websocket clients"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, LoginsTotal, RegistrationsTotal,
		RateLimitedTotal, RemindersTotal, BackupsTotal, PurgedTotal, WebsocketClients,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
