package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livegraph_http_requests_total",
		Help: "HTTP requests served, by route and status class",
	}, []string{"route", "status"})

	websocketsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livegraph_websockets_active",
		Help: "Open subscription websockets",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livegraph_http_rate_limited_total",
		Help: "Write requests rejected by the per-caller rate limit",
	})
)
