package livequery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livegraph_subscriptions_active",
		Help: "Open live-query subscriptions",
	})

	recomputesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livegraph_query_recomputes_total",
		Help: "Live-query recomputations triggered by a dependent commit",
	})

	emissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livegraph_query_emissions_total",
		Help: "Live-query results delivered, by kind",
	}, []string{"kind"})

	skippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livegraph_query_unchanged_total",
		Help: "Recomputations suppressed because the result did not change",
	})
)
