package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livegraph_commits_total",
		Help: "Transactions committed",
	})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livegraph_rejections_total",
		Help: "Transactions rejected, by error code",
	}, []string{"code"})

	cascadeDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livegraph_cascade_deletes_total",
		Help: "Entities deleted by cascade rather than by an explicit op",
	})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livegraph_commit_duration_seconds",
		Help:    "Time from Transact entry to publication of the commit",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)
