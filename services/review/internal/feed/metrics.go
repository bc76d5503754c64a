package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_feed_merges_total",
			Help: "Reviews offered to the reconciler, by origin and result",
		},
		[]string{"origin", "result"},
	)

	streamDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_feed_stream_drops_total",
			Help: "Change-feed stream drops followed by a resubscription",
		},
	)

	trackedContents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_feed_tracked_contents",
			Help: "Content items with reconciled state in memory",
		},
	)
)
