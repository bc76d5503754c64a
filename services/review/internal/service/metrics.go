package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_submissions_total",
		Help: "Review submissions by outcome.",
	}, []string{"outcome"})

	reaperDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_reaper_deleted_total",
		Help: "Expired ephemeral reviews purged from the store.",
	})
)
