package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "deliveries_total",
			Help:      "Scheduled message delivery attempts by outcome.",
		},
		[]string{"outcome"}, // success, failed, unacknowledged, skipped, error
	)
	deliveryDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of a scheduled message delivery, including the send call.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	scheduleRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "schedule_requests_total",
			Help:      "Schedule, reschedule and cancel requests by result.",
		},
		[]string{"result"},
	)
	armedTimersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "armed_timers",
			Help:      "Delivery timers currently armed in this process.",
		},
	)
)
