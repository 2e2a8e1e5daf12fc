package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instancesRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "instances",
			Name:      "registered",
			Help:      "Number of instance handles currently held in the registry.",
		},
	)
	instanceEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "instances",
			Name:      "evictions_total",
			Help:      "Instance handles removed from the registry.",
		},
		[]string{"reason"}, // idle, removed, no_connection
	)
	staleSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "instances",
			Name:      "stale_sweeps_total",
			Help:      "Stale artifact sweep runs by backend and result.",
		},
		[]string{"backend", "result"},
	)
	statusChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "instances",
			Name:      "status_checks_total",
			Help:      "Readiness checks by result.",
		},
		[]string{"result"}, // ok, not_found, not_connected
	)
)
