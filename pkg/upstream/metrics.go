package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "upstream",
		Name:      "calls_total",
		Help:      "Total number of upstream call attempts by method and outcome",
	}, []string{"method", "outcome"})

	endpointUnhealthyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "upstream",
		Name:      "endpoint_unhealthy_total",
		Help:      "Total number of times an endpoint was marked unhealthy",
	}, []string{"url"})

	exhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "upstream",
		Name:      "exhausted_total",
		Help:      "Total number of calls that exhausted every endpoint",
	})
)
