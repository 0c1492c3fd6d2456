package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline actions recorded per request.
const (
	actionForward          = "forward"
	actionForwardUnchecked = "forward_unchecked"
	actionHold             = "hold"
	actionEstimate         = "estimate"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "RPC requests by method and pipeline action",
	}, []string{"method", "action"})

	spoofedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "proxy",
		Name:      "spoofed_responses_total",
		Help:      "Balance responses replaced with the placeholder value",
	})
)
