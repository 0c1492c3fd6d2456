package funding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gasline",
	Subsystem: "funding",
	Name:      "requests_total",
	Help:      "Total number of funding dispatch attempts by mode and outcome",
}, []string{"mode", "outcome"})
