package holdings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	heldGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gasline",
		Subsystem: "holdings",
		Name:      "held_transactions",
		Help:      "Number of transactions currently held pending balance",
	})

	releasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "holdings",
		Name:      "released_total",
		Help:      "Held transactions forwarded after balance became sufficient",
	})

	abandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "holdings",
		Name:      "abandoned_total",
		Help:      "Held transactions resolved with an error instead of forwarding",
	})

	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasline",
		Subsystem: "holdings",
		Name:      "balance_polls_total",
		Help:      "Balance polls performed for held transactions",
	})
)
