package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_reservations_total",
		Help: "Reserve attempts by result.",
	}, []string{"result"})

	reservationsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_reservations_released_total",
		Help: "Released holds by reason.",
	}, []string{"reason"})

	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_checkouts_total",
		Help: "Checkout attempts by result.",
	}, []string{"result"})

	checkoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pharmacy_checkout_duration_seconds",
		Help:    "Time spent committing a checkout.",
		Buckets: prometheus.DefBuckets,
	})

	stockAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_stock_adjustments_total",
		Help: "Committed ledger adjustments by kind.",
	}, []string{"kind"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pharmacy_reservation_sweep_duration_seconds",
		Help:    "Duration of one expiry sweep.",
		Buckets: prometheus.DefBuckets,
	})
)

// Result label values.
const (
	resultOK        = "ok"
	resultRejected  = "rejected"
	resultReplayed  = "replayed"
	resultFailed    = "failed"
)
