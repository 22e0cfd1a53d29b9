package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rentalsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rentals_started_total",
		Help: "Rentals opened, including HiBike second rents",
	})

	rentalsReturned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rentals_returned_total",
		Help: "Rentals closed, by kind of return",
	}, []string{"kind"})

	hiBikeTransfers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hibike_transfers_total",
		Help: "HiBikes picked up by a second rider",
	})

	paymentsSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_settled_total",
		Help: "Payments reaching a settled state",
	}, []string{"status"})

	stampsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_stamps_issued_total",
		Help: "Loyalty stamps minted",
	})

	couponsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_coupons_issued_total",
		Help: "Coupons minted from stamps",
	})

	dispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "event_dispatch_failures_total",
		Help: "Post-commit side effects that failed, by sink",
	}, []string{"sink"})

	integrityViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_violations_total",
		Help: "Inconsistent data detected by lifecycle commands",
	}, []string{"code"})
)

// RegisterMetrics registers the domain collectors. Call once at startup.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		rentalsStarted,
		rentalsReturned,
		hiBikeTransfers,
		paymentsSettled,
		stampsIssued,
		couponsIssued,
		dispatchFailures,
		integrityViolations,
	)
}
