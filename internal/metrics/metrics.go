package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lock and state-machine activity, exported for the surrounding service's
// /metrics endpoint to scrape.
var (
	LockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_lock_acquisitions_total",
		Help: "Lease lock acquisition attempts",
	}, []string{"result"})

	LockWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_lock_wait_seconds",
		Help:    "Time spent waiting for a lease",
		Buckets: []float64{0.005, 0.05, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"result"})

	LockExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_lock_expiries_total",
		Help: "Leases found expired at renew or release",
	})

	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_state_transitions_total",
		Help: "Transaction record compare-and-set outcomes",
	}, []string{"from", "to", "result"})

	LedgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entry_writes_total",
		Help: "Ledger entries written, by transaction code",
	}, []string{"code"})
)
