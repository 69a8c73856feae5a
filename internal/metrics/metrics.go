package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "micropay"

var (
	Handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_total",
		Help:      "Hello messages handled, by outcome.",
	}, []string{"outcome"})

	ProofsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proofs_accepted_total",
		Help:      "Payment proofs that became the best proof of their session.",
	})

	ProofsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proofs_rejected_total",
		Help:      "Payment proofs rejected, by reason.",
	}, []string{"reason"})

	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Finalize outcomes, by result.",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Payee sessions that have not been finalized.",
	})

	PaymentsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_sent_total",
		Help:      "Payer side payment attempts, by outcome.",
	}, []string{"outcome"})
)
