package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipit_reconciler_transitions_total",
		Help: "Bet attempt state transitions by target state",
	}, []string{"state"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipit_reconciler_failures_total",
		Help: "Failed bet attempts by error kind",
	}, []string{"kind"})

	approvalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipit_reconciler_approvals_total",
		Help: "Token approvals sent by policy",
	}, []string{"policy"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipit_reconciler_outcomes_total",
		Help: "Terminal bet outcomes",
	}, []string{"mode", "state", "result"})

	subscriptionDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flipit_reconciler_subscription_drops_total",
		Help: "Event subscriptions lost while awaiting resolution",
	})
)
