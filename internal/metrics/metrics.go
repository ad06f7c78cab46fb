package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revflow_workflows_ingested_total",
		Help: "Workflow records created by the ingestion gateway.",
	})

	AgentInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revflow_agent_invocations_total",
		Help: "Agent invocation attempts by outcome.",
	}, []string{"outcome"}) // accepted | rejected

	WatchdogFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revflow_watchdog_fires_total",
		Help: "Watchdog timer fires by outcome.",
	}, []string{"outcome"}) // noop_terminal | resumed | exhausted

	StaleWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revflow_stale_writes_total",
		Help: "Conditional writes discarded because a concurrent actor advanced the record first.",
	})

	QueueDeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revflow_queue_dead_letters_total",
		Help: "Messages dropped after exceeding the queue delivery cap.",
	})
)
