package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassblob_tasks_total",
			Help: "Total number of tasks that reached a terminal state",
		},
		[]string{"kind", "outcome"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassblob_queries_total",
			Help: "Total number of statements or batches issued by tasks",
		},
		[]string{"kind"},
	)

	QueryRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cassblob_query_restarts_total",
			Help: "Total number of statements reissued after a transient failure",
		},
		[]string{"kind"},
	)
)
