package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("zra.task")

var (
	// tasksCompleted counts nodes that reached completion by final state
	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zra_tasks_completed_total",
		Help: "Total task nodes marked as complete by state",
	}, []string{"state"})

	// mapItems counts items processed by Map by outcome
	mapItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zra_map_items_total",
		Help: "Total items processed by parallel maps by result",
	}, []string{"result"})
)
