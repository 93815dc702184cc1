package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("zra.workflow")

var runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zra_workflow_runs_total",
	Help: "Workflow runs finished, by workflow and resulting state",
}, []string{"workflow", "state"})
