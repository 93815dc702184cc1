package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zra_queue_active_jobs",
		Help: "Jobs currently holding a slot, by queue",
	}, []string{"queue"})

	pendingJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zra_queue_pending_jobs",
		Help: "Jobs waiting for a slot, by queue",
	}, []string{"queue"})

	admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zra_queue_admissions_total",
		Help: "Jobs admitted, by queue",
	}, []string{"queue"})

	withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zra_queue_withdrawals_total",
		Help: "Jobs withdrawn before admission, by queue",
	}, []string{"queue"})

	waitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zra_queue_wait_seconds",
		Help:    "Time jobs spent waiting for admission, by queue",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"queue"})
)

// queueMetrics holds the collectors of one queue with its label applied.
type queueMetrics struct {
	active    prometheus.Gauge
	pending   prometheus.Gauge
	admitted  prometheus.Counter
	withdrawn prometheus.Counter
	wait      prometheus.Observer
}

func newQueueMetrics(name string) queueMetrics {
	return queueMetrics{
		active:    activeJobs.WithLabelValues(name),
		pending:   pendingJobs.WithLabelValues(name),
		admitted:  admissions.WithLabelValues(name),
		withdrawn: withdrawals.WithLabelValues(name),
		wait:      waitSeconds.WithLabelValues(name),
	}
}
