package exec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnn_exec_nodes_evaluated_total",
		Help: "Total number of node forward evaluations",
	}, []string{"backend"})

	backwardPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnn_exec_backward_passes_total",
		Help: "Total number of backward passes",
	}, []string{"backend"})

	invalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnn_exec_invalidations_total",
		Help: "Total number of cache invalidations",
	}, []string{"backend"})

	unsupportedPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnn_exec_unsupported_passes_total",
		Help: "Total number of forward passes rejected for an unsupported functor",
	}, []string{"backend"})

	forwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cnn_exec_forward_duration_seconds",
		Help:    "Time spent evaluating pending nodes",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"backend"})

	backwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cnn_exec_backward_duration_seconds",
		Help:    "Time spent in backward passes",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"backend"})
)
