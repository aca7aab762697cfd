package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	parallelChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnn_device_parallel_chunks_total",
		Help: "Total number of chunks dispatched by the vectorized backend",
	})

	kernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cnn_device_parallel_kernel_duration_seconds",
		Help:    "Time spent in chunked elementwise kernels",
		Buckets: []float64{0.00001, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	}, []string{"backend"})
)
