package gradcheck

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	elementsChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnn_gradcheck_elements_checked_total",
		Help: "Parameter elements compared against finite differences",
	})
	mismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnn_gradcheck_mismatches_total",
		Help: "Parameter elements whose analytic and numeric gradients disagree",
	})
)
