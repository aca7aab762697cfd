package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	parameterElements = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cnn_model_parameter_elements",
		Help: "Trainable elements held by live models",
	}, []string{"kind"})

	lookupRowsTouched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnn_model_lookup_rows_touched_total",
		Help: "Total number of lookup rows that received their first gradient",
	})

	persistOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnn_model_persist_ops_total",
		Help: "Total number of model save and load operations",
	}, []string{"op", "result"})
)
