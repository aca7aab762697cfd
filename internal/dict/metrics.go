package dict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var unknownWords = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cnn_dict_unknown_words_total",
	Help: "Words looked up in a frozen dictionary without an id",
})
