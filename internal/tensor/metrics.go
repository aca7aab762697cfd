package tensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	arenaChunkAllocs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnn_tensor_arena_chunk_allocs_total",
		Help: "Total number of chunks allocated because the free list was empty",
	})

	arenaChunkReuses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnn_tensor_arena_chunk_reuses_total",
		Help: "Total number of chunks served from the free list",
	})

	arenaResidentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cnn_tensor_arena_resident_bytes",
		Help: "Bytes held by all arenas, in use or pooled",
	})

	scratchFrees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnn_tensor_scratch_frees_total",
		Help: "Total number of scratch scopes released back to their arena",
	})
)
