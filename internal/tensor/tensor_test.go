package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-cnn/internal/device"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	_ = m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func requirePanicIs(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.True(t, errors.Is(err, target), "got %v", err)
	}()
	fn()
}

func TestDim(t *testing.T) {
	d := NewBatchDim([]int{3, 2}, 4)
	assert.Equal(t, 6, d.BatchSize())
	assert.Equal(t, 24, d.Size())
	assert.Equal(t, 3, d.Rows())
	assert.Equal(t, 2, d.Cols())
	assert.Equal(t, 5, d.SumDims())
	assert.Equal(t, "{3,2X4}", d.String())
	assert.Equal(t, "{3,2}", d.SingleBatch().String())

	assert.True(t, NewDim(3).Equal(Dim{D: []int{3}}), "zero batch reads as 1")
	assert.False(t, NewDim(3).Equal(NewDim(3, 1)))
	assert.False(t, NewDim(3).Equal(NewBatchDim([]int{3}, 2)))
	assert.Equal(t, 1, ScalarDim().Size())
	assert.Equal(t, 1, NewDim(4).Cols())
}

func TestTensor_ViewsAndBatches(t *testing.T) {
	buf := []float64{1, 2, 3, 4, 5, 6}
	v := View(NewBatchDim([]int{3}, 2), buf, device.Host)
	assert.False(t, v.Owned())

	b1 := v.Batch(1)
	assert.Equal(t, []float64{4, 5, 6}, b1.V)
	b1.V[0] = 40
	assert.Equal(t, 40.0, buf[3], "batch view aliases the parent")

	o := FromSlice(NewDim(2, 2), []float64{1, 2, 3, 4}, device.Host)
	assert.True(t, o.Owned())
	// column-major
	assert.Equal(t, 3.0, o.At(0, 1))
	o.Set(1, 0, 9)
	assert.Equal(t, 9.0, o.V[1])

	cp := o.Vec()
	cp[0] = 100
	assert.Equal(t, 1.0, o.V[0])

	requirePanicIs(t, ErrShapeMismatch, func() { View(NewDim(4), buf, device.Host) })
	requirePanicIs(t, ErrShapeMismatch, func() { o.Scalar() })
	assert.Equal(t, 7.0, FromSlice(ScalarDim(), []float64{7}, device.Host).Scalar())
}

func TestTools(t *testing.T) {
	a := New(NewDim(3), device.Host)
	b := FromSlice(NewDim(3), []float64{1, 2, 3}, device.Host)

	Constant(a, 2)
	assert.Equal(t, []float64{2, 2, 2}, a.V)

	Accumulate(a, b)
	assert.Equal(t, []float64{3, 4, 5}, a.V)

	Scale(a, 0.5)
	assert.Equal(t, []float64{1.5, 2, 2.5}, a.V)

	CopyElements(a, b)
	assert.Equal(t, b.V, a.V)

	SetElements(a, []float64{7, 8, 9})
	assert.Equal(t, 8.0, AccessElement(a, 1))

	Zero(a)
	assert.Equal(t, []float64{0, 0, 0}, a.V)

	t.Run("ShapeMismatch", func(t *testing.T) {
		c := New(NewDim(4), device.Host)
		requirePanicIs(t, ErrShapeMismatch, func() { Accumulate(a, c) })
		requirePanicIs(t, ErrShapeMismatch, func() { CopyElements(a, c) })
		requirePanicIs(t, ErrShapeMismatch, func() { SetElements(a, []float64{1}) })
	})

	t.Run("DeviceMismatch", func(t *testing.T) {
		c := New(NewDim(3), device.Accelerator(0))
		requirePanicIs(t, ErrDeviceMismatch, func() { Accumulate(a, c) })
	})
}

func TestRandomize(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := New(NewDim(4, 2), device.Host)
	Randomize(m, 1, rng)
	// SumDims is 6, so the Glorot bound is exactly 1
	bound := 1.0
	for _, v := range m.V {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}

	Randomize(m, 0.01, rng)
	for _, v := range m.V {
		assert.LessOrEqual(t, math.Abs(v), 0.01)
	}

	big := New(NewDim(10000), device.Host)
	RandomizeNormal(big, 3, 0.5, rng)
	var sum float64
	for _, v := range big.V {
		sum += v
	}
	assert.InDelta(t, 3.0, sum/float64(len(big.V)), 0.05)
}

func TestScratch_AllocateAlignedAndZeroed(t *testing.T) {
	a := NewArena(16, 0)
	s := a.NewScratch("fwd")

	x := s.Allocate(3)
	y := s.Allocate(5)
	require.Len(t, x, 3)
	require.Len(t, y, 5)
	for _, buf := range [][]float64{x, y} {
		addr := uintptr(unsafe.Pointer(&buf[0]))
		assert.Zero(t, addr%alignBytes, "allocation not aligned")
	}

	for i := range y {
		y[i] = 1
	}
	s.Free()
	assert.Equal(t, 0, s.Used())

	// the chunk comes back dirty from the pool; Allocate must zero it
	z := s.Allocate(8)
	for _, v := range z {
		assert.Zero(t, v)
	}
	assert.Empty(t, s.Allocate(0))
}

func TestArena_ReuseAndMetrics(t *testing.T) {
	allocs := getMetricValue(arenaChunkAllocs)
	reuses := getMetricValue(arenaChunkReuses)
	resident := getMetricValue(arenaResidentBytes)

	a := NewArena(8, 0)
	s1 := a.NewScratch("one")
	s1.Allocate(8)
	s1.Allocate(8)
	assert.Equal(t, 2, s1.Chunks())
	assert.Equal(t, 2.0, getMetricValue(arenaChunkAllocs)-allocs)
	assert.Equal(t, float64(2*8*elemBytes), getMetricValue(arenaResidentBytes)-resident)

	s1.Free()
	assert.Equal(t, 2, a.FreeChunks())

	s2 := a.NewScratch("two")
	s2.Allocate(5)
	assert.Equal(t, 1.0, getMetricValue(arenaChunkReuses)-reuses)
	assert.Equal(t, 1, a.FreeChunks())
	assert.Equal(t, int64(2*8*elemBytes), a.ResidentBytes())
}

func TestArena_Oversized(t *testing.T) {
	a := NewArena(8, 0)
	s := a.NewScratch("big")
	small := s.Allocate(2)
	big := s.Allocate(30)
	after := s.Allocate(2)
	require.Len(t, big, 30)
	assert.Equal(t, 2, len(small))
	// the current chunk keeps serving small requests
	assert.Equal(t, 2, s.Chunks())
	assert.Len(t, after, 2)

	s.Free()
	assert.Equal(t, 1, a.FreeChunks(), "oversized chunks are dropped on free")
	assert.Equal(t, int64(8*elemBytes), a.ResidentBytes())
}

func TestArena_Limit(t *testing.T) {
	a := NewArena(8, 8*elemBytes)
	s := a.NewScratch("limited")
	s.Allocate(8)
	requirePanicIs(t, ErrArenaExhausted, func() { s.Allocate(1) })

	// freed chunks are reusable without growing
	s.Free()
	assert.NotPanics(t, func() { s.Allocate(4) })
}

func TestScratch_Independent(t *testing.T) {
	a := NewArena(8, 0)
	s1 := a.NewScratch("a")
	s2 := a.NewScratch("b")
	x := s1.Allocate(4)
	y := s2.Allocate(4)
	for i := range y {
		y[i] = 5
	}
	s1.Free()
	s1.Allocate(4)
	assert.Equal(t, []float64{5, 5, 5, 5}, y, "freeing one scope leaves the other intact")
	_ = x
	assert.Equal(t, "b", s2.Name())
}

func BenchmarkScratchAllocate(b *testing.B) {
	a := NewArena(0, 0)
	s := a.NewScratch("bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Allocate(64)
		if i%512 == 511 {
			s.Free()
		}
	}
}

func TestScratch_MarkRewind(t *testing.T) {
	a := NewArena(8, 0)
	s := a.NewScratch("fwd")
	keep := s.Allocate(4)
	keep[0] = 42
	m := s.Mark()

	s.Allocate(4)
	s.Allocate(8)
	s.Allocate(20)
	assert.Equal(t, 3, s.Chunks())

	s.Rewind(m)
	assert.Equal(t, 1, s.Chunks())
	assert.Equal(t, 4, s.Used())
	assert.Equal(t, 1, a.FreeChunks(), "one regular chunk pooled, the oversized one dropped")

	again := s.Allocate(4)
	assert.Equal(t, 42.0, keep[0], "allocations before the mark survive")
	for _, v := range again {
		assert.Zero(t, v)
	}
	assert.Equal(t, 1, s.Chunks())
}

func TestScratch_OversizedFirst(t *testing.T) {
	a := NewArena(8, 0)
	s := a.NewScratch("big-first")
	big := s.Allocate(12)
	for i := range big {
		big[i] = 1
	}
	small := s.Allocate(2)
	small[0] = 9
	assert.Equal(t, 1.0, big[0], "small allocation must not overlap the dedicated chunk")
	assert.Equal(t, 2, s.Chunks())
}
