package model

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/tensor"
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

func backends() []device.Backend {
	return []device.Backend{device.NewCPUBackend(), device.NewBLASBackend()}
}

func vec(b device.Backend, vals ...float64) *tensor.Tensor {
	return tensor.FromSlice(tensor.NewDim(len(vals)), vals, b.Device())
}

func TestParameters_AccumulateOrderIndependent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.Name(), func(t *testing.T) {
			m := NewWithBackend(DefaultConfig(), b)
			p := m.AddParameters(tensor.NewDim(3), 0.1, "w")
			gs := []*tensor.Tensor{vec(b, 1, 2, 3), vec(b, 0.5, -1, 4), vec(b, -2, 0.25, 1)}

			orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {1, 0, 2}}
			var first []float64
			for _, order := range orders {
				p.Clear()
				for _, i := range order {
					p.AccumulateGrad(gs[i])
				}
				if first == nil {
					first = p.Grad.Vec()
					continue
				}
				assert.InDeltaSlice(t, first, p.Grad.V, 1e-12)
			}
			assert.InDeltaSlice(t, []float64{-0.5, 1.25, 8}, first, 1e-12)
		})
	}
}

func TestParameters_Operations(t *testing.T) {
	m := New(DefaultConfig())
	p := m.AddParameters(tensor.NewDim(2, 2), 0.5, "W")
	for _, v := range p.Values.V {
		assert.LessOrEqual(t, math.Abs(v), 0.5)
	}
	assert.Equal(t, 4, p.Size())

	tensor.SetElements(p.Values, []float64{1, -2, 3, 0})
	assert.Equal(t, 14.0, p.SquaredL2Norm())
	p.ScaleParameters(2)
	assert.Equal(t, []float64{2, -4, 6, 0}, p.Values.V)

	p.AccumulateGrad(tensor.FromSlice(tensor.NewDim(2, 2), []float64{1, 1, 1, 1}, device.Host))
	p.ScaleGradient(3)
	assert.Equal(t, 36.0, p.GradSquaredL2Norm())

	q := m.AddParameters(tensor.NewDim(2, 2), 0.5, "Q")
	q.Copy(p)
	assert.Equal(t, p.Values.V, q.Values.V)
	assert.Equal(t, "W", q.Name)
	assert.NotEqual(t, p.Grad.V, q.Grad.V, "copy leaves gradients alone")

	p.ResetToZero()
	assert.Equal(t, 0.0, p.SquaredL2Norm())
	p.Clear()
	assert.Equal(t, 0.0, p.GradSquaredL2Norm())

	r := m.AddParameters(tensor.NewDim(3), 0.5, "r")
	assert.Panics(t, func() { r.Copy(p) })
	assert.Panics(t, func() { r.AccumulateGrad(vec(device.NewCPUBackend(), 1, 2)) })
}

func TestParameters_GradSimpleClipping(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.Name(), func(t *testing.T) {
			m := NewWithBackend(DefaultConfig(), b)
			p := m.AddParameters(tensor.NewDim(4), 0.1, "w")
			p.AccumulateGrad(vec(b, 5, -5, 0.1, -0.2))

			// bound is 2/4
			p.GradSimpleClipping(2)
			assert.Equal(t, []float64{0.5, -0.5, 0.1, -0.2}, p.Grad.V)
			for _, g := range p.Grad.V {
				assert.LessOrEqual(t, math.Abs(g), 0.5)
			}
		})
	}
}

func TestLookupParameters_Accumulate(t *testing.T) {
	touched := getMetricValue(lookupRowsTouched)

	m := New(DefaultConfig())
	lp := m.AddLookupParameters(5, tensor.NewDim(2), 0.1, "E")
	assert.Equal(t, 10, lp.Size())

	lp.AccumulateGrad(1, vec(device.NewCPUBackend(), 1, 2))
	lp.AccumulateGrad(1, vec(device.NewCPUBackend(), 3, 4))
	lp.AccumulateGrad(3, vec(device.NewCPUBackend(), -1, 0))

	g1, ok := lp.Grad(1)
	require.True(t, ok)
	assert.Equal(t, []float64{4, 6}, g1.V)
	g3, ok := lp.Grad(3)
	require.True(t, ok)
	assert.Equal(t, []float64{-1, 0}, g3.V)
	_, ok = lp.Grad(0)
	assert.False(t, ok)
	assert.Equal(t, []int{1, 3}, lp.TouchedRows())
	assert.Equal(t, 2.0, getMetricValue(lookupRowsTouched)-touched)
	assert.Equal(t, 53.0, lp.GradSquaredL2Norm())

	lp.Clear()
	assert.Empty(t, lp.TouchedRows())
	assert.Equal(t, 0.0, lp.GradSquaredL2Norm())

	// fresh pass: reused scratch memory must come back zeroed
	lp.AccumulateGrad(1, vec(device.NewCPUBackend(), 0.5, 0.5))
	g1, _ = lp.Grad(1)
	assert.Equal(t, []float64{0.5, 0.5}, g1.V)

	assert.Panics(t, func() { lp.AccumulateGrad(5, vec(device.NewCPUBackend(), 1, 1)) })
}

func TestLookupParameters_TablesShareArenaIndependently(t *testing.T) {
	arena := tensor.NewArena(8, 0)
	cfg := DefaultConfig()
	cfg.Arena = arena
	m := New(cfg)
	a := m.AddLookupParameters(3, tensor.NewDim(2), 0.1, "a")
	b := m.AddLookupParameters(3, tensor.NewDim(2), 0.1, "b")

	b.AccumulateGrad(0, vec(device.NewCPUBackend(), 7, 7))
	a.AccumulateGrad(0, vec(device.NewCPUBackend(), 1, 1))
	a.Clear()
	a.AccumulateGrad(2, vec(device.NewCPUBackend(), 9, 9))

	gb, ok := b.Grad(0)
	require.True(t, ok)
	assert.Equal(t, []float64{7, 7}, gb.V, "clearing one table leaves the other intact")
}

func TestLookupParameters_InitializeCopy(t *testing.T) {
	m := New(DefaultConfig())
	lp := m.AddLookupParameters(4, tensor.NewDim(2), 0.1, "E")
	lp.Initialize(2, []float64{5, 6})
	assert.Equal(t, []float64{5, 6}, lp.Values[2].V)
	assert.Panics(t, func() { lp.Initialize(2, []float64{1}) })

	before := lp.Values[3].Vec()
	lp.CopyRows(map[int][]float64{0: {1, 1}, 1: {2, 2}, 3: {4, 4}})
	assert.Equal(t, []float64{1, 1}, lp.Values[0].V)
	assert.Equal(t, []float64{2, 2}, lp.Values[1].V)
	assert.Equal(t, []float64{5, 6}, lp.Values[2].V, "row 2 missing, copy stops")
	assert.Equal(t, before, lp.Values[3].V)

	other := m.AddLookupParameters(4, tensor.NewDim(2), 0.1, "F")
	other.Copy(lp)
	assert.Equal(t, "E", other.Name)
	for i := range lp.Values {
		assert.Equal(t, lp.Values[i].V, other.Values[i].V)
	}

	lp.ScaleParameters(0)
	assert.Equal(t, 0.0, lp.SquaredL2Norm())

	lp.AccumulateGrad(0, vec(device.NewCPUBackend(), 10, -10))
	lp.ScaleGradient(0.5)
	lp.GradSimpleClipping(4)
	g, _ := lp.Grad(0)
	assert.Equal(t, []float64{2, -2}, g.V)
}

func TestModel_GradientL2Norm(t *testing.T) {
	m := New(DefaultConfig())
	a := m.AddParameters(tensor.NewDim(3), 0.1, "a")
	b := m.AddParameters(tensor.NewDim(2, 2), 0.1, "b")
	a.AccumulateGrad(vec(device.NewCPUBackend(), 1, 2, 2))
	b.AccumulateGrad(tensor.FromSlice(tensor.NewDim(2, 2), []float64{1, 1, 1, 1}, device.Host))

	// 1+4+4 + 1+1+1+1
	assert.InDelta(t, math.Sqrt(13), m.GradientL2Norm(), 1e-12)

	lp := m.AddLookupParameters(2, tensor.NewDim(1), 0.1, "E")
	lp.AccumulateGrad(1, vec(device.NewCPUBackend(), 3))
	assert.InDelta(t, math.Sqrt(22), m.GradientL2Norm(), 1e-12)

	m.SimpleGradientClipping(0.3)
	for _, g := range a.Grad.V {
		assert.LessOrEqual(t, g, 0.1)
	}

	m.ResetGradient()
	assert.Equal(t, 0.0, m.GradientL2Norm())
	assert.Empty(t, lp.TouchedRows())
	assert.Len(t, m.All(), 3)
}

func TestModel_ProjectWeights(t *testing.T) {
	m := New(DefaultConfig())
	p := m.AddParameters(tensor.NewDim(2), 0.1, "p")
	tensor.SetElements(p.Values, []float64{3, 4})
	assert.InDelta(t, 5.0, m.ProjectWeights(), 1e-12)
}

func TestModel_SeedDeterministic(t *testing.T) {
	a := New(DefaultConfig()).AddParameters(tensor.NewDim(5), 1, "w")
	b := New(DefaultConfig()).AddParameters(tensor.NewDim(5), 1, "w")
	assert.Equal(t, a.Values.V, b.Values.V)
}

func TestModel_Close(t *testing.T) {
	dense := getMetricValue(parameterElements.WithLabelValues("dense"))
	m := New(DefaultConfig())
	p := m.AddParameters(tensor.NewDim(6), 0.1, "p")
	assert.Equal(t, 6.0, getMetricValue(parameterElements.WithLabelValues("dense"))-dense)
	m.Close()
	assert.Nil(t, p.Values)
	assert.Empty(t, m.All())
	assert.Equal(t, dense, getMetricValue(parameterElements.WithLabelValues("dense")))
}

func buildModel(seed int64) *Model {
	cfg := DefaultConfig()
	cfg.Seed = seed
	m := New(cfg)
	m.AddParameters(tensor.NewDim(3, 2), 1, "W")
	m.AddParameters(tensor.NewDim(3), 0.5, "b")
	m.AddLookupParameters(4, tensor.NewDim(2), 0.1, "E")
	return m
}

func TestModel_SaveLoadRoundTrip(t *testing.T) {
	saved := getMetricValue(persistOps.WithLabelValues("save", "ok"))
	src := buildModel(1)
	src.Parameters()[0].AccumulateGrad(tensor.New(tensor.NewDim(3, 2), device.Host))

	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))
	assert.Equal(t, 1.0, getMetricValue(persistOps.WithLabelValues("save", "ok"))-saved)

	dst := buildModel(2)
	require.NotEqual(t, src.Parameters()[0].Values.V, dst.Parameters()[0].Values.V)
	require.NoError(t, dst.Load(&buf))

	for i, p := range src.Parameters() {
		assert.Equal(t, p.Values.V, dst.Parameters()[i].Values.V)
		assert.Equal(t, p.Name, dst.Parameters()[i].Name)
	}
	for i, v := range src.LookupParameters()[0].Values {
		assert.Equal(t, v.V, dst.LookupParameters()[0].Values[i].V)
	}
}

func TestModel_SaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.cbor")
	src := buildModel(3)
	require.NoError(t, src.SaveFile(path))

	dst := buildModel(4)
	require.NoError(t, dst.LoadFile(path))
	assert.Equal(t, src.LookupParameters()[0].Values[3].V, dst.LookupParameters()[0].Values[3].V)

	err := dst.LoadFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestModel_LoadLayoutMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, buildModel(1).Save(&buf))

	other := New(DefaultConfig())
	other.AddParameters(tensor.NewDim(2, 3), 1, "W")
	other.AddParameters(tensor.NewDim(3), 0.5, "b")
	other.AddLookupParameters(4, tensor.NewDim(2), 0.1, "E")
	before := other.Parameters()[1].Values.Vec()

	err := other.Load(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLayoutMismatch))
	assert.Equal(t, before, other.Parameters()[1].Values.V, "failed load modifies nothing")

	short := New(DefaultConfig())
	short.AddParameters(tensor.NewDim(3, 2), 1, "W")
	err = short.Load(bytes.NewReader(buf.Bytes()))
	assert.True(t, errors.Is(err, ErrLayoutMismatch))

	err = short.Load(bytes.NewReader([]byte{0xff, 0x00}))
	require.Error(t, err)
}
