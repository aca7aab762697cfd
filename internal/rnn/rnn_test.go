package rnn

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-cnn/internal/exec"
	"github.com/23skdu/longbow-cnn/internal/expr"
	"github.com/23skdu/longbow-cnn/internal/gradcheck"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/model"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

func requirePanicIs(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, target), "got %v", err)
	}()
	fn()
}

func matVec(p *model.Parameters, x []float64) []float64 {
	out := make([]float64, p.Dim.Rows())
	for r := range out {
		for c := range x {
			out[r] += p.Values.At(r, c) * x[c]
		}
	}
	return out
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func byName(m *model.Model) map[string]*model.Parameters {
	ps := make(map[string]*model.Parameters)
	for _, p := range m.Parameters() {
		ps[p.Name] = p
	}
	return ps
}

// manualStep computes one step of every layer on plain slices, updating
// h and c in place.
func manualStep(ps map[string]*model.Parameters, name string, x []float64, h, c [][]float64) {
	in := x
	var lower []float64
	for l := range h {
		p := func(n string) *model.Parameters { return ps[fmt.Sprintf("%s.l%d.%s", name, l, n)] }
		affine := func(gate string, peep []float64) []float64 {
			a := matVec(p("Wx"+gate), in)
			r := matVec(p("Wh"+gate), h[l])
			var pc []float64
			if peep != nil {
				pc = matVec(p("Wc"+gate), peep)
			}
			for k := range a {
				a[k] += r[k] + p("b"+gate).Values.V[k]
				if pc != nil {
					a[k] += pc[k]
				}
			}
			return a
		}
		ai, af, ac := affine("i", c[l]), affine("f", c[l]), affine("c", nil)
		next := make([]float64, len(ai))
		for k := range next {
			next[k] = sigmoid(af[k])*c[l][k] + sigmoid(ai[k])*math.Tanh(ac[k])
		}
		if lower != nil {
			ad := matVec(p("Wxd"), in)
			for k := range next {
				ad[k] += p("bd").Values.V[k] + p("wld").Values.V[k]*lower[k] + p("wcd").Values.V[k]*c[l][k]
				next[k] += sigmoid(ad[k]) * lower[k]
			}
		}
		ao := affine("o", next)
		out := make([]float64, len(next))
		for k := range out {
			out[k] = sigmoid(ao[k]) * math.Tanh(next[k])
		}
		c[l], h[l] = next, out
		lower, in = next, out
	}
}

func TestBuilder_MatchesManualRecurrence(t *testing.T) {
	m := model.New(model.DefaultConfig())
	cfg := Config{Layers: 2, InputDim: 2, HiddenDim: 3, Scale: 1, Name: "dg"}
	b := New(m, cfg)
	require.Len(t, m.Parameters(), len(gateParams)*2+len(depthParams))
	assert.Equal(t, "dg.l0.Wxi", m.Parameters()[0].Name)
	assert.Equal(t, 4, b.NumH0Components())

	h := [][]float64{{0.1, -0.2, 0.3}, {0, 0.5, -0.5}}
	c := [][]float64{{0.2, 0.2, -0.1}, {1, -1, 0.4}}

	g := graph.New()
	b.NewGraph(g)
	var init []expr.Expression
	for _, v := range append(append([][]float64(nil), c...), h...) {
		init = append(init, expr.Input(g, tensor.NewDim(3), v))
	}
	b.StartNewSequence(init...)
	inputs := [][]float64{{1, 0}, {0.5, -0.5}, {-1, 2}}
	for _, x := range inputs {
		b.AddInput(expr.Input(g, tensor.NewDim(2), x))
	}
	assert.Equal(t, 3, b.Steps())

	ps := byName(m)
	for _, x := range inputs {
		manualStep(ps, cfg.Name, x, h, c)
	}

	e := exec.NewSimple(g, exec.DefaultConfig())
	assert.InDeltaSlice(t, h[1], e.ForwardTo(b.Back().I).Vec(), 1e-12)

	s := b.FinalS()
	require.Len(t, s, 4)
	want := [][]float64{c[0], c[1], h[0], h[1]}
	for i, x := range s {
		assert.InDeltaSlice(t, want[i], e.ForwardTo(x.I).Vec(), 1e-12, "state component %d", i)
	}
}

func TestBuilder_GradientsAcrossSteps(t *testing.T) {
	for _, withInit := range []bool{false, true} {
		t.Run(fmt.Sprintf("init=%v", withInit), func(t *testing.T) {
			m := model.New(model.DefaultConfig())
			E := m.AddLookupParameters(5, tensor.NewDim(3), 1, "E")
			b := New(m, Config{Layers: 2, InputDim: 3, HiddenDim: 4, Scale: 1, Name: "rnn"})
			out := m.AddParameters(tensor.NewDim(5, 4), 1, "out")

			g := graph.New()
			b.NewGraph(g)
			var init []expr.Expression
			if withInit {
				for i := 0; i < b.NumH0Components(); i++ {
					init = append(init, expr.Input(g, tensor.NewDim(4), []float64{0.1, -0.2, 0.3, float64(i) / 10}))
				}
			}
			b.StartNewSequence(init...)
			var losses []expr.Expression
			sent := []int{1, 3, 2, 4}
			for i := 0; i+1 < len(sent); i++ {
				y := b.AddInput(expr.Lookup(g, E, sent[i]))
				losses = append(losses, expr.PickNegLogSoftmax(expr.MatMul(expr.Parameter(g, out), y), sent[i+1]))
			}
			expr.Sum(losses...)

			rep := gradcheck.Check(m, exec.NewSimple(g, exec.DefaultConfig()), gradcheck.DefaultConfig())
			assert.True(t, rep.OK(), "%+v", rep.Mismatches)
			assert.Equal(t, []int{1, 2, 3}, E.TouchedRows())

			ps := byName(m)
			for _, n := range []string{"rnn.l0.Whi", "rnn.l0.Wcf", "rnn.l1.wld", "rnn.l1.wcd", "rnn.l1.Wco"} {
				assert.NotZero(t, ps[n].GradSquaredL2Norm(), "%s gets gradient", n)
			}
		})
	}
}

func TestBuilder_InitialState(t *testing.T) {
	m := model.New(model.DefaultConfig())
	b := New(m, Config{Layers: 2, InputDim: 2, HiddenDim: 2, Scale: 1, Name: "rnn"})

	g := graph.New()
	b.NewGraph(g)
	var init []expr.Expression
	for i := 0; i < b.NumH0Components(); i++ {
		init = append(init, expr.Input(g, tensor.NewDim(2), []float64{0.1 * float64(i), 0.2}))
	}
	b.StartNewSequence(init...)
	assert.Equal(t, init[2:], b.FinalH())
	assert.Equal(t, init, b.FinalS())
	assert.Equal(t, init[3], b.Back())

	y := b.AddInput(expr.Input(g, tensor.NewDim(2), []float64{1, 1}))
	assert.Equal(t, y, b.Back())
	require.Len(t, b.FinalH(), 2)
	assert.Equal(t, y, b.FinalH()[1])
	require.Len(t, b.FinalS(), 4)
	assert.Equal(t, y, b.FinalS()[3])

	b.RewindOneStep()
	assert.Equal(t, init[2:], b.FinalH())
	assert.Equal(t, init, b.FinalS())

	requirePanicIs(t, ErrState, func() { b.StartNewSequence(init[:2]...) })
}

func TestBuilder_Copy(t *testing.T) {
	m := model.New(model.DefaultConfig())
	cfg := Config{Layers: 2, InputDim: 2, HiddenDim: 3, Scale: 1, Name: "a"}
	a := New(m, cfg)
	cfg.Name = "b"
	b := New(m, cfg)

	run := func(r *Builder) []float64 {
		g := graph.New()
		r.NewGraph(g)
		r.StartNewSequence()
		r.AddInput(expr.Input(g, tensor.NewDim(2), []float64{1, -1}))
		r.AddInput(expr.Input(g, tensor.NewDim(2), []float64{0.5, 2}))
		return exec.NewSimple(g, exec.DefaultConfig()).Forward().Vec()
	}
	require.NotEqual(t, run(a), run(b))

	b.Copy(a)
	assert.Equal(t, run(a), run(b))
	assert.Equal(t, "b.l0.Wxi", b.layers[0].params[0].Name, "names are kept")

	requirePanicIs(t, tensor.ErrShapeMismatch, func() {
		b.Copy(New(m, Config{Layers: 1, InputDim: 2, HiddenDim: 3, Scale: 1, Name: "c"}))
	})
	requirePanicIs(t, tensor.ErrShapeMismatch, func() {
		b.Copy(New(m, Config{Layers: 2, InputDim: 2, HiddenDim: 4, Scale: 1, Name: "d"}))
	})
}

func TestBuilder_Misuse(t *testing.T) {
	m := model.New(model.DefaultConfig())
	b := New(m, DefaultConfig())
	requirePanicIs(t, ErrState, func() { b.StartNewSequence() })

	g := graph.New()
	b.NewGraph(g)
	requirePanicIs(t, ErrState, func() { b.AddInput(expr.Input(g, tensor.NewDim(8), make([]float64, 8))) })
	b.StartNewSequence()
	requirePanicIs(t, ErrState, func() { b.Back() })
	requirePanicIs(t, ErrState, b.RewindOneStep)
	assert.Empty(t, b.FinalH())
	assert.Empty(t, b.FinalS())
	assert.Panics(t, func() { New(m, Config{}) })
}

func TestBuilder_ReusedAcrossGraphs(t *testing.T) {
	m := model.New(model.DefaultConfig())
	b := New(m, Config{Layers: 1, InputDim: 2, HiddenDim: 2, Scale: 1, Name: "rnn"})

	var vals [][]float64
	for i := 0; i < 2; i++ {
		g := graph.New()
		b.NewGraph(g)
		b.StartNewSequence()
		b.AddInput(expr.Input(g, tensor.NewDim(2), []float64{1, -1}))
		vals = append(vals, exec.NewSimple(g, exec.DefaultConfig()).Forward().Vec())
	}
	assert.Equal(t, vals[0], vals[1])
	assert.Len(t, m.Parameters(), len(gateParams))
}
