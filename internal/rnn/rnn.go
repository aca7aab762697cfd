// Package rnn builds recurrent networks on a computation graph.
package rnn

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-cnn/internal/expr"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/model"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

var ErrState = errors.New("rnn: builder used out of order")

// Config describes a stack of depth-gated LSTM layers.
type Config struct {
	Layers    int
	InputDim  int
	HiddenDim int
	// Scale is the initialisation scale of every weight (1 = Glorot).
	Scale float64
	Name  string
}

// DefaultConfig returns a single layer with 8 hidden units.
func DefaultConfig() Config {
	return Config{Layers: 1, InputDim: 8, HiddenDim: 8, Scale: 1, Name: "rnn"}
}

// Parameter names within a layer. Wx* read the layer input, Wh* the
// previous hidden state and Wc* the previous cell (peepholes); the output
// gate peeks at the current cell.
var gateParams = []string{
	"Wxi", "Whi", "Wci", "bi",
	"Wxf", "Whf", "Wcf", "bf",
	"Wxc", "Whc", "bc",
	"Wxo", "Who", "Wco", "bo",
}

// The depth gate of layers above the first: wcd and wld are elementwise
// weights on the previous cell and the lower layer's current cell.
var depthParams = []string{"Wxd", "wcd", "wld", "bd"}

type layer struct {
	names  []string
	params []*model.Parameters
}

func paramDim(name string, in, hidden int) tensor.Dim {
	switch name[:2] {
	case "Wx":
		return tensor.NewDim(hidden, in)
	case "Wh", "Wc":
		return tensor.NewDim(hidden, hidden)
	}
	return tensor.NewDim(hidden)
}

// Builder adds depth-gated LSTM cells per layer and time step:
//
//	i = σ(Wxi x + Whi h' + Wci c' + bi)
//	f = σ(Wxf x + Whf h' + Wcf c' + bf)
//	d = σ(Wxd x + wcd ⊙ c' + wld ⊙ c_lower + bd)
//	c = f ⊙ c' + i ⊙ tanh(Wxc x + Whc h' + bc) + d ⊙ c_lower
//	o = σ(Wxo x + Who h' + Wco c + bo)
//	h = o ⊙ tanh(c)
//
// where h', c' are the layer's previous state and c_lower is the cell of
// the layer below at the same step. The first layer has no depth gate.
// The same parameters serve every step.
type Builder struct {
	cfg    Config
	layers []layer

	g    *graph.Graph
	vars []map[string]expr.Expression
	h0   []expr.Expression
	c0   []expr.Expression
	// h and c are indexed by time, then layer.
	h, c    [][]expr.Expression
	started bool
}

// New registers the builder's parameters in m.
func New(m *model.Model, cfg Config) *Builder {
	if cfg.Layers < 1 || cfg.InputDim < 1 || cfg.HiddenDim < 1 {
		panic(fmt.Sprintf("rnn: invalid config %+v", cfg))
	}
	b := &Builder{cfg: cfg}
	in := cfg.InputDim
	for l := 0; l < cfg.Layers; l++ {
		names := gateParams
		if l > 0 {
			names = append(append([]string(nil), gateParams...), depthParams...)
		}
		ly := layer{names: names}
		for _, n := range names {
			name := fmt.Sprintf("%s.l%d.%s", cfg.Name, l, n)
			ly.params = append(ly.params, m.AddParameters(paramDim(n, in, cfg.HiddenDim), cfg.Scale, name))
		}
		b.layers = append(b.layers, ly)
		in = cfg.HiddenDim
	}
	return b
}

// NumH0Components is the length of a full initial state: one cell and one
// hidden state per layer.
func (b *Builder) NumH0Components() int { return 2 * len(b.layers) }

// Copy overwrites the builder's parameter values with other's. Both must
// have the same layout.
func (b *Builder) Copy(other *Builder) {
	if len(b.layers) != len(other.layers) {
		panic(fmt.Errorf("%w: rnn copy of %d layers into %d", tensor.ErrShapeMismatch, len(other.layers), len(b.layers)))
	}
	for l, ly := range b.layers {
		for j, p := range ly.params {
			tensor.CopyElements(p.Values, other.layers[l].params[j].Values)
		}
	}
}

// NewGraph adds the parameter nodes to g. It must be called for every new
// graph before StartNewSequence.
func (b *Builder) NewGraph(g *graph.Graph) {
	b.g = g
	b.vars = b.vars[:0]
	for _, ly := range b.layers {
		v := make(map[string]expr.Expression, len(ly.names))
		for j, n := range ly.names {
			v[n] = expr.Parameter(g, ly.params[j])
		}
		b.vars = append(b.vars, v)
	}
	b.h, b.c = nil, nil
	b.h0, b.c0 = nil, nil
	b.started = false
}

// StartNewSequence resets the time axis. init is either empty (zero
// initial state) or holds NumH0Components expressions: the cells of every
// layer, then the hidden states.
func (b *Builder) StartNewSequence(init ...expr.Expression) {
	if b.g == nil {
		panic(fmt.Errorf("%w: StartNewSequence before NewGraph", ErrState))
	}
	if len(init) != 0 && len(init) != b.NumH0Components() {
		panic(fmt.Errorf("%w: %d initial states for %d layers", ErrState, len(init), len(b.layers)))
	}
	b.c0, b.h0 = nil, nil
	if len(init) > 0 {
		b.c0, b.h0 = init[:len(b.layers)], init[len(b.layers):]
	}
	b.h, b.c = b.h[:0], b.c[:0]
	b.started = true
	log.Debug().Str("rnn", b.cfg.Name).Int("layers", len(b.layers)).Msg("new sequence")
}

// prev returns layer l's state before step t, nil for a zero state.
func (b *Builder) prev(t, l int) (h, c *expr.Expression) {
	switch {
	case t > 0:
		return &b.h[t-1][l], &b.c[t-1][l]
	case len(b.h0) > 0:
		return &b.h0[l], &b.c0[l]
	}
	return nil, nil
}

// AddInput appends one time step and returns the top layer's output.
func (b *Builder) AddInput(x expr.Expression) expr.Expression {
	if !b.started {
		panic(fmt.Errorf("%w: AddInput before StartNewSequence", ErrState))
	}
	t := len(b.h)
	hs := make([]expr.Expression, len(b.layers))
	cs := make([]expr.Expression, len(b.layers))
	in := x
	var lower *expr.Expression
	for l := range b.layers {
		v := b.vars[l]
		hp, cp := b.prev(t, l)
		affine := func(gate string, peep *expr.Expression) expr.Expression {
			pairs := []expr.Expression{v["Wx"+gate], in}
			if hp != nil {
				pairs = append(pairs, v["Wh"+gate], *hp)
			}
			if peep != nil {
				pairs = append(pairs, v["Wc"+gate], *peep)
			}
			return expr.Affine(v["b"+gate], pairs...)
		}

		ig := expr.Logistic(affine("i", cp))
		terms := []expr.Expression{expr.CwiseMultiply(ig, expr.Tanh(affine("c", nil)))}
		if cp != nil {
			fg := expr.Logistic(affine("f", cp))
			terms = append(terms, expr.CwiseMultiply(fg, *cp))
		}
		if lower != nil {
			pre := []expr.Expression{v["bd"], expr.MatMul(v["Wxd"], in), expr.CwiseMultiply(v["wld"], *lower)}
			if cp != nil {
				pre = append(pre, expr.CwiseMultiply(v["wcd"], *cp))
			}
			dg := expr.Logistic(expr.Sum(pre...))
			terms = append(terms, expr.CwiseMultiply(dg, *lower))
		}
		cs[l] = expr.Sum(terms...)
		og := expr.Logistic(affine("o", &cs[l]))
		hs[l] = expr.CwiseMultiply(og, expr.Tanh(cs[l]))

		lower = &cs[l]
		in = hs[l]
	}
	b.h = append(b.h, hs)
	b.c = append(b.c, cs)
	return in
}

// RewindOneStep drops the most recent time step from the builder's
// state. Nodes already added to the graph stay.
func (b *Builder) RewindOneStep() {
	if len(b.h) == 0 {
		panic(fmt.Errorf("%w: rewind with no steps", ErrState))
	}
	b.h = b.h[:len(b.h)-1]
	b.c = b.c[:len(b.c)-1]
}

// Back returns the top layer's most recent output.
func (b *Builder) Back() expr.Expression {
	if len(b.h) == 0 {
		if len(b.h0) == 0 {
			panic(fmt.Errorf("%w: Back with no steps and no initial state", ErrState))
		}
		return b.h0[len(b.h0)-1]
	}
	return b.h[len(b.h)-1][len(b.layers)-1]
}

// FinalH returns the latest hidden state of every layer, or the initial
// one if no input was added.
func (b *Builder) FinalH() []expr.Expression {
	if len(b.h) == 0 {
		return b.h0
	}
	return b.h[len(b.h)-1]
}

// FinalS returns the full latest state in StartNewSequence order: the cells
// of every layer, then the hidden states. It is empty before the first
// input of a sequence without initial state.
func (b *Builder) FinalS() []expr.Expression {
	cells, hidden := b.c0, b.h0
	if len(b.h) > 0 {
		cells, hidden = b.c[len(b.c)-1], b.h[len(b.h)-1]
	}
	return append(append([]expr.Expression(nil), cells...), hidden...)
}

// Steps is the number of inputs added since StartNewSequence.
func (b *Builder) Steps() int { return len(b.h) }
