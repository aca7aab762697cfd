package exec

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

var tracer = otel.Tracer("cnn-exec")

// Executor walks a graph in index order. It has a single owner.
type Executor struct {
	g   *graph.Graph
	b   device.Backend
	ctx context.Context

	fwd *tensor.Scratch
	bwd *tensor.Scratch

	fxs   []*tensor.Tensor
	marks []tensor.Mark
	dEdfs []*tensor.Tensor
	last  int
	// backed is the loss index of the last backward pass, -1 if none.
	backed int

	generation uint64
	revision   uint64
}

// New returns an engine evaluating g on b.
func New(g *graph.Graph, b device.Backend, cfg Config) *Executor {
	arena := cfg.Arena
	if arena == nil {
		arena = tensor.NewArena(0, 0)
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Executor{
		g:          g,
		b:          b,
		ctx:        ctx,
		fwd:        arena.NewScratch("forward"),
		bwd:        arena.NewScratch("backward"),
		last:       -1,
		backed:     -1,
		generation: g.Generation(),
		revision:   g.Revision(),
	}
}

func (e *Executor) Backend() device.Backend { return e.b }

func (e *Executor) LastNodeEvaluated() graph.VariableIndex { return graph.VariableIndex(e.last) }

func (e *Executor) Invalidate() {
	e.last = -1
	e.backed = -1
	clear(e.fxs)
	clear(e.dEdfs)
	e.fxs = e.fxs[:0]
	e.marks = e.marks[:0]
	e.dEdfs = e.dEdfs[:0]
	e.fwd.Free()
	e.bwd.Free()
	invalidations.WithLabelValues(e.b.Name()).Inc()
	log.Debug().Str("backend", e.b.Name()).Msg("engine invalidated")
}

// sync reconciles the caches with structural changes made to the graph
// since the last call.
func (e *Executor) sync() {
	if gen := e.g.Generation(); gen != e.generation {
		e.generation, e.revision = gen, e.g.Revision()
		e.Invalidate()
		return
	}
	if rev := e.g.Revision(); rev != e.revision {
		e.revision = rev
		e.backed = -1
		if floor := e.g.RevertFloor(); len(e.fxs) > floor {
			last := min(e.last, floor-1)
			e.rewind(floor - 1)
			e.last = last
		}
	}
}

// rewind drops cached values after node i and releases their storage.
func (e *Executor) rewind(i int) {
	if i+1 < len(e.marks) {
		e.fwd.Rewind(e.marks[i+1])
		clear(e.fxs[i+1:])
		e.fxs = e.fxs[:i+1]
		e.marks = e.marks[:i+1]
	}
	e.last = i
}

func (e *Executor) checkIndex(i graph.VariableIndex) {
	if i < 0 || int(i) >= e.g.Size() {
		panic(fmt.Errorf("%w: v%d, graph has %d nodes", graph.ErrBadIndex, i, e.g.Size()))
	}
}

func (e *Executor) Forward() *tensor.Tensor {
	return e.ForwardTo(graph.VariableIndex(e.g.Size() - 1))
}

func (e *Executor) ForwardTo(i graph.VariableIndex) *tensor.Tensor {
	return e.IncrementalForwardTo(i)
}

func (e *Executor) IncrementalForward() *tensor.Tensor {
	return e.IncrementalForwardTo(graph.VariableIndex(e.g.Size() - 1))
}

func (e *Executor) IncrementalForwardTo(i graph.VariableIndex) *tensor.Tensor {
	e.sync()
	e.checkIndex(i)
	if int(i) > e.last {
		e.evaluate(int(i))
	}
	return e.fxs[i]
}

func argNames(n *graph.Node) []string {
	names := make([]string, len(n.Args))
	for j, a := range n.Args {
		names[j] = "v" + strconv.Itoa(int(a))
	}
	return names
}

// precheck rejects the pass before any node runs if a pending node needs
// a functor the backend lacks.
func (e *Executor) precheck(from, to int) {
	for j := from; j <= to; j++ {
		n := e.g.Node(graph.VariableIndex(j))
		fu, ok := n.Op.(graph.FunctorUser)
		if !ok {
			continue
		}
		for _, k := range fu.Functors() {
			if !e.b.Supports(k) {
				unsupportedPasses.WithLabelValues(e.b.Name()).Inc()
				device.Check(e.b, k, n.Op.String(argNames(n)))
			}
		}
	}
}

func (e *Executor) evaluate(to int) {
	from := e.last + 1
	e.precheck(from, to)

	_, span := tracer.Start(e.ctx, "Forward", trace.WithAttributes(
		attribute.Int("from", from),
		attribute.Int("to", to),
		attribute.String("backend", e.b.Name()),
	))
	defer span.End()
	start := time.Now()

	e.rewind(e.last)
	e.backed = -1
	for j := from; j <= to; j++ {
		n := e.g.Node(graph.VariableIndex(j))
		xs := make([]*tensor.Tensor, len(n.Args))
		for k, a := range n.Args {
			xs[k] = e.fxs[a]
		}
		e.marks = append(e.marks, e.fwd.Mark())

		var fx *tensor.Tensor
		if al, ok := n.Op.(graph.ValueAliaser); ok {
			fx = al.AliasValue()
			if fx.Device != e.b.Device() {
				panic(fmt.Errorf("%w: v%d lives on %v, engine runs on %v", tensor.ErrDeviceMismatch, j, fx.Device, e.b.Device()))
			}
		} else {
			fx = e.fwd.Tensor(n.Dim, e.b.Device())
			n.Op.Forward(e.b, xs, fx)
		}
		e.fxs = append(e.fxs, fx)
		e.last = j
	}
	e.b.Synchronize()

	nodesEvaluated.WithLabelValues(e.b.Name()).Add(float64(to - from + 1))
	forwardDuration.WithLabelValues(e.b.Name()).Observe(time.Since(start).Seconds())
}

func (e *Executor) SetLastNodeEvaluated(i graph.VariableIndex) {
	e.sync()
	if i < -1 || int(i) >= e.g.Size() {
		panic(fmt.Errorf("%w: v%d, graph has %d nodes", graph.ErrBadIndex, i, e.g.Size()))
	}
	if int(i) >= len(e.fxs) {
		panic(fmt.Errorf("%w: v%d has no cached value to advance over", ErrNotEvaluated, i))
	}
	e.last = int(i)
	e.backed = -1
}

func (e *Executor) SetValue(t *tensor.Tensor, i graph.VariableIndex) {
	e.sync()
	e.checkIndex(i)
	if int(i) > e.last {
		e.evaluate(int(i))
	}
	e.rewind(int(i))
	fx := e.fxs[i]
	if _, aliased := e.g.Node(i).Op.(graph.ValueAliaser); aliased {
		// never write through to parameter storage
		fx = e.fwd.Tensor(fx.D, e.b.Device())
		e.fxs[i] = fx
	}
	tensor.CopyElements(fx, t)
	e.backed = -1
}

func (e *Executor) Value(i graph.VariableIndex) *tensor.Tensor {
	e.sync()
	if i < 0 || int(i) > e.last {
		panic(fmt.Errorf("%w: v%d, last evaluated is v%d", ErrNotEvaluated, i, e.last))
	}
	return e.fxs[i]
}

func (e *Executor) Error(i graph.VariableIndex) *tensor.Tensor {
	e.sync()
	if e.backed < 0 || i < 0 || int(i) > e.backed {
		panic(fmt.Errorf("%w: v%d", ErrNoBackward, i))
	}
	if d := e.dEdfs[i]; d != nil {
		return d
	}
	// not on a path to the loss: zero gradient
	d := e.bwd.Tensor(e.g.Node(i).Dim, e.b.Device())
	e.dEdfs[i] = d
	return d
}
