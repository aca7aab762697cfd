package exec

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Backward seeds dE/dloss = 1 at the last evaluated node and scans the
// graph in decreasing index order. Every successor of a node has a larger
// index, so a node's gradient is complete when the scan reaches it.
func (e *Executor) Backward() {
	e.sync()
	if e.last < 0 {
		panic(fmt.Errorf("%w: backward before forward", ErrNotEvaluated))
	}
	loss := e.last
	_, span := tracer.Start(e.ctx, "Backward", trace.WithAttributes(
		attribute.Int("loss", loss),
		attribute.String("backend", e.b.Name()),
	))
	defer span.End()
	start := time.Now()

	nodes := e.g.Nodes()[:loss+1]

	// needsGrad: the node depends on a parameter or lookup.
	needsGrad := make([]bool, len(nodes))
	for j, n := range nodes {
		switch n.Op.Kind() {
		case graph.KindParameter, graph.KindLookup:
			needsGrad[j] = true
		default:
			for _, a := range n.Args {
				if needsGrad[a] {
					needsGrad[j] = true
					break
				}
			}
		}
	}
	// reachable: the loss depends on the node.
	reachable := make([]bool, len(nodes))
	reachable[loss] = true
	for j := loss; j >= 0; j-- {
		if !reachable[j] {
			continue
		}
		for _, a := range nodes[j].Args {
			reachable[a] = true
		}
	}

	e.bwd.Free()
	clear(e.dEdfs)
	if cap(e.dEdfs) < len(nodes) {
		e.dEdfs = make([]*tensor.Tensor, len(nodes))
	}
	e.dEdfs = e.dEdfs[:len(nodes)]
	for j, n := range nodes {
		if reachable[j] && needsGrad[j] {
			e.dEdfs[j] = e.bwd.Tensor(n.Dim, e.b.Device())
		}
	}
	// a loss that depends on no parameter still reports its seed
	if e.dEdfs[loss] == nil {
		e.dEdfs[loss] = e.bwd.Tensor(nodes[loss].Dim, e.b.Device())
	}
	tensor.Constant(e.dEdfs[loss], 1)

	visited := 0
	for j := loss; j >= 0; j-- {
		if !reachable[j] || !needsGrad[j] {
			continue
		}
		n := nodes[j]
		dEdf := e.dEdfs[j]
		visited++
		switch k := n.Op.Kind(); k {
		case graph.KindInput:
		case graph.KindParameter:
			p, ok := n.Op.(graph.ParameterOp)
			if !ok {
				panic(fmt.Sprintf("exec: v%d is a parameter node without a gradient sink", j))
			}
			p.Sink().AccumulateGrad(dEdf)
		case graph.KindLookup:
			l, ok := n.Op.(graph.LookupOp)
			if !ok {
				panic(fmt.Sprintf("exec: v%d is a lookup node without a row sink", j))
			}
			sink := l.RowSink()
			for b, row := range l.Rows() {
				sink.AccumulateGrad(row, dEdf.Batch(b))
			}
		case graph.KindFunction:
			xs := make([]*tensor.Tensor, len(n.Args))
			for ai, a := range n.Args {
				xs[ai] = e.fxs[a]
			}
			for ai, a := range n.Args {
				if needsGrad[a] {
					n.Op.Backward(e.b, xs, e.fxs[j], dEdf, ai, e.dEdfs[a])
				}
			}
		default:
			panic(fmt.Sprintf("exec: v%d has unknown node kind %v", j, k))
		}
	}
	e.b.Synchronize()
	e.backed = loss

	span.SetAttributes(attribute.Int("visited", visited))
	backwardPasses.WithLabelValues(e.b.Name()).Inc()
	backwardDuration.WithLabelValues(e.b.Name()).Observe(time.Since(start).Seconds())
}
