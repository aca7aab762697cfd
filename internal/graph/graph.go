// Package graph is the append-only computation graph. A Graph only records
// structure; evaluation belongs to internal/exec.
package graph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-cnn/internal/tensor"
)

var (
	ErrBadIndex     = errors.New("graph: argument index out of range")
	ErrNoCheckpoint = errors.New("graph: revert without checkpoint")
)

// VariableIndex identifies a node. Indices are dense from 0 in insertion
// order, so every argument of a node has a smaller index.
type VariableIndex int

// Node is one recorded operation.
type Node struct {
	Index VariableIndex
	Op    Op
	Args  []VariableIndex
	Dim   tensor.Dim
}

// Graph is a DAG in construction order. It is not safe for concurrent use.
type Graph struct {
	nodes       []*Node
	params      []VariableIndex
	checkpoints []checkpoint
	generation  uint64
	revision    uint64
	floor       int
}

type checkpoint struct {
	nodes  int
	params int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{floor: math.MaxInt}
}

// AddNode appends op with the given arguments and returns its index. An
// argument referring to a node that does not exist yet panics with
// ErrBadIndex.
func (g *Graph) AddNode(op Op, args ...VariableIndex) VariableIndex {
	idx := VariableIndex(len(g.nodes))
	dims := make([]tensor.Dim, len(args))
	for j, a := range args {
		if a < 0 || a >= idx {
			panic(fmt.Errorf("%w: argument %d of v%d is v%d, graph has %d nodes", ErrBadIndex, j, idx, a, len(g.nodes)))
		}
		dims[j] = g.nodes[a].Dim
	}
	n := &Node{
		Index: idx,
		Op:    op,
		Args:  append([]VariableIndex(nil), args...),
		Dim:   op.Dim(dims),
	}
	g.nodes = append(g.nodes, n)
	if op.Kind() == KindParameter {
		g.params = append(g.params, idx)
	}
	return idx
}

// Size returns the number of nodes.
func (g *Graph) Size() int { return len(g.nodes) }

// Node returns node i.
func (g *Graph) Node(i VariableIndex) *Node {
	if i < 0 || int(i) >= len(g.nodes) {
		panic(fmt.Errorf("%w: v%d, graph has %d nodes", ErrBadIndex, i, len(g.nodes)))
	}
	return g.nodes[i]
}

// Nodes returns the node list. Callers must not modify it.
func (g *Graph) Nodes() []*Node { return g.nodes }

// ParameterNodes returns the indices of KindParameter nodes.
func (g *Graph) ParameterNodes() []VariableIndex { return g.params }

// Clear drops every node and checkpoint. Engines observing the graph
// notice the new generation and discard their caches.
func (g *Graph) Clear() {
	g.nodes = nil
	g.params = nil
	g.checkpoints = nil
	g.generation++
	g.floor = math.MaxInt
	log.Debug().Uint64("generation", g.generation).Msg("graph cleared")
}

// Generation changes every time the graph is cleared.
func (g *Graph) Generation() uint64 { return g.generation }

// Checkpoint records the current size so Revert can return to it.
func (g *Graph) Checkpoint() {
	g.checkpoints = append(g.checkpoints, checkpoint{nodes: len(g.nodes), params: len(g.params)})
}

// Revert truncates the graph back to the most recent checkpoint. The
// checkpoint stays in place so the same prefix can be reused repeatedly.
func (g *Graph) Revert() {
	if len(g.checkpoints) == 0 {
		panic(ErrNoCheckpoint)
	}
	cp := g.checkpoints[len(g.checkpoints)-1]
	g.nodes = g.nodes[:cp.nodes]
	g.params = g.params[:cp.params]
	g.revision++
	g.floor = min(g.floor, cp.nodes)
}

// PopCheckpoint discards the most recent checkpoint without reverting.
func (g *Graph) PopCheckpoint() {
	if len(g.checkpoints) == 0 {
		panic(ErrNoCheckpoint)
	}
	g.checkpoints = g.checkpoints[:len(g.checkpoints)-1]
}

// Revision changes every time the graph is reverted.
func (g *Graph) Revision() uint64 { return g.revision }

// RevertFloor is the smallest size the graph has been reverted to in the
// current generation, or math.MaxInt if it never was. Nodes below it are
// unchanged since the generation began.
func (g *Graph) RevertFloor() int { return g.floor }

// PrintGraphviz writes the graph in dot format.
func (g *Graph) PrintGraphviz(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph G {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, "  nodesep=.05;")
	for _, n := range g.nodes {
		args := make([]string, len(n.Args))
		for j, a := range n.Args {
			args[j] = "v" + strconv.Itoa(int(a))
		}
		fmt.Fprintf(bw, "  N%d [label=%q];\n", n.Index, fmt.Sprintf("v%d = %s", n.Index, n.Op.String(args)))
		for _, a := range n.Args {
			fmt.Fprintf(bw, "  N%d -> N%d;\n", a, n.Index)
		}
	}
	fmt.Fprintln(bw, "}")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write graphviz: %w", err)
	}
	return nil
}
