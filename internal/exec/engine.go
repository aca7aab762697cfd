// Package exec evaluates a graph.Graph: cached incremental forward passes
// and reverse-mode backward passes that route gradients into the
// parameters referenced by the graph.
package exec

import (
	"context"
	"errors"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

var (
	ErrNotEvaluated = errors.New("exec: node not evaluated")
	ErrNoBackward   = errors.New("exec: no backward pass covers node")
)

// Engine is the evaluation contract shared by the serial and vectorized
// engines. Misuse (backward before forward, reading unevaluated nodes)
// panics.
type Engine interface {
	// Invalidate drops every cached value and gradient.
	Invalidate()
	// Forward evaluates through the last node of the graph.
	Forward() *tensor.Tensor
	// ForwardTo evaluates through node i. Cached nodes are not recomputed.
	ForwardTo(i graph.VariableIndex) *tensor.Tensor
	IncrementalForward() *tensor.Tensor
	IncrementalForwardTo(i graph.VariableIndex) *tensor.Tensor
	// SetLastNodeEvaluated moves the watermark. It may advance only over
	// nodes whose values are still cached.
	SetLastNodeEvaluated(i graph.VariableIndex)
	// SetValue overwrites the value of node i; later nodes are recomputed
	// on the next forward pass.
	SetValue(t *tensor.Tensor, i graph.VariableIndex)
	Value(i graph.VariableIndex) *tensor.Tensor
	// Error returns dE/d(node i) from the last backward pass.
	Error(i graph.VariableIndex) *tensor.Tensor
	// Backward differentiates the last evaluated node, which must be the
	// scalar objective, and accumulates parameter gradients.
	Backward()
	LastNodeEvaluated() graph.VariableIndex
	Backend() device.Backend
}

// Config holds engine settings.
type Config struct {
	// Context parents the engine's trace spans.
	Context context.Context
	// Arena backs cached values and gradients. Nil gives the engine a
	// private one.
	Arena *tensor.Arena
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{Context: context.Background()}
}

// NewSimple returns an engine evaluating on the serial CPU backend.
func NewSimple(g *graph.Graph, cfg Config) *Executor {
	return New(g, device.NewCPUBackend(), cfg)
}

// NewVectorized returns an engine evaluating on the BLAS backend.
func NewVectorized(g *graph.Graph, cfg Config) *Executor {
	return New(g, device.NewBLASBackend(), cfg)
}

var _ Engine = (*Executor)(nil)
