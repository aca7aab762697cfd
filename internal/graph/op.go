package graph

import (
	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/functor"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Kind classifies a node for the engine's backward routing.
type Kind int

const (
	// KindInput nodes hold constants; gradients stop there.
	KindInput Kind = iota
	// KindParameter nodes route their gradient into a GradientSink.
	KindParameter
	// KindLookup nodes route one row gradient per batch element into a
	// RowGradientSink.
	KindLookup
	// KindFunction nodes compute from their arguments.
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindParameter:
		return "parameter"
	case KindLookup:
		return "lookup"
	case KindFunction:
		return "function"
	}
	return "unknown"
}

// Op is the behaviour of one node.
//
// Forward writes the node value into fx, which is zeroed and shaped by Dim.
// Backward adds the gradient with respect to argument i into dEdxi given
// the upstream gradient dEdf; it must accumulate, never overwrite.
type Op interface {
	Kind() Kind
	Dim(xs []tensor.Dim) tensor.Dim
	Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor)
	Backward(b device.Backend, xs []*tensor.Tensor, fx, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor)
	String(args []string) string
}

// ValueAliaser is implemented by ops whose value is an existing buffer
// rather than a computed one, e.g. parameter values. The engine caches
// the alias instead of allocating.
type ValueAliaser interface {
	AliasValue() *tensor.Tensor
}

// FunctorUser declares the functors an op evaluates so engines can reject
// an unsupported backend before running anything.
type FunctorUser interface {
	Functors() []functor.Kind
}

// GradientSink receives the accumulated gradient of a parameter node.
type GradientSink interface {
	AccumulateGrad(d *tensor.Tensor)
}

// RowGradientSink receives per-row gradients of a lookup node.
type RowGradientSink interface {
	AccumulateGrad(row int, d *tensor.Tensor)
}

// ParameterOp must be implemented by every KindParameter op.
type ParameterOp interface {
	Op
	Sink() GradientSink
}

// LookupOp must be implemented by every KindLookup op. Rows returns one
// row index per batch element of the node value.
type LookupOp interface {
	Op
	RowSink() RowGradientSink
	Rows() []int
}
