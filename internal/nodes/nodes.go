// Package nodes is the catalog of operations graph clients build from.
// Matrices are column-major; batched values hold their batch elements
// contiguously.
package nodes

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-cnn/internal/tensor"
)

func shapeError(op string, xs []tensor.Dim) error {
	parts := make([]string, len(xs))
	for i, d := range xs {
		parts[i] = d.String()
	}
	return fmt.Errorf("%w: %s over %s", tensor.ErrShapeMismatch, op, strings.Join(parts, ", "))
}

func requireArity(op string, xs []tensor.Dim, n int) {
	if len(xs) != n {
		panic(fmt.Errorf("%w: %s takes %d arguments, got %d", tensor.ErrShapeMismatch, op, n, len(xs)))
	}
}

func requireSame(op string, xs []tensor.Dim) {
	if len(xs) == 0 {
		panic(shapeError(op, xs))
	}
	for _, d := range xs[1:] {
		if !d.Equal(xs[0]) {
			panic(shapeError(op, xs))
		}
	}
}

// scalarPerBatch is the shape of one scalar for every batch element of d.
func scalarPerBatch(d tensor.Dim) tensor.Dim {
	return tensor.NewBatchDim([]int{1}, d.Batch())
}

// noArgs panics from Backward of ops without arguments; the engine never
// calls it for them.
func noArgs(op string) {
	panic(fmt.Sprintf("nodes: %s has no arguments to differentiate", op))
}
