package nodes

import (
	"fmt"
	"strconv"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/model"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Input is a constant. Values is read on every forward pass, so callers
// may update it in place between passes.
type Input struct {
	D      tensor.Dim
	Values []float64
}

func NewInput(d tensor.Dim, values []float64) *Input {
	if len(values) != d.Size() {
		panic(fmt.Errorf("%w: input of %v with %d values", tensor.ErrShapeMismatch, d, len(values)))
	}
	return &Input{D: d, Values: values}
}

func (n *Input) Kind() graph.Kind { return graph.KindInput }

func (n *Input) Dim([]tensor.Dim) tensor.Dim { return n.D }

func (n *Input) Forward(_ device.Backend, _ []*tensor.Tensor, fx *tensor.Tensor) {
	copy(fx.V, n.Values)
}

func (n *Input) Backward(device.Backend, []*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, int, *tensor.Tensor) {
	noArgs("input")
}

func (n *Input) String([]string) string { return "constant(" + n.D.String() + ")" }

// ScalarInput is a single constant read through a pointer.
type ScalarInput struct {
	Value *float64
}

func (n *ScalarInput) Kind() graph.Kind { return graph.KindInput }

func (n *ScalarInput) Dim([]tensor.Dim) tensor.Dim { return tensor.ScalarDim() }

func (n *ScalarInput) Forward(_ device.Backend, _ []*tensor.Tensor, fx *tensor.Tensor) {
	fx.V[0] = *n.Value
}

func (n *ScalarInput) Backward(device.Backend, []*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, int, *tensor.Tensor) {
	noArgs("scalar_input")
}

func (n *ScalarInput) String([]string) string { return strconv.FormatFloat(*n.Value, 'g', -1, 64) }

// Parameter exposes trainable parameters; backward routes its gradient
// into them.
type Parameter struct {
	P *model.Parameters
}

func (n *Parameter) Kind() graph.Kind { return graph.KindParameter }

func (n *Parameter) Dim([]tensor.Dim) tensor.Dim { return n.P.Dim }

func (n *Parameter) Forward(_ device.Backend, _ []*tensor.Tensor, fx *tensor.Tensor) {
	tensor.CopyElements(fx, n.P.Values)
}

func (n *Parameter) Backward(device.Backend, []*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, int, *tensor.Tensor) {
	noArgs("parameters")
}

func (n *Parameter) AliasValue() *tensor.Tensor { return n.P.Values }

func (n *Parameter) Sink() graph.GradientSink { return n.P }

func (n *Parameter) String([]string) string {
	return fmt.Sprintf("parameters(%v) %s", n.P.Dim, n.P.Name)
}

// ConstParameter reads parameter values without receiving gradients.
type ConstParameter struct {
	P *model.Parameters
}

func (n *ConstParameter) Kind() graph.Kind { return graph.KindInput }

func (n *ConstParameter) Dim([]tensor.Dim) tensor.Dim { return n.P.Dim }

func (n *ConstParameter) Forward(_ device.Backend, _ []*tensor.Tensor, fx *tensor.Tensor) {
	tensor.CopyElements(fx, n.P.Values)
}

func (n *ConstParameter) Backward(device.Backend, []*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, int, *tensor.Tensor) {
	noArgs("const_parameters")
}

func (n *ConstParameter) AliasValue() *tensor.Tensor { return n.P.Values }

func (n *ConstParameter) String([]string) string {
	return fmt.Sprintf("const_parameters(%v) %s", n.P.Dim, n.P.Name)
}

// Lookup selects rows of a table. With more than one index the value is
// batched, one row per batch element. Indices is read on every forward
// pass; gradients go to the rows read by the last forward pass.
type Lookup struct {
	Table   *model.LookupParameters
	Indices []int

	rows []int
}

func (n *Lookup) Kind() graph.Kind { return graph.KindLookup }

func (n *Lookup) Dim([]tensor.Dim) tensor.Dim {
	if len(n.Indices) == 0 {
		panic(fmt.Errorf("%w: lookup without indices", tensor.ErrShapeMismatch))
	}
	return tensor.NewBatchDim(n.Table.Dim.D, len(n.Indices))
}

func (n *Lookup) Forward(_ device.Backend, _ []*tensor.Tensor, fx *tensor.Tensor) {
	for b, r := range n.Indices {
		if r < 0 || r >= n.Table.Rows() {
			panic(fmt.Sprintf("nodes: lookup %q row %d out of range [0,%d)", n.Table.Name, r, n.Table.Rows()))
		}
		copy(fx.Batch(b).V, n.Table.Values[r].V)
	}
	n.rows = append(n.rows[:0], n.Indices...)
}

func (n *Lookup) Backward(device.Backend, []*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, int, *tensor.Tensor) {
	noArgs("lookup_parameters")
}

func (n *Lookup) RowSink() graph.RowGradientSink { return n.Table }

func (n *Lookup) Rows() []int { return n.rows }

func (n *Lookup) String([]string) string {
	return fmt.Sprintf("lookup_parameters(|x|=%d --> %v) @ %v %s", n.Table.Rows(), n.Table.Dim, n.Indices, n.Table.Name)
}
