package model

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// TrainableStore is what Model aggregates over for norms, clipping and
// gradient resets.
type TrainableStore interface {
	ParamName() string
	Size() int
	SquaredL2Norm() float64
	GradSquaredL2Norm() float64
	GradSimpleClipping(threshold float64)
	ScaleParameters(a float64)
	ScaleGradient(a float64)
	Clear()
}

// Parameters is a dense trainable tensor with a gradient of the same shape.
type Parameters struct {
	Dim    tensor.Dim
	Values *tensor.Tensor
	Grad   *tensor.Tensor
	Name   string

	b device.Backend
}

func newParameters(b device.Backend, d tensor.Dim, scale float64, name string, rng *rand.Rand) *Parameters {
	p := &Parameters{
		Dim:    d,
		Values: tensor.New(d, b.Device()),
		Grad:   tensor.New(d, b.Device()),
		Name:   name,
		b:      b,
	}
	tensor.Randomize(p.Values, scale, rng)
	return p
}

func (p *Parameters) ParamName() string { return p.Name }

// Size returns the element count of the values.
func (p *Parameters) Size() int { return p.Dim.Size() }

// AccumulateGrad adds d into the gradient.
func (p *Parameters) AccumulateGrad(d *tensor.Tensor) {
	tensor.MustMatch("Parameters.AccumulateGrad", p.Grad, d)
	p.b.Axpy(1, d.V, p.Grad.V)
}

// Clear zeroes the gradient.
func (p *Parameters) Clear() { tensor.Zero(p.Grad) }

// ResetToZero zeroes the values.
func (p *Parameters) ResetToZero() { tensor.Zero(p.Values) }

func (p *Parameters) ScaleParameters(a float64) { p.b.Scal(a, p.Values.V) }

func (p *Parameters) ScaleGradient(a float64) { p.b.Scal(a, p.Grad.V) }

func (p *Parameters) SquaredL2Norm() float64 { return p.b.SquaredNorm(p.Values.V) }

func (p *Parameters) GradSquaredL2Norm() float64 { return p.b.SquaredNorm(p.Grad.V) }

// GradSimpleClipping clamps every gradient element into
// [-threshold/Size, threshold/Size].
func (p *Parameters) GradSimpleClipping(threshold float64) {
	p.b.Clip(p.Grad.V, threshold/float64(p.Grad.D.Size()))
}

// Copy takes the values and name of other, which must have the same shape.
func (p *Parameters) Copy(other *Parameters) {
	tensor.MustMatch("Parameters.Copy", p.Values, other.Values)
	tensor.CopyElements(p.Values, other.Values)
	p.Name = other.Name
}

// LookupParameters is a table of equally shaped rows. Gradients are
// sparse: a row gets a gradient buffer on the first AccumulateGrad that
// touches it, allocated from the table's own scratch scope.
type LookupParameters struct {
	Dim    tensor.Dim
	Values []*tensor.Tensor
	Name   string

	b       device.Backend
	scratch *tensor.Scratch
	grads   map[int]*tensor.Tensor
}

func newLookupParameters(b device.Backend, arena *tensor.Arena, n int, d tensor.Dim, scale float64, name string, rng *rand.Rand) *LookupParameters {
	lp := &LookupParameters{
		Dim:     d,
		Values:  make([]*tensor.Tensor, n),
		Name:    name,
		b:       b,
		scratch: arena.NewScratch("lookup:" + name),
		grads:   make(map[int]*tensor.Tensor),
	}
	for i := range lp.Values {
		lp.Values[i] = tensor.New(d, b.Device())
		tensor.Randomize(lp.Values[i], scale, rng)
	}
	return lp
}

func (lp *LookupParameters) ParamName() string { return lp.Name }

// Size returns rows times the row size.
func (lp *LookupParameters) Size() int { return len(lp.Values) * lp.Dim.Size() }

// Rows returns the number of rows.
func (lp *LookupParameters) Rows() int { return len(lp.Values) }

func (lp *LookupParameters) checkRow(index int) {
	if index < 0 || index >= len(lp.Values) {
		panic(fmt.Sprintf("model: lookup %q row %d out of range [0,%d)", lp.Name, index, len(lp.Values)))
	}
}

// AccumulateGrad adds d into the gradient of row index.
func (lp *LookupParameters) AccumulateGrad(index int, d *tensor.Tensor) {
	lp.checkRow(index)
	g, ok := lp.grads[index]
	if !ok {
		g = lp.scratch.Tensor(lp.Dim, lp.b.Device())
		lp.grads[index] = g
		lookupRowsTouched.Inc()
	}
	tensor.MustMatch("LookupParameters.AccumulateGrad", g, d)
	lp.b.Axpy(1, d.V, g.V)
}

// Grad returns the gradient of row index if it has been touched.
func (lp *LookupParameters) Grad(index int) (*tensor.Tensor, bool) {
	g, ok := lp.grads[index]
	return g, ok
}

// TouchedRows returns the rows holding a gradient, ascending.
func (lp *LookupParameters) TouchedRows() []int {
	rows := make([]int, 0, len(lp.grads))
	for r := range lp.grads {
		rows = append(rows, r)
	}
	sort.Ints(rows)
	return rows
}

// Clear drops every row gradient and releases their storage at once.
func (lp *LookupParameters) Clear() {
	lp.scratch.Free()
	lp.grads = make(map[int]*tensor.Tensor)
}

// Initialize overwrites row index with vals.
func (lp *LookupParameters) Initialize(index int, vals []float64) {
	lp.checkRow(index)
	tensor.SetElements(lp.Values[index], vals)
}

// CopyRows overwrites rows 0, 1, 2, ... from rows and stops at the first
// index missing from the map.
func (lp *LookupParameters) CopyRows(rows map[int][]float64) {
	for i := range lp.Values {
		v, ok := rows[i]
		if !ok {
			break
		}
		tensor.SetElements(lp.Values[i], v)
	}
}

// Copy takes every row and the name of other.
func (lp *LookupParameters) Copy(other *LookupParameters) {
	if !lp.Dim.Equal(other.Dim) || len(lp.Values) != len(other.Values) {
		panic(fmt.Errorf("%w: lookup copy %dx%v vs %dx%v", tensor.ErrShapeMismatch, len(lp.Values), lp.Dim, len(other.Values), other.Dim))
	}
	for i, v := range other.Values {
		tensor.CopyElements(lp.Values[i], v)
	}
	lp.Name = other.Name
}

func (lp *LookupParameters) ScaleParameters(a float64) {
	for _, v := range lp.Values {
		lp.b.Scal(a, v.V)
	}
}

func (lp *LookupParameters) ScaleGradient(a float64) {
	for _, g := range lp.grads {
		lp.b.Scal(a, g.V)
	}
}

func (lp *LookupParameters) SquaredL2Norm() float64 {
	var s float64
	for _, v := range lp.Values {
		s += lp.b.SquaredNorm(v.V)
	}
	return s
}

func (lp *LookupParameters) GradSquaredL2Norm() float64 {
	var s float64
	for _, g := range lp.grads {
		s += lp.b.SquaredNorm(g.V)
	}
	return s
}

// GradSimpleClipping clamps each touched row gradient into
// [-threshold/rowSize, threshold/rowSize].
func (lp *LookupParameters) GradSimpleClipping(threshold float64) {
	for _, g := range lp.grads {
		lp.b.Clip(g.V, threshold/float64(g.D.Size()))
	}
}

func (lp *LookupParameters) release() {
	lp.scratch.Free()
	lp.grads = nil
	lp.Values = nil
}
