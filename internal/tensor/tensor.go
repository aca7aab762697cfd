// Package tensor holds the shape-tagged, device-tagged buffers that flow
// through the computation graph, the bulk mutation primitives over them,
// and the aligned arena their transient storage comes from.
//
// Shape or device mismatches are programming errors and panic with an
// error wrapping ErrShapeMismatch or ErrDeviceMismatch.
package tensor

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-cnn/internal/device"
)

var (
	ErrShapeMismatch  = errors.New("tensor shape mismatch")
	ErrDeviceMismatch = errors.New("tensor device mismatch")
	ErrArenaExhausted = errors.New("tensor arena exhausted")
)

// Tensor is a view of len(V) == D.Size() elements on Device. It never
// resizes after construction.
type Tensor struct {
	D      Dim
	V      []float64
	Device device.ID

	owned bool
}

// New allocates a zeroed tensor that owns its buffer.
func New(d Dim, dev device.ID) *Tensor {
	return &Tensor{D: d, V: make([]float64, d.Size()), Device: dev, owned: true}
}

// FromSlice allocates a tensor holding a copy of v.
func FromSlice(d Dim, v []float64, dev device.ID) *Tensor {
	if len(v) != d.Size() {
		panic(fmt.Errorf("%w: FromSlice %d values for %v", ErrShapeMismatch, len(v), d))
	}
	t := New(d, dev)
	copy(t.V, v)
	return t
}

// View wraps an existing buffer without taking ownership.
func View(d Dim, v []float64, dev device.ID) *Tensor {
	if len(v) != d.Size() {
		panic(fmt.Errorf("%w: View over %d values for %v", ErrShapeMismatch, len(v), d))
	}
	return &Tensor{D: d, V: v, Device: dev}
}

// Owned reports whether the buffer was allocated for this tensor.
func (t *Tensor) Owned() bool { return t.owned }

// Batch returns a view of batch element i.
func (t *Tensor) Batch(i int) *Tensor {
	n := t.D.BatchSize()
	if i < 0 || i >= t.D.Batch() {
		panic(fmt.Sprintf("tensor: batch index %d out of range for %v", i, t.D))
	}
	return View(t.D.SingleBatch(), t.V[i*n:(i+1)*n], t.Device)
}

// Scalar returns the only element of a size-1 tensor.
func (t *Tensor) Scalar() float64 {
	if len(t.V) != 1 {
		panic(fmt.Errorf("%w: Scalar on %v", ErrShapeMismatch, t.D))
	}
	return t.V[0]
}

// Vec returns a host copy of the elements.
func (t *Tensor) Vec() []float64 {
	out := make([]float64, len(t.V))
	copy(out, t.V)
	return out
}

// At returns the element at (row, col) of batch element 0, column-major
// within the first two dimensions like every matrix in this package.
func (t *Tensor) At(row, col int) float64 {
	return t.V[col*t.D.Rows()+row]
}

// Set writes the element at (row, col) of batch element 0.
func (t *Tensor) Set(row, col int, v float64) {
	t.V[col*t.D.Rows()+row] = v
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%v@%v %v", t.D, t.Device, t.V)
}

// MustMatch panics unless a and b agree on shape and device.
func MustMatch(op string, a, b *Tensor) {
	if !a.D.Equal(b.D) {
		panic(fmt.Errorf("%w: %s %v vs %v", ErrShapeMismatch, op, a.D, b.D))
	}
	MustShareDevice(op, a, b)
}

// MustShareDevice panics unless every tensor carries the same device tag.
func MustShareDevice(op string, ts ...*Tensor) {
	for _, t := range ts[1:] {
		if t.Device != ts[0].Device {
			panic(fmt.Errorf("%w: %s %v vs %v", ErrDeviceMismatch, op, ts[0].Device, t.Device))
		}
	}
}
