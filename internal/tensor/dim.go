package tensor

import (
	"strconv"
	"strings"
)

// Dim is an ordered list of dimension sizes plus a batch dimension.
// A zero BatchElems is read as 1.
type Dim struct {
	D          []int
	BatchElems int
}

// NewDim returns a single-batch shape.
func NewDim(dims ...int) Dim {
	return Dim{D: append([]int(nil), dims...), BatchElems: 1}
}

// NewBatchDim returns a shape with batch elements of the given dims.
func NewBatchDim(dims []int, batch int) Dim {
	return Dim{D: append([]int(nil), dims...), BatchElems: batch}
}

// ScalarDim is the shape of a single value.
func ScalarDim() Dim { return NewDim(1) }

// Batch returns the number of batch elements.
func (d Dim) Batch() int {
	if d.BatchElems < 1 {
		return 1
	}
	return d.BatchElems
}

// BatchSize returns the element count of one batch element.
func (d Dim) BatchSize() int {
	n := 1
	for _, v := range d.D {
		n *= v
	}
	return n
}

// Size returns the total element count including the batch dimension.
func (d Dim) Size() int {
	return d.BatchSize() * d.Batch()
}

// NDims returns the number of non-batch dimensions.
func (d Dim) NDims() int { return len(d.D) }

// Rows is the first dimension, 1 for scalars.
func (d Dim) Rows() int {
	if len(d.D) == 0 {
		return 1
	}
	return d.D[0]
}

// Cols is the second dimension, 1 for vectors.
func (d Dim) Cols() int {
	if len(d.D) < 2 {
		return 1
	}
	return d.D[1]
}

// SumDims returns the sum of the non-batch dimensions.
func (d Dim) SumDims() int {
	s := 0
	for _, v := range d.D {
		s += v
	}
	return s
}

// SingleBatch returns the shape of one batch element.
func (d Dim) SingleBatch() Dim {
	return NewDim(d.D...)
}

// Equal compares dimensions and batch size. Trailing unit dimensions are
// significant.
func (d Dim) Equal(o Dim) bool {
	if d.Batch() != o.Batch() || len(d.D) != len(o.D) {
		return false
	}
	for i := range d.D {
		if d.D[i] != o.D[i] {
			return false
		}
	}
	return true
}

func (d Dim) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, v := range d.D {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(v))
	}
	if d.Batch() > 1 {
		sb.WriteByte('X')
		sb.WriteString(strconv.Itoa(d.Batch()))
	}
	sb.WriteByte('}')
	return sb.String()
}
