package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-cnn/internal/simd"
)

// Zero sets every element of t to 0.
func Zero(t *Tensor) {
	clear(t.V)
}

// Constant sets every element of t to c.
func Constant(t *Tensor, c float64) {
	for i := range t.V {
		t.V[i] = c
	}
}

// Randomize fills t uniformly in [-scale, scale]. A scale of exactly 1
// selects the Glorot bound sqrt(6)/sqrt(SumDims) instead.
func Randomize(t *Tensor, scale float64, rng *rand.Rand) {
	if scale == 1 {
		scale = math.Sqrt(6) / math.Sqrt(float64(t.D.SumDims()))
	}
	for i := range t.V {
		t.V[i] = (rng.Float64()*2 - 1) * scale
	}
}

// RandomizeNormal fills t with draws from N(mean, stddev^2).
func RandomizeNormal(t *Tensor, mean, stddev float64, rng *rand.Rand) {
	for i := range t.V {
		t.V[i] = rng.NormFloat64()*stddev + mean
	}
}

// CopyElements overwrites dst with src.
func CopyElements(dst, src *Tensor) {
	MustMatch("CopyElements", dst, src)
	copy(dst.V, src.V)
}

// SetElements overwrites t from a host slice of exactly t.D.Size() values.
func SetElements(t *Tensor, v []float64) {
	if len(v) != len(t.V) {
		panic(fmt.Errorf("%w: SetElements %d values into %v", ErrShapeMismatch, len(v), t.D))
	}
	copy(t.V, v)
}

// AccessElement returns the element at flat index i.
func AccessElement(t *Tensor, i int) float64 {
	return t.V[i]
}

// Scale multiplies every element of t by a.
func Scale(t *Tensor, a float64) {
	simd.VecScale(t.V, a)
}

// Accumulate adds src into dst.
func Accumulate(dst, src *Tensor) {
	MustMatch("Accumulate", dst, src)
	simd.VecAdd(dst.V, src.V)
}
