package functor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const h = 1e-6

func numericDerivative(f func(float64) float64, x float64) float64 {
	return (f(x+h) - f(x-h)) / (2 * h)
}

func TestBackwardMatchesForward(t *testing.T) {
	inputs := []float64{-2, -0.7, -0.1, 0.3, 1.1, 2.5}

	tests := []struct {
		name     string
		fwd      Unary
		bwd      Binary
		onOutput bool // backward functor consumes the forward output
	}{
		{"Tanh", Tanh{}, TanhBackward{}, true},
		{"LogisticSigmoid", LogisticSigmoid{}, LogisticSigmoidBackward{}, true},
		{"SoftSign", SoftSign{}, SoftSignBackward{}, true},
		{"Erf", Erf{}, ErfBackward{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, x := range inputs {
				want := numericDerivative(tt.fwd.Apply, x)
				arg := x
				if tt.onOutput {
					arg = tt.fwd.Apply(x)
				}
				got := tt.bwd.Apply(arg, 1)
				assert.InDelta(t, want, got, 1e-6, "%s'(%f)", tt.name, x)
			}
		})
	}
}

func TestPositiveDomainBackward(t *testing.T) {
	for _, x := range []float64{0.4, 1, 2.5, 7} {
		assert.InDelta(t, numericDerivative(Log{}.Apply, x), LogBackward{}.Apply(x, 1), 1e-6)
		assert.InDelta(t, numericDerivative(LogGamma{}.Apply, x), LogGammaBackward{}.Apply(x, 1), 1e-5)
		sqrt := math.Sqrt(x)
		assert.InDelta(t, numericDerivative(math.Sqrt, x), SqrtBackward{}.Apply(sqrt, 1), 1e-6)
	}
}

func TestRectify(t *testing.T) {
	require.Equal(t, 0.0, Rectify{}.Apply(-3))
	require.Equal(t, 2.0, Rectify{}.Apply(2))
	require.Equal(t, 5.0, RectifyBackward{}.Apply(2, 5))
	require.Equal(t, 0.0, RectifyBackward{}.Apply(0, 5))
	require.Equal(t, -5.0, RectifyNegateBackward{}.Apply(1, 5))
}

func TestHuber(t *testing.T) {
	f := Huber{C: 1}
	require.Equal(t, 0.25, f.Apply(0.5))
	require.Equal(t, 3.0, f.Apply(-2)) // 1 * (4 - 1)
	b := HuberBackward{C: 1, D: 1}
	assert.InDelta(t, numericDerivative(f.Apply, 0.5), b.Apply(0.5), 1e-6)
	assert.InDelta(t, numericDerivative(f.Apply, -2), b.Apply(-2), 1e-6)
}

func TestBinaryLogLoss(t *testing.T) {
	f := BinaryLogLoss{}

	t.Run("Interior", func(t *testing.T) {
		assert.InDelta(t, -math.Log(0.8), f.Apply(0.8, 1), 1e-12)
		assert.InDelta(t, -math.Log(0.2), f.Apply(0.8, 0), 1e-12)
		want := -(0.3*math.Log(0.6) + 0.7*math.Log(0.4))
		assert.InDelta(t, want, f.Apply(0.6, 0.3), 1e-12)
	})

	t.Run("BoundaryClamp", func(t *testing.T) {
		// log of the negative epsilon is NaN; the clamp only avoids -Inf.
		assert.True(t, math.IsNaN(f.Apply(0, 1)))
		assert.InDelta(t, 0, f.Apply(1, 0), 1e-30)
		assert.Equal(t, 0.0, f.Apply(1, 1))
		assert.Equal(t, 0.0, f.Apply(0, 0))
	})

	t.Run("Backward", func(t *testing.T) {
		b := BinaryLogLossBackward{D: 1}
		require.Equal(t, 0.0, b.Apply(1, 1))
		require.Equal(t, 0.0, b.Apply(0, 0))
		assert.InDelta(t, -1/0.8, b.Apply(0.8, 1), 1e-12)
		assert.InDelta(t, 1/0.2, b.Apply(0.8, 0), 1e-12)
		clamped := 0.9999999
		assert.InEpsilon(t, 1/(1-clamped), b.Apply(1, 0), 1e-9)
		assert.InDelta(t, -1/MinValue, b.Apply(0, 1), 1)
		assert.InDelta(t, numericDerivative(func(x float64) float64 { return f.Apply(x, 0.3) }, 0.6),
			b.Apply(0.6, 0.3), 1e-6)
	})
}

func TestLogSoftmax(t *testing.T) {
	// two columns of three rows, column-major
	a := []float64{1, 2, 3, 0, 0, 0}
	v := make([]float64, 6)
	LogSoftmax(3, 2, a, v, true)

	z := math.Log(math.Exp(1) + math.Exp(2) + math.Exp(3))
	assert.InDelta(t, 1-z, v[0], 1e-12)
	assert.InDelta(t, 3-z, v[2], 1e-12)
	assert.InDelta(t, -math.Log(3), v[4], 1e-12)
	assert.InDelta(t, z, LogSumExp(a[:3]), 1e-12)

	require.Panics(t, func() { LogSoftmax(3, 2, a, v, false) })
}

func TestKindString(t *testing.T) {
	require.Equal(t, "BinaryLogLoss", KindBinaryLogLoss.String())
	require.Equal(t, "L2SGDUpdate", KindL2SGDUpdate.String())
	require.Equal(t, "Kind(999)", Kind(999).String())
	require.Len(t, Kinds(), int(numKinds))
}
