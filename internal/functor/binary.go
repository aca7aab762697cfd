package functor

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// TanhBackward maps (tanh output t, d) to (1 - t^2) * d.
type TanhBackward struct{}

func (TanhBackward) Kind() Kind { return KindTanhBackward }
func (TanhBackward) Apply(t, d float64) float64 { return (1 - t*t) * d }

// LogisticSigmoidBackward maps (sigmoid output t, d) to (1 - t) * t * d.
type LogisticSigmoidBackward struct{}

func (LogisticSigmoidBackward) Kind() Kind { return KindLogisticSigmoidBackward }
func (LogisticSigmoidBackward) Apply(t, d float64) float64 { return (1 - t) * t * d }

// RectifyBackward passes d where the rectifier output t is non-zero.
type RectifyBackward struct{}

func (RectifyBackward) Kind() Kind { return KindRectifyBackward }
func (RectifyBackward) Apply(t, d float64) float64 {
	if t != 0 {
		return d
	}
	return 0
}

// RectifyNegateBackward passes -d where t is non-zero.
type RectifyNegateBackward struct{}

func (RectifyNegateBackward) Kind() Kind { return KindRectifyNegateBackward }
func (RectifyNegateBackward) Apply(t, d float64) float64 {
	if t != 0 {
		return -d
	}
	return 0
}

// SoftSignBackward maps (softsign output t, d) to (1 - |t|)^2 * d.
type SoftSignBackward struct{}

func (SoftSignBackward) Kind() Kind { return KindSoftSignBackward }
func (SoftSignBackward) Apply(t, d float64) float64 {
	a := 1 - math.Abs(t)
	return a * a * d
}

// LogBackward maps (forward input t, d) to d / t.
type LogBackward struct{}

func (LogBackward) Kind() Kind { return KindLogBackward }
func (LogBackward) Apply(t, d float64) float64 { return (1 / t) * d }

// SqrtBackward maps (sqrt output t, d) to d / 2t.
type SqrtBackward struct{}

func (SqrtBackward) Kind() Kind { return KindSqrtBackward }
func (SqrtBackward) Apply(t, d float64) float64 { return d / (2 * t) }

// ErfBackward maps (forward input x, d) to 2/sqrt(pi) * exp(-x^2) * d.
type ErfBackward struct{}

func (ErfBackward) Kind() Kind { return KindErfBackward }
func (ErfBackward) Apply(x, d float64) float64 {
	return 1.1283791670955125738961589 * math.Exp(-x*x) * d
}

// LogGammaBackward maps (forward input x, d) to digamma(x) * d.
type LogGammaBackward struct{}

func (LogGammaBackward) Kind() Kind { return KindLogGammaBackward }
func (LogGammaBackward) Apply(x, d float64) float64 { return mathext.Digamma(x) * d }

type Subtract struct{}

func (Subtract) Kind() Kind { return KindSubtract }
func (Subtract) Apply(a, b float64) float64 { return a - b }

type Product struct{}

func (Product) Kind() Kind { return KindProduct }
func (Product) Apply(a, b float64) float64 { return a * b }

type Quotient struct{}

func (Quotient) Kind() Kind { return KindQuotient }
func (Quotient) Apply(a, b float64) float64 { return a / b }

// SqDist computes (a - b)^2.
type SqDist struct{}

func (SqDist) Kind() Kind { return KindSqDist }
func (SqDist) Apply(a, b float64) float64 {
	d := a - b
	return d * d
}

// PairwiseRankLoss computes max(0, Margin - a + b).
type PairwiseRankLoss struct{ Margin float64 }

func (PairwiseRankLoss) Kind() Kind { return KindPairwiseRankLoss }
func (f PairwiseRankLoss) Apply(a, b float64) float64 {
	d := f.Margin - a + b
	if d > 0 {
		return d
	}
	return 0
}

// MaxBackwardInv maps (mask u, d) to (1 - u) * d.
type MaxBackwardInv struct{}

func (MaxBackwardInv) Kind() Kind { return KindMaxBackwardInv }
func (MaxBackwardInv) Apply(u, d float64) float64 { return (1 - u) * d }

// SoftmaxBackward maps (softmax output t, d) to (OffDiagSum + d) * t.
type SoftmaxBackward struct{ OffDiagSum float64 }

func (SoftmaxBackward) Kind() Kind { return KindSoftmaxBackward }
func (f SoftmaxBackward) Apply(t, d float64) float64 { return (f.OffDiagSum + d) * t }

// LogSoftmaxBackward maps (log-softmax output t, d) to OffDiagSum * exp(t) + d.
type LogSoftmaxBackward struct{ OffDiagSum float64 }

func (LogSoftmaxBackward) Kind() Kind { return KindLogSoftmaxBackward }
func (f LogSoftmaxBackward) Apply(t, d float64) float64 {
	return f.OffDiagSum*math.Exp(t) + d
}

// WeightedError computes exp(t) * d / exp(t).
type WeightedError struct{}

func (WeightedError) Kind() Kind { return KindWeightedError }
func (WeightedError) Apply(t, d float64) float64 { return math.Exp(t) * d / math.Exp(t) }

// EuclideanBackward is the gradient of Scalar * ||a - b||^2 with respect to
// the first (I == 0) or second operand.
type EuclideanBackward struct {
	I      int
	Scalar float64
}

func (EuclideanBackward) Kind() Kind { return KindEuclideanBackward }
func (f EuclideanBackward) Apply(a, b float64) float64 {
	s := -2.0
	if f.I == 0 {
		s = 2
	}
	return s * f.Scalar * (a - b)
}

// Saxpy computes A * x + y.
type Saxpy struct{ A float64 }

func (Saxpy) Kind() Kind { return KindSaxpy }
func (f Saxpy) Apply(x, y float64) float64 { return f.A*x + y }

// L2SGDUpdate computes -Scale * g - x * Lambda.
type L2SGDUpdate struct{ Lambda, Scale float64 }

func (L2SGDUpdate) Kind() Kind { return KindL2SGDUpdate }
func (f L2SGDUpdate) Apply(x, g float64) float64 {
	return -f.Scale*g - x*f.Lambda
}

// BinaryLogLoss is the cross entropy of prediction x against target xTrue.
// Exact 0 and 1 predictions are replaced by MinValue on the branch where
// they would hit log(0).
type BinaryLogLoss struct{}

func (BinaryLogLoss) Kind() Kind { return KindBinaryLogLoss }
func (BinaryLogLoss) Apply(x, xTrue float64) float64 {
	xTmp := x
	switch xTrue {
	case 1:
		if x == 0 {
			xTmp = MinValue
		}
		return -1 * xTrue * math.Log(xTmp)
	case 0:
		if x == 1 {
			xTmp = MinValue
		}
		return (xTrue - 1) * math.Log1p(-xTmp)
	default:
		if x == 0 {
			xTmp = MinValue
		}
		if x == 1 {
			xTmp = MinValue
		}
		return -1 * (xTrue*math.Log(xTmp) + (1-xTrue)*math.Log1p(-xTmp))
	}
}

// BinaryLogLossBackward is dBinaryLogLoss/dx scaled by D.
type BinaryLogLossBackward struct{ D float64 }

func (BinaryLogLossBackward) Kind() Kind { return KindBinaryLogLossBackward }
func (f BinaryLogLossBackward) Apply(x, xTrue float64) float64 {
	xTmp := x
	if x == xTrue {
		return 0
	}
	if x == 0 {
		xTmp = MinValue
	}
	if x == 1 {
		xTmp = 0.9999999
	}
	switch xTrue {
	case 1:
		return f.D * -xTrue / xTmp
	case 0:
		return f.D * (1 - xTrue) / (1 - xTmp)
	}
	return f.D * ((1-xTrue)/(1-xTmp) + (-xTrue / xTmp))
}
