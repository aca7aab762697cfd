// Package functor is the elementwise math shared by every backend.
//
// A functor is a pure function of one or two scalars with no state across
// elements, so a backend may apply it in a serial loop or split a buffer
// into chunks and apply it in parallel; both produce the same values up to
// floating point associativity of any surrounding reduction.
//
// Backward functors take (t, d): t is the forward quantity named in the
// functor's doc (usually the forward output) and d is the upstream gradient.
package functor

import "fmt"

// Kind identifies a functor. Backends advertise support per Kind.
type Kind int

const (
	KindTanh Kind = iota
	KindTanhBackward
	KindLogisticSigmoid
	KindLogisticSigmoidBackward
	KindRectify
	KindRectifyBackward
	KindRectifyNegateBackward
	KindSoftSign
	KindSoftSignBackward
	KindExp
	KindLog
	KindLogBackward
	KindSqrtBackward
	KindErf
	KindErfBackward
	KindNegate
	KindConstantMultiply
	KindConstantPlus
	KindConstantMinus
	KindSubtract
	KindProduct
	KindQuotient
	KindSqDist
	KindHuber
	KindHuberBackward
	KindL1Backward
	KindPairwiseRankLoss
	KindMaxBackwardInv
	KindSoftmaxNormalize
	KindSoftmaxBackward
	KindLogSoftmaxNormalize
	KindLogSoftmaxBackward
	KindNegLogSoftmaxBackward
	KindWeightedError
	KindLogGamma
	KindLogGammaBackward
	KindBinaryLogLoss
	KindBinaryLogLossBackward
	KindEuclideanBackward
	KindScale
	KindSaxpy
	KindL2SGDUpdate

	numKinds
)

var kindNames = [numKinds]string{
	"Tanh", "TanhBackward", "LogisticSigmoid", "LogisticSigmoidBackward",
	"Rectify", "RectifyBackward", "RectifyNegateBackward", "SoftSign",
	"SoftSignBackward", "Exp", "Log", "LogBackward", "SqrtBackward", "Erf",
	"ErfBackward", "Negate", "ConstantMultiply", "ConstantPlus",
	"ConstantMinus", "Subtract", "Product", "Quotient", "SqDist", "Huber",
	"HuberBackward", "L1Backward", "PairwiseRankLoss", "MaxBackwardInv",
	"SoftmaxNormalize", "SoftmaxBackward", "LogSoftmaxNormalize",
	"LogSoftmaxBackward", "NegLogSoftmaxBackward", "WeightedError",
	"LogGamma", "LogGammaBackward", "BinaryLogLoss", "BinaryLogLossBackward",
	"EuclideanBackward", "Scale", "Saxpy", "L2SGDUpdate",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds returns every known functor kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Unary is a functor of one element.
type Unary interface {
	Kind() Kind
	Apply(x float64) float64
}

// Binary is a functor of two elements.
type Binary interface {
	Kind() Kind
	Apply(a, b float64) float64
}

// MinValue replaces exact 0 and 1 probabilities in the binary log loss.
// The value is the negated smallest normal float32, kept as is.
const MinValue = -1.175494351e-38

// Sgn returns -1, 0 or 1.
func Sgn(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
