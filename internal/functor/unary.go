package functor

import "math"

type Tanh struct{}

func (Tanh) Kind() Kind { return KindTanh }
func (Tanh) Apply(x float64) float64 { return math.Tanh(x) }

type LogisticSigmoid struct{}

func (LogisticSigmoid) Kind() Kind { return KindLogisticSigmoid }
func (LogisticSigmoid) Apply(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

type Rectify struct{}

func (Rectify) Kind() Kind { return KindRectify }
func (Rectify) Apply(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

type SoftSign struct{}

func (SoftSign) Kind() Kind { return KindSoftSign }
func (SoftSign) Apply(x float64) float64 { return x / (1 + math.Abs(x)) }

type Exp struct{}

func (Exp) Kind() Kind { return KindExp }
func (Exp) Apply(x float64) float64 { return math.Exp(x) }

type Log struct{}

func (Log) Kind() Kind { return KindLog }
func (Log) Apply(x float64) float64 { return math.Log(x) }

type Erf struct{}

func (Erf) Kind() Kind { return KindErf }
func (Erf) Apply(x float64) float64 { return math.Erf(x) }

type LogGamma struct{}

func (LogGamma) Kind() Kind { return KindLogGamma }
func (LogGamma) Apply(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

type Negate struct{}

func (Negate) Kind() Kind { return KindNegate }
func (Negate) Apply(x float64) float64 { return -x }

// ConstantMultiply computes C * x.
type ConstantMultiply struct{ C float64 }

func (ConstantMultiply) Kind() Kind { return KindConstantMultiply }
func (f ConstantMultiply) Apply(x float64) float64 { return f.C * x }

// ConstantPlus computes C + x.
type ConstantPlus struct{ C float64 }

func (ConstantPlus) Kind() Kind { return KindConstantPlus }
func (f ConstantPlus) Apply(x float64) float64 { return f.C + x }

// ConstantMinus computes C - x.
type ConstantMinus struct{ C float64 }

func (ConstantMinus) Kind() Kind { return KindConstantMinus }
func (f ConstantMinus) Apply(x float64) float64 { return f.C - x }

// Scale computes A * x. It is the kernel behind in-place tensor scaling.
type Scale struct{ A float64 }

func (Scale) Kind() Kind { return KindScale }
func (f Scale) Apply(x float64) float64 { return f.A * x }

// Huber is x^2 inside [-C, C] and linear outside.
type Huber struct{ C float64 }

func (Huber) Kind() Kind { return KindHuber }
func (f Huber) Apply(x float64) float64 {
	a := math.Abs(x)
	if a < f.C {
		return x * x
	}
	return f.C * (2*a - f.C)
}

// HuberBackward maps the forward input x to dHuber/dx scaled by D.
type HuberBackward struct{ C, D float64 }

func (HuberBackward) Kind() Kind { return KindHuberBackward }
func (f HuberBackward) Apply(x float64) float64 {
	if math.Abs(x) < f.C {
		return 2 * f.D * x
	}
	return 2 * f.D * f.C * Sgn(x)
}

// L1Backward maps the forward input x to sgn(x) * D.
type L1Backward struct{ D float64 }

func (L1Backward) Kind() Kind { return KindL1Backward }
func (f L1Backward) Apply(x float64) float64 { return Sgn(x) * f.D }

// SoftmaxNormalize computes exp(x - LogZ).
type SoftmaxNormalize struct{ LogZ float64 }

func (SoftmaxNormalize) Kind() Kind { return KindSoftmaxNormalize }
func (f SoftmaxNormalize) Apply(x float64) float64 { return math.Exp(x - f.LogZ) }

// LogSoftmaxNormalize computes x - LogZ.
type LogSoftmaxNormalize struct{ LogZ float64 }

func (LogSoftmaxNormalize) Kind() Kind { return KindLogSoftmaxNormalize }
func (f LogSoftmaxNormalize) Apply(x float64) float64 { return x - f.LogZ }

// NegLogSoftmaxBackward maps an input logit t to exp(t - LogZ) * D.
type NegLogSoftmaxBackward struct{ LogZ, D float64 }

func (NegLogSoftmaxBackward) Kind() Kind { return KindNegLogSoftmaxBackward }
func (f NegLogSoftmaxBackward) Apply(t float64) float64 {
	return math.Exp(t-f.LogZ) * f.D
}
