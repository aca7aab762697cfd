package nodes

import (
	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/functor"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Elementwise applies a unary functor. Its backward functor receives the
// node value, or the argument when FromInput is set, together with the
// upstream gradient.
type Elementwise struct {
	Name      string
	Fwd       functor.Unary
	Bwd       functor.Binary
	FromInput bool
}

func NewTanh() *Elementwise {
	return &Elementwise{Name: "tanh", Fwd: functor.Tanh{}, Bwd: functor.TanhBackward{}}
}

func NewLogisticSigmoid() *Elementwise {
	return &Elementwise{Name: "logistic", Fwd: functor.LogisticSigmoid{}, Bwd: functor.LogisticSigmoidBackward{}}
}

func NewRectify() *Elementwise {
	return &Elementwise{Name: "ReLU", Fwd: functor.Rectify{}, Bwd: functor.RectifyBackward{}}
}

func NewSoftSign() *Elementwise {
	return &Elementwise{Name: "softsign", Fwd: functor.SoftSign{}, Bwd: functor.SoftSignBackward{}}
}

// NewExp differentiates as exp(x) * d, the node value times the gradient.
func NewExp() *Elementwise {
	return &Elementwise{Name: "exp", Fwd: functor.Exp{}, Bwd: functor.Product{}}
}

func NewLog() *Elementwise {
	return &Elementwise{Name: "log", Fwd: functor.Log{}, Bwd: functor.LogBackward{}, FromInput: true}
}

func NewLogGamma() *Elementwise {
	return &Elementwise{Name: "lgamma", Fwd: functor.LogGamma{}, Bwd: functor.LogGammaBackward{}, FromInput: true}
}

func NewErf() *Elementwise {
	return &Elementwise{Name: "erf", Fwd: functor.Erf{}, Bwd: functor.ErfBackward{}, FromInput: true}
}

func (n *Elementwise) Kind() graph.Kind { return graph.KindFunction }

func (n *Elementwise) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity(n.Name, xs, 1)
	return xs[0]
}

func (n *Elementwise) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Map(n.Fwd, xs[0].V, fx.V)
}

func (n *Elementwise) Backward(b device.Backend, xs []*tensor.Tensor, fx, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	src := fx
	if n.FromInput {
		src = xs[0]
	}
	b.ZipAccumulate(n.Bwd, src.V, dEdf.V, dEdxi.V)
}

func (n *Elementwise) Functors() []functor.Kind {
	return []functor.Kind{n.Fwd.Kind(), n.Bwd.Kind()}
}

func (n *Elementwise) String(args []string) string { return n.Name + "(" + args[0] + ")" }
