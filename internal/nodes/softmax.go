package nodes

import (
	"fmt"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/functor"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// columns calls fn for every column of every batch element of d.
func columns(d tensor.Dim, fn func(lo, hi int)) {
	rows := d.Rows()
	for lo := 0; lo < d.Size(); lo += rows {
		fn(lo, lo+rows)
	}
}

func requireColumns(op string, xs []tensor.Dim) {
	requireArity(op, xs, 1)
	if xs[0].NDims() > 2 {
		panic(shapeError(op, xs))
	}
}

// Softmax normalizes every column of its argument.
type Softmax struct{}

func (Softmax) Kind() graph.Kind { return graph.KindFunction }

func (Softmax) Dim(xs []tensor.Dim) tensor.Dim {
	requireColumns("softmax", xs)
	return xs[0]
}

func (Softmax) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	columns(fx.D, func(lo, hi int) {
		col := xs[0].V[lo:hi]
		b.Map(functor.SoftmaxNormalize{LogZ: functor.LogSumExp(col)}, col, fx.V[lo:hi])
	})
}

func (Softmax) Backward(b device.Backend, _ []*tensor.Tensor, fx, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	columns(fx.D, func(lo, hi int) {
		y, d := fx.V[lo:hi], dEdf.V[lo:hi]
		b.ZipAccumulate(functor.SoftmaxBackward{OffDiagSum: -b.Dot(y, d)}, y, d, dEdxi.V[lo:hi])
	})
}

func (Softmax) Functors() []functor.Kind {
	return []functor.Kind{functor.KindSoftmaxNormalize, functor.KindSoftmaxBackward}
}

func (Softmax) String(args []string) string { return fmt.Sprintf("softmax(%s)", args[0]) }

// LogSoftmax is log(softmax(x)) for every column of x.
type LogSoftmax struct{}

func (LogSoftmax) Kind() graph.Kind { return graph.KindFunction }

func (LogSoftmax) Dim(xs []tensor.Dim) tensor.Dim {
	requireColumns("log_softmax", xs)
	return xs[0]
}

func (LogSoftmax) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	columns(fx.D, func(lo, hi int) {
		col := xs[0].V[lo:hi]
		b.Map(functor.LogSoftmaxNormalize{LogZ: functor.LogSumExp(col)}, col, fx.V[lo:hi])
	})
}

func (LogSoftmax) Backward(b device.Backend, _ []*tensor.Tensor, fx, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	columns(fx.D, func(lo, hi int) {
		d := dEdf.V[lo:hi]
		var sum float64
		for _, v := range d {
			sum += v
		}
		b.ZipAccumulate(functor.LogSoftmaxBackward{OffDiagSum: -sum}, fx.V[lo:hi], d, dEdxi.V[lo:hi])
	})
}

func (LogSoftmax) Functors() []functor.Kind {
	return []functor.Kind{functor.KindLogSoftmaxNormalize, functor.KindLogSoftmaxBackward}
}

func (LogSoftmax) String(args []string) string { return fmt.Sprintf("log_softmax(%s)", args[0]) }
