package nodes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/functor"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Sum adds any number of equally shaped arguments.
type Sum struct{}

func (Sum) Kind() graph.Kind { return graph.KindFunction }

func (Sum) Dim(xs []tensor.Dim) tensor.Dim {
	requireSame("sum", xs)
	return xs[0]
}

func (Sum) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	copy(fx.V, xs[0].V)
	for _, x := range xs[1:] {
		b.Axpy(1, x.V, fx.V)
	}
}

func (Sum) Backward(b device.Backend, _ []*tensor.Tensor, _, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	b.Axpy(1, dEdf.V, dEdxi.V)
}

func (Sum) String(args []string) string { return strings.Join(args, " + ") }

// Sub computes a - b.
type Sub struct{}

func (Sub) Kind() graph.Kind { return graph.KindFunction }

func (Sub) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("sub", xs, 2)
	requireSame("sub", xs)
	return xs[0]
}

func (Sub) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Zip(functor.Subtract{}, xs[0].V, xs[1].V, fx.V)
}

func (Sub) Backward(b device.Backend, _ []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	alpha := 1.0
	if i == 1 {
		alpha = -1
	}
	b.Axpy(alpha, dEdf.V, dEdxi.V)
}

func (Sub) Functors() []functor.Kind { return []functor.Kind{functor.KindSubtract} }

func (Sub) String(args []string) string { return args[0] + " - " + args[1] }

// Negate computes -x.
type Negate struct{}

func (Negate) Kind() graph.Kind { return graph.KindFunction }

func (Negate) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("negate", xs, 1)
	return xs[0]
}

func (Negate) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Map(functor.Negate{}, xs[0].V, fx.V)
}

func (Negate) Backward(b device.Backend, _ []*tensor.Tensor, _, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	b.Axpy(-1, dEdf.V, dEdxi.V)
}

func (Negate) Functors() []functor.Kind { return []functor.Kind{functor.KindNegate} }

func (Negate) String(args []string) string { return "-" + args[0] }

func fmtConst(c float64) string { return strconv.FormatFloat(c, 'g', -1, 64) }

// ConstantMinus computes C - x.
type ConstantMinus struct{ C float64 }

func (ConstantMinus) Kind() graph.Kind { return graph.KindFunction }

func (ConstantMinus) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("constant_minus", xs, 1)
	return xs[0]
}

func (n ConstantMinus) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Map(functor.ConstantMinus{C: n.C}, xs[0].V, fx.V)
}

func (ConstantMinus) Backward(b device.Backend, _ []*tensor.Tensor, _, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	b.Axpy(-1, dEdf.V, dEdxi.V)
}

func (ConstantMinus) Functors() []functor.Kind { return []functor.Kind{functor.KindConstantMinus} }

func (n ConstantMinus) String(args []string) string { return fmtConst(n.C) + " - " + args[0] }

// ConstantPlus computes x + C.
type ConstantPlus struct{ C float64 }

func (ConstantPlus) Kind() graph.Kind { return graph.KindFunction }

func (ConstantPlus) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("constant_plus", xs, 1)
	return xs[0]
}

func (n ConstantPlus) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Map(functor.ConstantPlus{C: n.C}, xs[0].V, fx.V)
}

func (ConstantPlus) Backward(b device.Backend, _ []*tensor.Tensor, _, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	b.Axpy(1, dEdf.V, dEdxi.V)
}

func (ConstantPlus) Functors() []functor.Kind { return []functor.Kind{functor.KindConstantPlus} }

func (n ConstantPlus) String(args []string) string { return args[0] + " + " + fmtConst(n.C) }

// ConstantMultiply computes C * x.
type ConstantMultiply struct{ C float64 }

func (ConstantMultiply) Kind() graph.Kind { return graph.KindFunction }

func (ConstantMultiply) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("constant_multiply", xs, 1)
	return xs[0]
}

func (n ConstantMultiply) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Map(functor.ConstantMultiply{C: n.C}, xs[0].V, fx.V)
}

func (n ConstantMultiply) Backward(b device.Backend, _ []*tensor.Tensor, _, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	b.Axpy(n.C, dEdf.V, dEdxi.V)
}

func (ConstantMultiply) Functors() []functor.Kind {
	return []functor.Kind{functor.KindConstantMultiply}
}

func (n ConstantMultiply) String(args []string) string { return args[0] + " * " + fmtConst(n.C) }

// CwiseMultiply is the elementwise product of two equally shaped values.
type CwiseMultiply struct{}

func (CwiseMultiply) Kind() graph.Kind { return graph.KindFunction }

func (CwiseMultiply) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("cwise_multiply", xs, 2)
	requireSame("cwise_multiply", xs)
	return xs[0]
}

func (CwiseMultiply) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Zip(functor.Product{}, xs[0].V, xs[1].V, fx.V)
}

func (CwiseMultiply) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	b.ZipAccumulate(functor.Product{}, dEdf.V, xs[1-i].V, dEdxi.V)
}

func (CwiseMultiply) Functors() []functor.Kind { return []functor.Kind{functor.KindProduct} }

func (CwiseMultiply) String(args []string) string {
	return "cwise_multiply(" + args[0] + ", " + args[1] + ")"
}

// CwiseQuotient is the elementwise quotient a / b.
type CwiseQuotient struct{}

func (CwiseQuotient) Kind() graph.Kind { return graph.KindFunction }

func (CwiseQuotient) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("cwise_quotient", xs, 2)
	requireSame("cwise_quotient", xs)
	return xs[0]
}

func (CwiseQuotient) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Zip(functor.Quotient{}, xs[0].V, xs[1].V, fx.V)
}

// d(a/b)/db = -fx / b.
func (CwiseQuotient) Backward(b device.Backend, xs []*tensor.Tensor, fx, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	if i == 0 {
		b.ZipAccumulate(functor.Quotient{}, dEdf.V, xs[1].V, dEdxi.V)
		return
	}
	tmp := zeros(len(fx.V))
	b.Zip(functor.Product{}, dEdf.V, fx.V, tmp)
	b.Zip(functor.Quotient{}, tmp, xs[1].V, tmp)
	b.Axpy(-1, tmp, dEdxi.V)
}

func (CwiseQuotient) Functors() []functor.Kind {
	return []functor.Kind{functor.KindQuotient, functor.KindProduct}
}

func (CwiseQuotient) String(args []string) string {
	return "cwise_quotient(" + args[0] + ", " + args[1] + ")"
}

// Max is the elementwise maximum of two values. Ties go to the first.
type Max struct{}

func (Max) Kind() graph.Kind { return graph.KindFunction }

func (Max) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("max", xs, 2)
	requireSame("max", xs)
	return xs[0]
}

func (Max) Forward(_ device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	for k, a := range xs[0].V {
		fx.V[k] = max(a, xs[1].V[k])
	}
}

// firstWins is 1 where the first argument was selected.
func (Max) firstWins(xs []*tensor.Tensor) []float64 {
	u := zeros(len(xs[0].V))
	for k, a := range xs[0].V {
		if a >= xs[1].V[k] {
			u[k] = 1
		}
	}
	return u
}

func (n Max) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	u := n.firstWins(xs)
	if i == 0 {
		b.ZipAccumulate(functor.Product{}, u, dEdf.V, dEdxi.V)
		return
	}
	b.ZipAccumulate(functor.MaxBackwardInv{}, u, dEdf.V, dEdxi.V)
}

func (Max) Functors() []functor.Kind {
	return []functor.Kind{functor.KindProduct, functor.KindMaxBackwardInv}
}

func (Max) String(args []string) string { return "max(" + args[0] + ", " + args[1] + ")" }

// MatrixMultiply computes A * B for A of shape {m,k} and B of shape
// {k,n} or {k}. B may be batched; A may not.
type MatrixMultiply struct{}

func (MatrixMultiply) Kind() graph.Kind { return graph.KindFunction }

func (MatrixMultiply) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("matrix_multiply", xs, 2)
	a, b := xs[0], xs[1]
	if a.NDims() > 2 || b.NDims() > 2 || a.Cols() != b.Rows() || a.Batch() != 1 {
		panic(shapeError("matrix_multiply", xs))
	}
	if b.NDims() < 2 {
		return tensor.NewBatchDim([]int{a.Rows()}, b.Batch())
	}
	return tensor.NewBatchDim([]int{a.Rows(), b.Cols()}, b.Batch())
}

// Column-major m x k is row-major k x m, so C = A*B is computed as the
// row-major product C^T = B^T * A^T over the same buffers.
func (MatrixMultiply) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	a := xs[0]
	m, k := a.D.Rows(), a.D.Cols()
	n := xs[1].D.Cols()
	for i := 0; i < xs[1].D.Batch(); i++ {
		b.Gemm(false, false, n, m, k, 1, xs[1].Batch(i).V, a.V, 0, fx.Batch(i).V)
	}
}

func (MatrixMultiply) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	a := xs[0]
	m, k := a.D.Rows(), a.D.Cols()
	n := xs[1].D.Cols()
	for j := 0; j < xs[1].D.Batch(); j++ {
		d := dEdf.Batch(j).V
		if i == 0 {
			// dA = dEdf * B^T
			b.Gemm(true, false, k, m, n, 1, xs[1].Batch(j).V, d, 1, dEdxi.V)
		} else {
			// dB = A^T * dEdf
			b.Gemm(false, true, n, k, m, 1, d, a.V, 1, dEdxi.Batch(j).V)
		}
	}
}

func (MatrixMultiply) String(args []string) string { return args[0] + " * " + args[1] }

// DotProduct is the inner product of two equally shaped values, one
// scalar per batch element.
type DotProduct struct{}

func (DotProduct) Kind() graph.Kind { return graph.KindFunction }

func (DotProduct) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("dot_product", xs, 2)
	requireSame("dot_product", xs)
	return scalarPerBatch(xs[0])
}

func (DotProduct) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	for i := range fx.V {
		fx.V[i] = b.Dot(xs[0].Batch(i).V, xs[1].Batch(i).V)
	}
}

func (DotProduct) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	for j, d := range dEdf.V {
		b.Axpy(d, xs[1-i].Batch(j).V, dEdxi.Batch(j).V)
	}
}

func (DotProduct) String(args []string) string {
	return "dot_product(" + args[0] + "," + args[1] + ")"
}

// SumElements sums every element of a batch element.
type SumElements struct{}

func (SumElements) Kind() graph.Kind { return graph.KindFunction }

func (SumElements) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("sum_elements", xs, 1)
	return scalarPerBatch(xs[0])
}

func (SumElements) Forward(_ device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	for i := range fx.V {
		var s float64
		for _, v := range xs[0].Batch(i).V {
			s += v
		}
		fx.V[i] = s
	}
}

func (SumElements) Backward(_ device.Backend, _ []*tensor.Tensor, _, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	for j, d := range dEdf.V {
		out := dEdxi.Batch(j).V
		for k := range out {
			out[k] += d
		}
	}
}

func (SumElements) String(args []string) string { return fmt.Sprintf("sum_elements(%s)", args[0]) }

func zeros(n int) []float64 { return make([]float64, n) }
