package nodes

import (
	"fmt"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/functor"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// SquaredDistance computes ||a - b||^2 per batch element.
type SquaredDistance struct{}

func (SquaredDistance) Kind() graph.Kind { return graph.KindFunction }

func (SquaredDistance) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("squared_distance", xs, 2)
	requireSame("squared_distance", xs)
	return scalarPerBatch(xs[0])
}

func (SquaredDistance) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	sq := zeros(xs[0].D.BatchSize())
	for j := range fx.V {
		b.Zip(functor.SqDist{}, xs[0].Batch(j).V, xs[1].Batch(j).V, sq)
		var s float64
		for _, v := range sq {
			s += v
		}
		fx.V[j] = s
	}
}

func (SquaredDistance) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	for j, d := range dEdf.V {
		b.ZipAccumulate(functor.EuclideanBackward{I: i, Scalar: d}, xs[0].Batch(j).V, xs[1].Batch(j).V, dEdxi.Batch(j).V)
	}
}

func (SquaredDistance) Functors() []functor.Kind {
	return []functor.Kind{functor.KindSqDist, functor.KindEuclideanBackward}
}

func (SquaredDistance) String(args []string) string {
	return "|| " + args[0] + " - " + args[1] + " ||^2"
}

// PairwiseRankLoss computes max(0, Margin - a + b) element by element.
type PairwiseRankLoss struct{ Margin float64 }

func (PairwiseRankLoss) Kind() graph.Kind { return graph.KindFunction }

func (PairwiseRankLoss) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("pairwise_rank_loss", xs, 2)
	requireSame("pairwise_rank_loss", xs)
	return xs[0]
}

func (n PairwiseRankLoss) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	b.Zip(functor.PairwiseRankLoss{Margin: n.Margin}, xs[0].V, xs[1].V, fx.V)
}

// Only elements with a positive loss carry a gradient.
func (PairwiseRankLoss) Backward(b device.Backend, _ []*tensor.Tensor, fx, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	if i == 0 {
		b.ZipAccumulate(functor.RectifyNegateBackward{}, fx.V, dEdf.V, dEdxi.V)
		return
	}
	b.ZipAccumulate(functor.RectifyBackward{}, fx.V, dEdf.V, dEdxi.V)
}

func (PairwiseRankLoss) Functors() []functor.Kind {
	return []functor.Kind{functor.KindPairwiseRankLoss, functor.KindRectifyBackward, functor.KindRectifyNegateBackward}
}

func (n PairwiseRankLoss) String(args []string) string {
	return fmt.Sprintf("max(0, %s - %s + %s)", fmtConst(n.Margin), args[0], args[1])
}

// SquaredNorm computes ||x||^2 per batch element.
type SquaredNorm struct{}

func (SquaredNorm) Kind() graph.Kind { return graph.KindFunction }

func (SquaredNorm) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("squared_norm", xs, 1)
	return scalarPerBatch(xs[0])
}

func (SquaredNorm) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	for j := range fx.V {
		fx.V[j] = b.SquaredNorm(xs[0].Batch(j).V)
	}
}

func (SquaredNorm) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	for j, d := range dEdf.V {
		b.Axpy(2*d, xs[0].Batch(j).V, dEdxi.Batch(j).V)
	}
}

func (SquaredNorm) String(args []string) string { return "|| " + args[0] + " ||^2" }

// Huber sums the Huber loss of a - b with knee C.
type Huber struct{ C float64 }

func (Huber) Kind() graph.Kind { return graph.KindFunction }

func (Huber) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("huber_distance", xs, 2)
	requireSame("huber_distance", xs)
	return scalarPerBatch(xs[0])
}

func (n Huber) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	for j := range fx.V {
		diff := zeros(xs[0].D.BatchSize())
		b.Zip(functor.Subtract{}, xs[0].Batch(j).V, xs[1].Batch(j).V, diff)
		b.Map(functor.Huber{C: n.C}, diff, diff)
		var s float64
		for _, v := range diff {
			s += v
		}
		fx.V[j] = s
	}
}

func (n Huber) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	for j, d := range dEdf.V {
		if i == 1 {
			d = -d
		}
		diff := zeros(xs[0].D.BatchSize())
		b.Zip(functor.Subtract{}, xs[0].Batch(j).V, xs[1].Batch(j).V, diff)
		b.MapAccumulate(functor.HuberBackward{C: n.C, D: d}, diff, dEdxi.Batch(j).V)
	}
}

func (Huber) Functors() []functor.Kind {
	return []functor.Kind{functor.KindSubtract, functor.KindHuber, functor.KindHuberBackward}
}

func (n Huber) String(args []string) string {
	return fmt.Sprintf("huber_distance(%s, %s, c=%g)", args[0], args[1], n.C)
}

// BinaryLogLoss is the cross entropy of predictions x against targets y.
// Only x receives a gradient.
type BinaryLogLoss struct{}

func (BinaryLogLoss) Kind() graph.Kind { return graph.KindFunction }

func (BinaryLogLoss) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("binary_log_loss", xs, 2)
	requireSame("binary_log_loss", xs)
	return scalarPerBatch(xs[0])
}

func (BinaryLogLoss) Forward(b device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	for j := range fx.V {
		loss := zeros(xs[0].D.BatchSize())
		b.Zip(functor.BinaryLogLoss{}, xs[0].Batch(j).V, xs[1].Batch(j).V, loss)
		var s float64
		for _, v := range loss {
			s += v
		}
		fx.V[j] = s
	}
}

func (BinaryLogLoss) Backward(b device.Backend, xs []*tensor.Tensor, _, dEdf *tensor.Tensor, i int, dEdxi *tensor.Tensor) {
	if i != 0 {
		return
	}
	for j, d := range dEdf.V {
		b.ZipAccumulate(functor.BinaryLogLossBackward{D: d}, xs[0].Batch(j).V, xs[1].Batch(j).V, dEdxi.Batch(j).V)
	}
}

func (BinaryLogLoss) Functors() []functor.Kind {
	return []functor.Kind{functor.KindBinaryLogLoss, functor.KindBinaryLogLossBackward}
}

func (BinaryLogLoss) String(args []string) string {
	return "binary_log_loss(" + args[0] + ", " + args[1] + ")"
}

// PickNegLogSoftmax is -log softmax(x)[pick] for a column vector x, with
// one pick per batch element. Picks is read on every forward pass.
type PickNegLogSoftmax struct {
	Picks []int
}

func (*PickNegLogSoftmax) Kind() graph.Kind { return graph.KindFunction }

func (n *PickNegLogSoftmax) Dim(xs []tensor.Dim) tensor.Dim {
	requireArity("pickneglogsoftmax", xs, 1)
	if xs[0].NDims() != 1 || xs[0].Batch() != len(n.Picks) {
		panic(shapeError(fmt.Sprintf("pickneglogsoftmax with %d picks", len(n.Picks)), xs))
	}
	return scalarPerBatch(xs[0])
}

func (n *PickNegLogSoftmax) pick(j, rows int) int {
	p := n.Picks[j]
	if p < 0 || p >= rows {
		panic(fmt.Sprintf("nodes: pick %d out of range [0,%d)", p, rows))
	}
	return p
}

func (n *PickNegLogSoftmax) Forward(_ device.Backend, xs []*tensor.Tensor, fx *tensor.Tensor) {
	for j := range fx.V {
		col := xs[0].Batch(j).V
		fx.V[j] = functor.LogSumExp(col) - col[n.pick(j, len(col))]
	}
}

// The log partition is recovered from the node value: logz = fx + x[pick].
func (n *PickNegLogSoftmax) Backward(b device.Backend, xs []*tensor.Tensor, fx, dEdf *tensor.Tensor, _ int, dEdxi *tensor.Tensor) {
	for j, d := range dEdf.V {
		col := xs[0].Batch(j).V
		p := n.pick(j, len(col))
		logz := fx.V[j] + col[p]
		out := dEdxi.Batch(j).V
		b.MapAccumulate(functor.NegLogSoftmaxBackward{LogZ: logz, D: d}, col, out)
		out[p] -= d
	}
}

func (*PickNegLogSoftmax) Functors() []functor.Kind {
	return []functor.Kind{functor.KindNegLogSoftmaxBackward}
}

func (n *PickNegLogSoftmax) String(args []string) string {
	if len(n.Picks) == 1 {
		return fmt.Sprintf("log_softmax(%s)_{%d}", args[0], n.Picks[0])
	}
	return fmt.Sprintf("log_softmax(%s)_{%v}", args[0], n.Picks)
}

