// Package expr is the builder API graph clients use. Every function adds
// one node to the graph of its arguments and returns the new expression.
package expr

import (
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/model"
	"github.com/23skdu/longbow-cnn/internal/nodes"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Expression is a node of a graph.
type Expression struct {
	G *graph.Graph
	I graph.VariableIndex
}

// Dim returns the shape of the expression's value.
func (e Expression) Dim() tensor.Dim { return e.G.Node(e.I).Dim }

func add(g *graph.Graph, op graph.Op, xs ...Expression) Expression {
	args := make([]graph.VariableIndex, len(xs))
	for j, x := range xs {
		if x.G != g {
			panic("expr: arguments belong to different graphs")
		}
		args[j] = x.I
	}
	return Expression{G: g, I: g.AddNode(op, args...)}
}

func unary(op graph.Op, x Expression) Expression { return add(x.G, op, x) }

func binary(op graph.Op, a, b Expression) Expression { return add(a.G, op, a, b) }

// Input adds a constant whose values may be updated in place between
// passes.
func Input(g *graph.Graph, d tensor.Dim, values []float64) Expression {
	return add(g, nodes.NewInput(d, values))
}

// Scalar adds a single constant read through v.
func Scalar(g *graph.Graph, v *float64) Expression {
	return add(g, &nodes.ScalarInput{Value: v})
}

func Parameter(g *graph.Graph, p *model.Parameters) Expression {
	return add(g, &nodes.Parameter{P: p})
}

func ConstParameter(g *graph.Graph, p *model.Parameters) Expression {
	return add(g, &nodes.ConstParameter{P: p})
}

// Lookup adds row index of lp.
func Lookup(g *graph.Graph, lp *model.LookupParameters, index int) Expression {
	return add(g, &nodes.Lookup{Table: lp, Indices: []int{index}})
}

// LookupBatch adds a batched lookup, one row per batch element. indices
// is read on every forward pass.
func LookupBatch(g *graph.Graph, lp *model.LookupParameters, indices []int) Expression {
	return add(g, &nodes.Lookup{Table: lp, Indices: indices})
}

func Sum(xs ...Expression) Expression {
	if len(xs) == 0 {
		panic("expr: Sum of nothing")
	}
	return add(xs[0].G, nodes.Sum{}, xs...)
}

func Add(a, b Expression) Expression { return binary(nodes.Sum{}, a, b) }

func Sub(a, b Expression) Expression { return binary(nodes.Sub{}, a, b) }

func Negate(x Expression) Expression { return unary(nodes.Negate{}, x) }

// ConstantMinus computes c - x.
func ConstantMinus(c float64, x Expression) Expression { return unary(nodes.ConstantMinus{C: c}, x) }

// ConstantPlus computes x + c.
func ConstantPlus(x Expression, c float64) Expression { return unary(nodes.ConstantPlus{C: c}, x) }

// ConstantMultiply computes c * x.
func ConstantMultiply(x Expression, c float64) Expression {
	return unary(nodes.ConstantMultiply{C: c}, x)
}

func CwiseMultiply(a, b Expression) Expression { return binary(nodes.CwiseMultiply{}, a, b) }

// MatMul computes a * b.
func MatMul(a, b Expression) Expression { return binary(nodes.MatrixMultiply{}, a, b) }

// Affine computes b + W1*x1 + W2*x2 + ... for pairs (W, x).
func Affine(b Expression, pairs ...Expression) Expression {
	if len(pairs)%2 != 0 {
		panic("expr: Affine needs (W, x) pairs")
	}
	terms := []Expression{b}
	for j := 0; j < len(pairs); j += 2 {
		terms = append(terms, MatMul(pairs[j], pairs[j+1]))
	}
	return Sum(terms...)
}

func DotProduct(a, b Expression) Expression { return binary(nodes.DotProduct{}, a, b) }

func CwiseQuotient(a, b Expression) Expression { return binary(nodes.CwiseQuotient{}, a, b) }

// Max is the elementwise maximum of a and b.
func Max(a, b Expression) Expression { return binary(nodes.Max{}, a, b) }

func SumElements(x Expression) Expression { return unary(nodes.SumElements{}, x) }

func Tanh(x Expression) Expression { return unary(nodes.NewTanh(), x) }

func Logistic(x Expression) Expression { return unary(nodes.NewLogisticSigmoid(), x) }

func Rectify(x Expression) Expression { return unary(nodes.NewRectify(), x) }

func SoftSign(x Expression) Expression { return unary(nodes.NewSoftSign(), x) }

func Exp(x Expression) Expression { return unary(nodes.NewExp(), x) }

func Log(x Expression) Expression { return unary(nodes.NewLog(), x) }

func LogGamma(x Expression) Expression { return unary(nodes.NewLogGamma(), x) }

func Erf(x Expression) Expression { return unary(nodes.NewErf(), x) }

func SquaredDistance(a, b Expression) Expression { return binary(nodes.SquaredDistance{}, a, b) }

func SquaredNorm(x Expression) Expression { return unary(nodes.SquaredNorm{}, x) }

// PairwiseRankLoss is max(0, margin - a + b) element by element.
func PairwiseRankLoss(a, b Expression, margin float64) Expression {
	return binary(nodes.PairwiseRankLoss{Margin: margin}, a, b)
}

func Softmax(x Expression) Expression { return unary(nodes.Softmax{}, x) }

func LogSoftmax(x Expression) Expression { return unary(nodes.LogSoftmax{}, x) }

func Huber(a, b Expression, c float64) Expression { return binary(nodes.Huber{C: c}, a, b) }

// BinaryLogLoss is the cross entropy of predictions x against targets y.
func BinaryLogLoss(x, y Expression) Expression { return binary(nodes.BinaryLogLoss{}, x, y) }

// PickNegLogSoftmax is -log softmax(x)[pick].
func PickNegLogSoftmax(x Expression, pick int) Expression {
	return unary(&nodes.PickNegLogSoftmax{Picks: []int{pick}}, x)
}

// PickNegLogSoftmaxBatch picks one entry per batch element of x.
func PickNegLogSoftmaxBatch(x Expression, picks []int) Expression {
	return unary(&nodes.PickNegLogSoftmax{Picks: picks}, x)
}
