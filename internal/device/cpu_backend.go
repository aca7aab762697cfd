package device

import (
	"github.com/23skdu/longbow-cnn/internal/functor"
	"github.com/23skdu/longbow-cnn/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)

// CPUBackend runs every kernel as a serial host loop.
type CPUBackend struct{}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string { return "CPU" }

func (b *CPUBackend) Device() ID { return Host }

// Supports is true for the whole functor library.
func (b *CPUBackend) Supports(functor.Kind) bool { return true }

func (b *CPUBackend) Map(f functor.Unary, x, out []float64) {
	checkLen("Map", len(out), x)
	for i, v := range x {
		out[i] = f.Apply(v)
	}
}

func (b *CPUBackend) MapAccumulate(f functor.Unary, x, out []float64) {
	checkLen("MapAccumulate", len(out), x)
	for i, v := range x {
		out[i] += f.Apply(v)
	}
}

func (b *CPUBackend) Zip(f functor.Binary, x, y, out []float64) {
	checkLen("Zip", len(out), x, y)
	for i := range out {
		out[i] = f.Apply(x[i], y[i])
	}
}

func (b *CPUBackend) ZipAccumulate(f functor.Binary, x, y, out []float64) {
	checkLen("ZipAccumulate", len(out), x, y)
	for i := range out {
		out[i] += f.Apply(x[i], y[i])
	}
}

func (b *CPUBackend) Axpy(alpha float64, x, y []float64) {
	checkLen("Axpy", len(y), x)
	simd.Axpy(alpha, x, y)
}

func (b *CPUBackend) Scal(alpha float64, x []float64) {
	simd.VecScale(x, alpha)
}

func (b *CPUBackend) Dot(x, y []float64) float64 {
	checkLen("Dot", len(x), y)
	return simd.DotProduct(x, y)
}

func (b *CPUBackend) SquaredNorm(x []float64) float64 {
	return simd.SquaredNorm(x)
}

func (b *CPUBackend) Clip(x []float64, thr float64) {
	simd.VecClip(x, thr)
}

func (b *CPUBackend) Gemm(transA, transB bool, m, n, k int, alpha float64, x, y []float64, beta float64, out []float64) {
	checkLen("Gemm(a)", m*k, x)
	checkLen("Gemm(b)", k*n, y)
	checkLen("Gemm(c)", m*n, out)
	simd.Gemm(transA, transB, m, n, k, alpha, x, y, beta, out)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}
