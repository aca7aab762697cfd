// Package device holds the numeric backends that node implementations run
// on. A Backend is a kernel set over host float64 slices; the engine picks
// one at construction and every node of a graph evaluates through it.
package device

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-cnn/internal/functor"
)

// ID tags where a tensor's buffer lives.
type ID int

// Host is the device tag of the serial CPU backend.
const Host ID = 0

// Accelerator returns the tag of the vectorized device with the given index.
func Accelerator(index int) ID {
	return ID(index + 1)
}

func (id ID) String() string {
	if id == Host {
		return "host"
	}
	return fmt.Sprintf("accel:%d", int(id)-1)
}

// ErrUnsupported is wrapped by every UnsupportedError.
var ErrUnsupported = errors.New("operation not supported by backend")

// UnsupportedError reports a functor a backend cannot evaluate.
type UnsupportedError struct {
	Backend string
	Kind    functor.Kind
	Op      string
}

func (e *UnsupportedError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s backend: %s requires %s: %v", e.Backend, e.Op, e.Kind, ErrUnsupported)
	}
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Kind, ErrUnsupported)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Backend evaluates elementwise functors and BLAS style kernels.
// Accumulating variants add into out instead of overwriting it.
type Backend interface {
	Name() string
	Device() ID

	// Supports reports whether the functor can run on this backend.
	Supports(k functor.Kind) bool

	// Map performs out[i] = f(x[i]).
	Map(f functor.Unary, x, out []float64)
	// MapAccumulate performs out[i] += f(x[i]).
	MapAccumulate(f functor.Unary, x, out []float64)
	// Zip performs out[i] = f(a[i], b[i]).
	Zip(f functor.Binary, a, b, out []float64)
	// ZipAccumulate performs out[i] += f(a[i], b[i]).
	ZipAccumulate(f functor.Binary, a, b, out []float64)

	// Axpy performs y += alpha * x.
	Axpy(alpha float64, x, y []float64)
	// Scal performs x *= alpha.
	Scal(alpha float64, x []float64)
	Dot(x, y []float64) float64
	SquaredNorm(x []float64) float64
	// Clip clamps every element of x into [-thr, thr].
	Clip(x []float64, thr float64)

	// Gemm computes c = alpha * op(a) * op(b) + beta * c on row-major
	// buffers, with op(a) m x k and op(b) k x n.
	Gemm(transA, transB bool, m, n, k int, alpha float64, a, b []float64, beta float64, c []float64)

	// Synchronize blocks until queued work is complete.
	Synchronize()
}

// Check panics with an UnsupportedError if b cannot run k.
func Check(b Backend, k functor.Kind, op string) {
	if !b.Supports(k) {
		panic(&UnsupportedError{Backend: b.Name(), Kind: k, Op: op})
	}
}

func checkLen(op string, n int, bufs ...[]float64) {
	for _, b := range bufs {
		if len(b) != n {
			panic(fmt.Sprintf("%s: length mismatch %d != %d", op, len(b), n))
		}
	}
}
