package device

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/23skdu/longbow-cnn/internal/functor"
)

// ensure interface compliance
var _ Backend = (*BLASBackend)(nil)

// numWorkers defines the default parallelism for chunked functor kernels.
var numWorkers = runtime.NumCPU()

// DefaultChunkSize is the smallest slice a BLASBackend splits across
// workers. Shorter buffers run on the calling goroutine.
const DefaultChunkSize = 1 << 14

// BLASBackend runs level-1 and level-3 kernels through gonum's blas64
// (netlib when built with the netlib tag) and splits elementwise functor
// application into parallel chunks. Every call returns only after all of
// its chunks are done.
type BLASBackend struct {
	device    ID
	chunkSize int
	workers   int
}

// NewBLASBackend returns a vectorized backend pinned to accelerator 0.
func NewBLASBackend() *BLASBackend {
	return &BLASBackend{
		device:    Accelerator(0),
		chunkSize: DefaultChunkSize,
		workers:   numWorkers,
	}
}

// SetDevice pins the backend to the accelerator with the given index.
func (b *BLASBackend) SetDevice(index int) {
	b.device = Accelerator(index)
}

// SetChunkSize changes the parallel split threshold. Values below 1 are
// ignored.
func (b *BLASBackend) SetChunkSize(n int) {
	if n > 0 {
		b.chunkSize = n
	}
}

func (b *BLASBackend) Name() string { return "BLAS" }

func (b *BLASBackend) Device() ID { return b.device }

// Supports reports false for functors with no vectorized form. The digamma
// in LogGammaBackward is the only one today.
func (b *BLASBackend) Supports(k functor.Kind) bool {
	return k != functor.KindLogGammaBackward
}

// parallel runs fn over [lo, hi) chunks covering [0, n).
func (b *BLASBackend) parallel(n int, fn func(lo, hi int)) {
	if n <= b.chunkSize || b.workers < 2 {
		fn(0, n)
		return
	}
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(b.workers)
	chunks := 0
	for lo := 0; lo < n; lo += b.chunkSize {
		hi := min(lo+b.chunkSize, n)
		chunks++
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &chunkPanic{value: r}
				}
			}()
			fn(lo, hi)
			return nil
		})
	}
	err := g.Wait()
	parallelChunks.Add(float64(chunks))
	kernelDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		// chunk panics surface on the calling goroutine
		panic(err.(*chunkPanic).value)
	}
}

// chunkPanic carries a panic out of a chunk goroutine.
type chunkPanic struct{ value any }

func (p *chunkPanic) Error() string { return fmt.Sprintf("device: chunk panicked: %v", p.value) }

func (b *BLASBackend) Map(f functor.Unary, x, out []float64) {
	Check(b, f.Kind(), "Map")
	checkLen("Map", len(out), x)
	b.parallel(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = f.Apply(x[i])
		}
	})
}

func (b *BLASBackend) MapAccumulate(f functor.Unary, x, out []float64) {
	Check(b, f.Kind(), "MapAccumulate")
	checkLen("MapAccumulate", len(out), x)
	b.parallel(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] += f.Apply(x[i])
		}
	})
}

func (b *BLASBackend) Zip(f functor.Binary, x, y, out []float64) {
	Check(b, f.Kind(), "Zip")
	checkLen("Zip", len(out), x, y)
	b.parallel(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = f.Apply(x[i], y[i])
		}
	})
}

func (b *BLASBackend) ZipAccumulate(f functor.Binary, x, y, out []float64) {
	Check(b, f.Kind(), "ZipAccumulate")
	checkLen("ZipAccumulate", len(out), x, y)
	b.parallel(len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] += f.Apply(x[i], y[i])
		}
	})
}

func vec(x []float64) blas64.Vector {
	return blas64.Vector{N: len(x), Inc: 1, Data: x}
}

func (b *BLASBackend) Axpy(alpha float64, x, y []float64) {
	checkLen("Axpy", len(y), x)
	if len(y) == 0 {
		return
	}
	blas64.Axpy(alpha, vec(x), vec(y))
}

func (b *BLASBackend) Scal(alpha float64, x []float64) {
	if len(x) == 0 {
		return
	}
	blas64.Scal(alpha, vec(x))
}

func (b *BLASBackend) Dot(x, y []float64) float64 {
	checkLen("Dot", len(x), y)
	if len(x) == 0 {
		return 0
	}
	return blas64.Dot(vec(x), vec(y))
}

func (b *BLASBackend) SquaredNorm(x []float64) float64 {
	return b.Dot(x, x)
}

func (b *BLASBackend) Clip(x []float64, thr float64) {
	b.parallel(len(x), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if x[i] > thr {
				x[i] = thr
			} else if x[i] < -thr {
				x[i] = -thr
			}
		}
	})
}

func (b *BLASBackend) Gemm(transA, transB bool, m, n, k int, alpha float64, x, y []float64, beta float64, out []float64) {
	checkLen("Gemm(a)", m*k, x)
	checkLen("Gemm(b)", k*n, y)
	checkLen("Gemm(c)", m*n, out)
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		b.Scal(beta, out)
		return
	}
	ta, a := blas.NoTrans, blas64.General{Rows: m, Cols: k, Stride: k, Data: x}
	if transA {
		ta, a = blas.Trans, blas64.General{Rows: k, Cols: m, Stride: m, Data: x}
	}
	tb, bm := blas.NoTrans, blas64.General{Rows: k, Cols: n, Stride: n, Data: y}
	if transB {
		tb, bm = blas.Trans, blas64.General{Rows: n, Cols: k, Stride: k, Data: y}
	}
	blas64.Gemm(ta, tb, alpha, a, bm, beta, blas64.General{Rows: m, Cols: n, Stride: n, Data: out})
}

func (b *BLASBackend) Synchronize() {
	// blas64 calls return after completion; chunked kernels wait on their group.
}

// Select returns the backend registered under name ("cpu" or "blas").
func Select(name string) (Backend, bool) {
	switch name {
	case "cpu", "CPU", "":
		return NewCPUBackend(), true
	case "blas", "BLAS":
		return NewBLASBackend(), true
	}
	log.Warn().Str("backend", name).Msg("Unknown backend")
	return nil, false
}
