// Package simd holds the unrolled host loops behind the serial backend.
// Every kernel assumes its slice arguments have matching lengths; callers
// check shapes before getting here.
package simd

import "math"

// VecAdd performs dst += src.
func VecAdd(dst, src []float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// Axpy performs dst += alpha * src.
func Axpy(alpha float64, src, dst []float64) {
	if alpha == 1 {
		VecAdd(dst, src)
		return
	}
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += alpha * src[i]
		dst[i+1] += alpha * src[i+1]
		dst[i+2] += alpha * src[i+2]
		dst[i+3] += alpha * src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += alpha * src[i]
	}
}

// VecScale performs dst *= alpha.
func VecScale(dst []float64, alpha float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] *= alpha
		dst[i+1] *= alpha
		dst[i+2] *= alpha
		dst[i+3] *= alpha
	}
	for ; i < len(dst); i++ {
		dst[i] *= alpha
	}
}

// DotProduct computes sum(a[i] * b[i]).
func DotProduct(a, b []float64) float64 {
	var s0, s1, s2, s3 float64
	i := 0
	for ; i <= len(a)-4; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return (s0 + s1) + (s2 + s3)
}

// SquaredNorm computes sum(a[i]^2).
func SquaredNorm(a []float64) float64 {
	return DotProduct(a, a)
}

// VecClip clamps every element of dst into [-thr, thr].
func VecClip(dst []float64, thr float64) {
	for i, v := range dst {
		if math.Abs(v) > thr {
			if v > 0 {
				dst[i] = thr
			} else {
				dst[i] = -thr
			}
		}
	}
}

// Gemm computes c = alpha * op(a) * op(b) + beta * c for row-major operands,
// where op(a) is m x k and op(b) is k x n.
func Gemm(transA, transB bool, m, n, k int, alpha float64, a, b []float64, beta float64, c []float64) {
	if beta != 1 {
		VecScale(c[:m*n], beta)
	}
	if !transB {
		// Row i of c is a linear combination of rows of b.
		for i := 0; i < m; i++ {
			row := c[i*n : (i+1)*n]
			for p := 0; p < k; p++ {
				var av float64
				if transA {
					av = a[p*m+i]
				} else {
					av = a[i*k+p]
				}
				if av == 0 {
					continue
				}
				Axpy(alpha*av, b[p*n:(p+1)*n], row)
			}
		}
		return
	}
	var rowA []float64
	if transA {
		rowA = make([]float64, k)
	}
	for i := 0; i < m; i++ {
		if transA {
			for p := 0; p < k; p++ {
				rowA[p] = a[p*m+i]
			}
		} else {
			rowA = a[i*k : (i+1)*k]
		}
		for j := 0; j < n; j++ {
			c[i*n+j] += alpha * DotProduct(rowA, b[j*k:(j+1)*k])
		}
	}
}
