// Package metric holds small evaluation utilities shared by clients.
package metric

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// FloatEpsilon replaces a zero norm in CosineSimilarity.
const FloatEpsilon = 1.1920929e-07

// CosineSimilarity returns a.b / (|a| |b|). Vectors are compared up to
// the shorter length; a zero vector gets norm sqrt(FloatEpsilon) so the
// result is 0 rather than NaN.
func CosineSimilarity(a, b []float64) float64 {
	n := min(len(a), len(b))
	a, b = a[:n], b[:n]
	dot := floats.Dot(a, b)
	na, nb := floats.Dot(a, a), floats.Dot(b, b)
	if na == 0 {
		na = FloatEpsilon
	}
	if nb == 0 {
		nb = FloatEpsilon
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Levenshtein returns the token edit distance between two sequences.
func Levenshtein(s1, s2 []string) int {
	column := make([]int, len(s1)+1)
	for y := range column {
		column[y] = y
	}
	for x := 1; x <= len(s2); x++ {
		column[0] = x
		diag := x - 1
		for y := 1; y <= len(s1); y++ {
			old := column[y]
			cost := 1
			if s1[y-1] == s2[x-1] {
				cost = 0
			}
			column[y] = min(column[y]+1, column[y-1]+1, diag+cost)
			diag = old
		}
	}
	return column[len(s1)]
}
