package functor

import "math"

// LogSoftmax writes the log-softmax of every column of a into v. Both
// buffers are column-major with leading dimension rows. Only column-wise
// normalisation is supported; colWise == false panics.
func LogSoftmax(rows, cols int, a, v []float64, colWise bool) {
	if !colWise {
		panic("functor: LogSoftmax not supported for row-major")
	}
	for j := 0; j < cols; j++ {
		col := a[j*rows : (j+1)*rows]
		out := v[j*rows : (j+1)*rows]
		// subtract the max before exp to avoid overflow
		maxV := col[0]
		for _, x := range col[1:] {
			if x > maxV {
				maxV = x
			}
		}
		var sum float64
		for i, x := range col {
			out[i] = x - maxV
			sum += math.Exp(out[i])
		}
		logSum := math.Log(sum)
		for i := range out {
			out[i] -= logSum
		}
	}
}

// LogSumExp returns log(sum(exp(x))) computed stably.
func LogSumExp(x []float64) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	m := x[0]
	for _, v := range x[1:] {
		if v > m {
			m = v
		}
	}
	if math.IsInf(m, -1) {
		return m
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}
