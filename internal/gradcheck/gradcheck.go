// Package gradcheck compares the gradients a backward pass accumulates
// against central finite differences of the objective.
package gradcheck

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-cnn/internal/exec"
	"github.com/23skdu/longbow-cnn/internal/model"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Config holds checker settings.
type Config struct {
	// Delta is the finite-difference step.
	Delta float64
	// Tolerance bounds |analytic - numeric| relative to max(1, |analytic|, |numeric|).
	Tolerance float64
}

// DefaultConfig returns the default checker configuration.
func DefaultConfig() Config {
	return Config{Delta: 1e-4, Tolerance: 1e-4}
}

// Mismatch is one element whose gradients disagree.
type Mismatch struct {
	Param    string
	Row      int // -1 for dense parameters
	Index    int
	Analytic float64
	Numeric  float64
}

// Report summarises a check.
type Report struct {
	Checked    int
	Mismatches []Mismatch
}

// OK reports whether every checked element agreed.
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

func objective(e exec.Engine) float64 {
	e.Invalidate()
	var s float64
	for _, v := range e.Forward().V {
		s += v
	}
	return s
}

// Check runs a fresh forward and backward pass of e, whose graph must end
// in the objective, and perturbs every element of every parameter of m
// and of every touched lookup row. Model gradients are reset first and
// hold the analytic gradient afterwards.
func Check(m *model.Model, e exec.Engine, cfg Config) Report {
	start := time.Now()
	m.ResetGradient()
	e.Invalidate()
	e.Forward()
	e.Backward()

	var rep Report
	probe := func(name string, row int, values, grad *tensor.Tensor) {
		for i := range values.V {
			old := values.V[i]
			values.V[i] = old + cfg.Delta
			y1 := objective(e)
			values.V[i] = old - cfg.Delta
			y0 := objective(e)
			values.V[i] = old

			numeric := (y1 - y0) / (2 * cfg.Delta)
			var analytic float64
			if grad != nil {
				analytic = grad.V[i]
			}
			rep.Checked++
			elementsChecked.Inc()
			scale := math.Max(1, math.Max(math.Abs(analytic), math.Abs(numeric)))
			if math.Abs(analytic-numeric) > cfg.Tolerance*scale {
				mismatches.Inc()
				rep.Mismatches = append(rep.Mismatches, Mismatch{
					Param: name, Row: row, Index: i, Analytic: analytic, Numeric: numeric,
				})
				log.Debug().
					Str("param", name).
					Int("row", row).
					Int("index", i).
					Float64("analytic", analytic).
					Float64("numeric", numeric).
					Msg("gradient mismatch")
			}
		}
	}

	for _, p := range m.Parameters() {
		probe(p.Name, -1, p.Values, p.Grad)
	}
	for _, lp := range m.LookupParameters() {
		for _, row := range lp.TouchedRows() {
			g, _ := lp.Grad(row)
			probe(lp.Name, row, lp.Values[row], g)
		}
	}
	// leave the cache consistent with the restored values
	e.Invalidate()
	e.Forward()

	log.Info().
		Int("checked", rep.Checked).
		Int("mismatches", len(rep.Mismatches)).
		Dur("elapsed", time.Since(start)).
		Msg("Gradient check finished")
	return rep
}
