// Package model owns trainable state: dense Parameters, sparse-gradient
// LookupParameters and the Model that aggregates them.
package model

import (
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

// Config holds model construction settings.
type Config struct {
	// Arena backs lookup gradient rows. Nil gives the model a private one.
	Arena *tensor.Arena
	// Seed drives parameter initialisation.
	Seed int64
}

// DefaultConfig returns the default model configuration.
func DefaultConfig() Config {
	return Config{Seed: 1}
}

// Model is a collection of parameters trained together. It has a single
// writer.
type Model struct {
	cfg     Config
	b       device.Backend
	rng     *rand.Rand
	arena   *tensor.Arena
	params  []*Parameters
	lookups []*LookupParameters
	all     []TrainableStore
}

// New returns a model whose parameters live on the serial CPU backend.
func New(cfg Config) *Model {
	return NewWithBackend(cfg, device.NewCPUBackend())
}

// NewWithBackend returns a model whose parameters live on b's device and
// use b's kernels.
func NewWithBackend(cfg Config, b device.Backend) *Model {
	arena := cfg.Arena
	if arena == nil {
		arena = tensor.NewArena(0, 0)
	}
	return &Model{
		cfg:   cfg,
		b:     b,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		arena: arena,
	}
}

// Backend returns the kernels the model's parameters use.
func (m *Model) Backend() device.Backend { return m.b }

// AddParameters adds a dense parameter initialised uniformly in
// [-scale, scale], or with the Glorot bound when scale is 1.
func (m *Model) AddParameters(d tensor.Dim, scale float64, name string) *Parameters {
	p := newParameters(m.b, d, scale, name, m.rng)
	m.params = append(m.params, p)
	m.all = append(m.all, p)
	parameterElements.WithLabelValues("dense").Add(float64(p.Size()))
	return p
}

// AddLookupParameters adds a table of n rows of shape d.
func (m *Model) AddLookupParameters(n int, d tensor.Dim, scale float64, name string) *LookupParameters {
	lp := newLookupParameters(m.b, m.arena, n, d, scale, name, m.rng)
	m.lookups = append(m.lookups, lp)
	m.all = append(m.all, lp)
	parameterElements.WithLabelValues("lookup").Add(float64(lp.Size()))
	return lp
}

func (m *Model) Parameters() []*Parameters { return m.params }

func (m *Model) LookupParameters() []*LookupParameters { return m.lookups }

// All returns dense and lookup parameters in the order they were added.
func (m *Model) All() []TrainableStore { return m.all }

// GradientL2Norm returns the square root of the summed squared gradient
// norms of every parameter.
func (m *Model) GradientL2Norm() float64 {
	var gg float64
	for _, p := range m.all {
		gg += p.GradSquaredL2Norm()
	}
	return math.Sqrt(gg)
}

// SimpleGradientClipping applies GradSimpleClipping to every parameter.
func (m *Model) SimpleGradientClipping(threshold float64) {
	for _, p := range m.all {
		p.GradSimpleClipping(threshold)
	}
}

// ResetGradient zeroes dense gradients and drops lookup gradients.
func (m *Model) ResetGradient() {
	for _, p := range m.all {
		p.Clear()
	}
}

// ProjectWeights reports the L2 norm of all parameter values.
func (m *Model) ProjectWeights() float64 {
	var gg float64
	for _, p := range m.all {
		gg += p.SquaredL2Norm()
	}
	norm := math.Sqrt(gg)
	log.Info().Float64("norm", norm).Msg("parameter norm")
	return norm
}

// Close releases every buffer held by the model. It must not be used
// afterwards.
func (m *Model) Close() {
	for _, p := range m.params {
		parameterElements.WithLabelValues("dense").Sub(float64(p.Size()))
		p.Values, p.Grad = nil, nil
	}
	for _, lp := range m.lookups {
		parameterElements.WithLabelValues("lookup").Sub(float64(lp.Size()))
		lp.release()
	}
	m.params, m.lookups, m.all = nil, nil, nil
	log.Debug().Msg("model closed")
}
