package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-cnn/internal/device"
	"github.com/23skdu/longbow-cnn/internal/dict"
	"github.com/23skdu/longbow-cnn/internal/exec"
	"github.com/23skdu/longbow-cnn/internal/expr"
	"github.com/23skdu/longbow-cnn/internal/gradcheck"
	"github.com/23skdu/longbow-cnn/internal/graph"
	"github.com/23skdu/longbow-cnn/internal/model"
	"github.com/23skdu/longbow-cnn/internal/rnn"
	"github.com/23skdu/longbow-cnn/internal/tensor"
)

const (
	bos = "<s>"
	eos = "</s>"
	unk = "<unk>"
)

type options struct {
	Backend    string
	Seed       int64
	ArenaLimit int64
	Sentences  int
	Embed      int
	Hidden     int
	Layers     int
	ModelPath  string
	OutPath    string
}

func defaultOptions() options {
	return options{Backend: "cpu", Seed: 1, Sentences: 8, Embed: 8, Hidden: 16, Layers: 1, ModelPath: "model.cbor"}
}

// app is a small recurrent language model over a generated corpus.
type app struct {
	opts    options
	ctx     context.Context
	backend device.Backend
	arena   *tensor.Arena
	dict    *dict.Dict
	corpus  [][]int
	model   *model.Model
	emb     *model.LookupParameters
	out     *model.Parameters
	bias    *model.Parameters
	rnn     *rnn.Builder
}

func newApp(ctx context.Context, opts options) (*app, error) {
	if opts.Sentences < 1 {
		return nil, fmt.Errorf("need at least one sentence, got %d", opts.Sentences)
	}
	b, ok := device.Select(opts.Backend)
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
	a := &app{
		opts:    opts,
		ctx:     ctx,
		backend: b,
		arena:   tensor.NewArena(0, opts.ArenaLimit),
		dict:    dict.New(dict.Config{Normalize: true}),
	}
	a.dict.Convert(bos)
	a.dict.Convert(eos)
	for _, s := range generateCorpus(opts.Sentences, opts.Seed) {
		a.corpus = append(a.corpus, dict.ReadSentence(s, a.dict))
	}
	a.dict.Freeze()
	a.dict.SetUnk(unk)

	a.model = model.NewWithBackend(model.Config{Arena: a.arena, Seed: opts.Seed}, b)
	vocab := a.dict.Size()
	a.emb = a.model.AddLookupParameters(vocab, tensor.NewDim(opts.Embed), 1, "lm.embed")
	a.rnn = rnn.New(a.model, rnn.Config{
		Layers: opts.Layers, InputDim: opts.Embed, HiddenDim: opts.Hidden, Scale: 1, Name: "lm.rnn",
	})
	a.out = a.model.AddParameters(tensor.NewDim(vocab, opts.Hidden), 1, "lm.out")
	a.bias = a.model.AddParameters(tensor.NewDim(vocab), 1, "lm.bias")

	log.Info().
		Str("backend", b.Name()).
		Int("vocab", vocab).
		Int("sentences", len(a.corpus)).
		Msg("Language model ready")
	return a, nil
}

// buildGraph adds the summed next-word loss of sentence s to g.
func (a *app) buildGraph(g *graph.Graph, s []int) expr.Expression {
	a.rnn.NewGraph(g)
	a.rnn.StartNewSequence()
	out, bias := expr.Parameter(g, a.out), expr.Parameter(g, a.bias)

	words := append([]int{a.dict.Convert(bos)}, s...)
	words = append(words, a.dict.Convert(eos))
	var losses []expr.Expression
	for t := 0; t+1 < len(words); t++ {
		h := a.rnn.AddInput(expr.Lookup(g, a.emb, words[t]))
		losses = append(losses, expr.PickNegLogSoftmax(expr.Affine(bias, out, h), words[t+1]))
	}
	return expr.Sum(losses...)
}

func (a *app) engine(g *graph.Graph) *exec.Executor {
	return exec.New(g, a.backend, exec.Config{Context: a.ctx, Arena: a.arena})
}

type demoResult struct {
	Loss     float64
	Words    int
	GradNorm float64
}

// demo runs one forward and backward pass per sentence, accumulating the
// gradient over the corpus.
func (a *app) demo() demoResult {
	start := time.Now()
	a.model.ResetGradient()
	var res demoResult
	g := graph.New()
	e := a.engine(g)
	for _, s := range a.corpus {
		g.Clear()
		a.buildGraph(g, s)
		res.Loss += e.Forward().Scalar()
		e.Backward()
		res.Words += len(s) + 1
	}
	res.GradNorm = a.model.GradientL2Norm()
	log.Info().
		Float64("loss", res.Loss).
		Float64("per_word", res.Loss/float64(max(res.Words, 1))).
		Float64("grad_norm", res.GradNorm).
		Dur("elapsed", time.Since(start)).
		Msg("Demo pass complete")
	return res
}

// gradcheck checks the gradient of the first sentence.
func (a *app) gradcheck(cfg gradcheck.Config) gradcheck.Report {
	g := graph.New()
	a.buildGraph(g, a.corpus[0])
	return gradcheck.Check(a.model, a.engine(g), cfg)
}

func (a *app) close() {
	a.model.Close()
}
