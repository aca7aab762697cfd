package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/pprof"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-cnn/internal/gradcheck"
)

var (
	backendName = flag.String("backend", "cpu", "Execution backend (cpu, blas)")
	seed        = flag.Int64("seed", 1, "Seed for corpus generation and parameter initialisation")
	arenaLimit  = flag.String("arena-limit", "0", "Maximum arena memory (e.g. 64MB, 1GiB); 0 is unlimited")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	metricsAddr = flag.String("metrics", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	modelPath   = flag.String("model", "model.cbor", "Model file for save and load")
	outPath     = flag.String("out", "", "Output file for dump; stdout if empty")
	sentences   = flag.Int("sentences", 8, "Number of generated corpus sentences")
	hidden      = flag.Int("hidden", 16, "Hidden units per recurrent layer")
	layers      = flag.Int("layers", 1, "Recurrent layers")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
)

const usage = `usage: cnn [flags] <command>

commands:
  demo       forward and backward over the generated corpus
  gradcheck  compare the analytic gradient with finite differences
  save       write freshly initialised parameters to -model
  load       read -model and report its parameters
  dump       write parameter values as an Arrow IPC stream to -out
`

var errGradient = errors.New("gradient check failed")

func main() {
	os.Exit(realMain())
}

func realMain() int {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	limit, err := humanize.ParseBytes(*arenaLimit)
	if err != nil {
		log.Fatal().Err(err).Str("arena_limit", *arenaLimit).Msg("Invalid arena limit")
	}
	if limit > 0 {
		log.Info().Str("arena_limit", humanize.IBytes(limit)).Msg("Arena limit")
	}

	opts := defaultOptions()
	opts.Backend = *backendName
	opts.Seed = *seed
	opts.ArenaLimit = int64(limit)
	opts.Sentences = *sentences
	opts.Hidden = *hidden
	opts.Layers = *layers
	opts.ModelPath = *modelPath
	opts.OutPath = *outPath

	if err := run(context.Background(), flag.Arg(0), opts); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("Command failed")
		return 1
	}
	return 0
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

// run executes one command. Engine and model contract violations surface
// as returned errors here.
func run(ctx context.Context, cmd string, opts options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("%s: %w", cmd, e)
				return
			}
			err = fmt.Errorf("%s: %v", cmd, r)
		}
	}()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "demo":
		a.demo()
		return nil
	case "gradcheck":
		if rep := a.gradcheck(gradcheck.DefaultConfig()); !rep.OK() {
			return fmt.Errorf("%w: %d of %d elements disagree", errGradient, len(rep.Mismatches), rep.Checked)
		}
		return nil
	case "save":
		return a.model.SaveFile(opts.ModelPath)
	case "load":
		if err := a.model.LoadFile(opts.ModelPath); err != nil {
			return err
		}
		a.demo()
		return nil
	case "dump":
		return dump(a, opts.OutPath)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func dump(a *app, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create dump file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := writeArrowStream(w, a.model); err != nil {
		return fmt.Errorf("failed to write arrow stream: %w", err)
	}
	return nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("cnn"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
