// Command ticketstress hammers a ticket lock with many goroutines that all start at the
// same instant, repeating for a number of iterations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ahrav/ticketlock/internal/harness"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	prog := filepath.Base(os.Args[0])
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		workers    = fs.Int("t", 0, "number of test lock goroutines (default depends on -width)")
		iterations = fs.Int("i", harness.DefaultIterations, "number of test iterations")
		mode       = fs.String("mode", string(harness.ModeLock), "acquire with \"lock\" or loop on \"trylock\"")
		width      = fs.Int("width", harness.DefaultWidth, "ticket counter width in bits: 8, 16 or 32")
		poll       = fs.Duration("poll", harness.DefaultBarrierPoll, "start barrier poll interval")
		configFile = fs.String("config", "", "optional TOML config file; flags override it")
		debug      = fs.Bool("debug", false, "enable debug logging")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "%s options\n", prog)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		// -h and unknown flags have already printed usage.
		return 1
	}
	if fs.NArg() != 0 {
		fs.Usage()
	}

	cfg := harness.DefaultConfig()
	if *configFile != "" {
		if err := harness.LoadFile(*configFile, &cfg); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			cfg.Workers = *workers
		case "i":
			cfg.Iterations = *iterations
		case "mode":
			cfg.Mode = harness.Mode(*mode)
		case "width":
			cfg.Width = *width
		case "poll":
			cfg.BarrierPoll = *poll
		case "debug":
			cfg.Debug = *debug
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return 1
	}

	log := newLogger(cfg.Debug, stderr)
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	report, err := harness.Start(context.Background(), cfg,
		harness.WithLogger(log),
		harness.WithRegisterer(reg),
	)
	logMetrics(log, reg)
	if err != nil {
		if errors.Is(err, harness.ErrExclusionViolated) {
			log.Error("Ticket lock lost mutual exclusion", zap.Error(err))
		} else {
			log.Error("Stress run failed", zap.Error(err))
		}
		return 1
	}

	log.Info("All iterations completed",
		zap.String("run_id", report.RunID),
		zap.Int("iterations", report.Iterations),
		zap.Int("workers", report.Workers),
		zap.Duration("elapsed", report.Elapsed.Round(time.Microsecond)),
	)
	return 0
}

func newLogger(debug bool, w io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core)
}

// logMetrics writes the gathered harness counters at debug level.
func logMetrics(log *zap.Logger, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		log.Warn("Gathering metrics failed", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				log.Debug("metric", zap.String("name", mf.GetName()), zap.Float64("value", m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				log.Debug("metric",
					zap.String("name", mf.GetName()),
					zap.Uint64("count", m.GetHistogram().GetSampleCount()),
					zap.Float64("sum", m.GetHistogram().GetSampleSum()),
				)
			}
		}
	}
}
