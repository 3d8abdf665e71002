package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/CamFlow/callgraphs/internal/config"
	"github.com/CamFlow/callgraphs/internal/diag"
	"github.com/CamFlow/callgraphs/internal/index"
	"github.com/CamFlow/callgraphs/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	flagDB          string
	flagConfig      string
	flagLogLevel    string
	flagMetricsFile string
	flagTraceFile   string
	flagEdgePolicy  string
	flagStrict      bool
)

// settings is the config file merged with the flags that were set.
var settings = config.Default()

// stopTracing flushes spans to the trace file. Nil when tracing is off.
var stopTracing func() error

var rootCmd = &cobra.Command{
	Use:               "callgraphs",
	Short:             "Record the static call graph of C and Go sources into SQLite",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if stopTracing != nil {
		if terr := stopTracing(); terr != nil {
			slog.Warn("write traces", "path", settings.TraceFile, "error", terr)
		}
	}

	if settings.MetricsFile != "" {
		if werr := telemetry.WriteTextfile(settings.MetricsFile); werr != nil {
			slog.Warn("write metrics", "path", settings.MetricsFile, "error", werr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDB, "db", settings.DB, `store path; "" disables persistence`)
	pf.StringVar(&flagConfig, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
	pf.StringVar(&flagLogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write prometheus metrics here on exit")
	pf.StringVar(&flagTraceFile, "trace-file", "", "write persist spans here as JSON lines")
	pf.StringVar(&flagEdgePolicy, "edge-policy", settings.EdgePolicy, "caller: record each caller's edges once; edge: add new edges on every run")
	pf.BoolVar(&flagStrict, "strict", false, "reject units with syntax errors instead of analyzing what parses")
}

func loadSettings(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB = flagDB
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = flagMetricsFile
	}
	if flags.Changed("trace-file") {
		cfg.TraceFile = flagTraceFile
	}
	if flags.Changed("edge-policy") {
		cfg.EdgePolicy = flagEdgePolicy
	}
	if flags.Changed("strict") {
		cfg.Strict = flagStrict
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	settings = cfg

	level, _ := diag.ParseLevel(cfg.LogLevel)
	slog.SetDefault(diag.New(os.Stderr, level))

	if cfg.TraceFile != "" && stopTracing == nil {
		stop, err := startTracing(cfg.TraceFile)
		if err != nil {
			return err
		}
		stopTracing = stop
	}
	return nil
}

// startTracing installs the span exporter writing to path.
func startTracing(path string) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	shutdown, err := telemetry.SetupTracing(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return func() error {
		return errors.Join(shutdown(context.Background()), f.Close())
	}, nil
}

// indexConfig builds the indexer settings. Diagnostics go to logs.
func indexConfig(logs io.Writer, dump io.Writer) index.Config {
	level, _ := diag.ParseLevel(settings.LogLevel)
	return index.Config{
		DBPath:       settings.DB,
		StoreOptions: settings.StoreOptions(),
		Workers:      settings.Workers,
		Ignore:       settings.Ignore,
		Strict:       settings.Strict,
		Dump:         dump,
		Sink:         diag.NewSink(diag.New(logs, level)),
	}
}
