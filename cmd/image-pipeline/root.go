package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ironsheep/image-pipeline/internal/codec"
	"github.com/ironsheep/image-pipeline/internal/memory"
	"github.com/ironsheep/image-pipeline/internal/pipeline"
)

// envPrefix names the environment variables that stand in for unset flags,
// e.g. IMAGE_PIPELINE_LOG_LEVEL for --log-level.
const envPrefix = "IMAGE_PIPELINE_"

// options holds the persistent flags shared by every subcommand.
type options struct {
	cacheMaxOps   int
	cacheMaxBytes int64
	cacheMaxFiles int
	cacheDir      string
	concurrency   int
	memoryLimit   int64
	tileSize      int
	logLevel      string
	logFile       string

	logCloser io.Closer
}

func newRoot(ctx context.Context) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "image-pipeline",
		Short: "Demand-driven image processing pipeline",
		Long: "image-pipeline evaluates image operations lazily, region by region, with a shared\n" +
			"operation cache and memory accounting. Run 'serve' to expose it as an MCP server on stdio.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnv(cmd.Flags()); err != nil {
				return err
			}
			return opts.setupLogging()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	def := pipeline.DefaultConfig()
	pf := cmd.PersistentFlags()
	pf.IntVar(&opts.cacheMaxOps, "cache-max-ops", def.CacheMaxOps, "Most cached regions; 0 disables caching")
	pf.Int64Var(&opts.cacheMaxBytes, "cache-max-bytes", def.CacheMaxBytes, "Most cached bytes held in memory; 0 is unbounded")
	pf.IntVar(&opts.cacheMaxFiles, "cache-max-files", def.CacheMaxFiles, "Most spill files for large cached regions; 0 disables spilling")
	pf.StringVar(&opts.cacheDir, "cache-dir", "", "Directory for spill files (default: system temp directory)")
	pf.IntVar(&opts.concurrency, "concurrency", pipeline.AutoConcurrency, "Worker goroutines; 0 runs inline, -1 uses GOMAXPROCS")
	pf.Int64Var(&opts.memoryLimit, "memory-limit", def.MemoryLimit, "Most bytes of live image regions; 0 is unbounded")
	pf.IntVar(&opts.tileSize, "tile-size", def.TileSize, "Tile edge used when materializing images")
	pf.StringVar(&opts.logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.StringVar(&opts.logFile, "log-file", "", "Write logs to this file, rotated by size (default: stderr)")

	cmd.AddCommand(
		newServeCmd(ctx, opts),
		newInfoCmd(opts),
		newThumbnailCmd(opts),
		newTilesCmd(opts),
		newTrimCmd(opts),
		newStatsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// applyEnv fills every flag the user did not set from its environment
// variable.
func applyEnv(flags *pflag.FlagSet) error {
	var errs []string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		if err := flags.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// setupLogging installs the default logger. stdout carries command output
// and the MCP protocol, so logs go to stderr or the log file.
func (o *options) setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}

	var w io.Writer = os.Stderr
	if o.logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   o.logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w = lj
		o.logCloser = lj
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	pipeline.SetLogger(logger.With("component", "pipeline"))
	return nil
}

func (o *options) config() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.CacheMaxOps = o.cacheMaxOps
	cfg.CacheMaxBytes = o.cacheMaxBytes
	cfg.CacheMaxFiles = o.cacheMaxFiles
	cfg.CacheDir = o.cacheDir
	cfg.Concurrency = o.concurrency
	cfg.MemoryLimit = o.memoryLimit
	cfg.TileSize = o.tileSize
	cfg.Accountant = memory.Default()
	return cfg
}

// engine creates an engine with the default codecs. The caller closes it.
func (o *options) engine() (*pipeline.Engine, error) {
	e, err := pipeline.NewEngine(o.config(), codec.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return e, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "image-pipeline %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
