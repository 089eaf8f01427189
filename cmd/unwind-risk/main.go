package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/iwvelando/unwind-risk/internal/config"
	"github.com/iwvelando/unwind-risk/internal/logging"
	"github.com/iwvelando/unwind-risk/internal/risk"
	"github.com/iwvelando/unwind-risk/internal/storage"
	"github.com/iwvelando/unwind-risk/pkg/constants"
	"github.com/iwvelando/unwind-risk/pkg/output"
	"github.com/iwvelando/unwind-risk/pkg/validation"
	"go.uber.org/zap"
)

func main() {
	// Process command line flags first to get config location
	configLocation := flag.String("config", constants.DefaultConfigFile, "path to configuration file")
	outputFormatFlag := flag.String("output-format", "", "type of output override: pretty, csv, json")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	seed := flag.Uint64("seed", 0, "random seed override; 0 picks a random seed")
	runs := flag.Int("runs", 0, "number of Monte Carlo runs override")
	workers := flag.Int("workers", 0, "number of parallel workers override")
	noSweep := flag.Bool("no-sweep", false, "skip the forced-decay sensitivity sweep")
	storeDSN := flag.String("store", "", "SQLite database for assessment history (overrides storage.dsn)")
	history := flag.Int("history", 0, "print the N most recent stored assessments and exit")
	flag.Parse()

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		// A missing default config file means "run with the built-in defaults".
		if setFlags["config"] || !errors.Is(err, fs.ErrNotExist) {
			fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
			os.Exit(1)
		}
		conf = config.Default()
	}

	// Initialize logging based on config and CLI override
	logger, err := logging.New(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if setFlags["seed"] {
		conf.MonteCarlo.Seed = *seed
	}
	if setFlags["runs"] {
		conf.MonteCarlo.Runs = *runs
	}
	if setFlags["workers"] {
		conf.MonteCarlo.Workers = *workers
	}
	if *noSweep {
		conf.Sensitivity.Enabled = false
	}
	if *storeDSN != "" {
		conf.Storage.DSN = *storeDSN
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := cliOptions{outputFormat: *outputFormatFlag, history: *history}
	if err := run(ctx, logger, conf, opts, os.Stdout); err != nil {
		logger.Error("unwind-risk failed",
			zap.String("op", "main"),
			zap.Error(err),
		)
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

// cliOptions carries the flags that shape a run after configuration overrides.
type cliOptions struct {
	outputFormat string
	history      int
}

// run executes one CLI invocation and writes its report to out. Resources it
// opens are released before it returns.
func run(ctx context.Context, logger *zap.Logger, conf *config.Configuration, opts cliOptions, out io.Writer) (err error) {
	// CLI override takes precedence over config
	outputFormat := conf.Output.Format
	if opts.outputFormat != "" {
		outputFormat = opts.outputFormat
	}
	if outputFormat == "" {
		outputFormat = constants.OutputFormatPretty
	}
	if err := validation.ValidateOutputFormat(outputFormat); err != nil {
		return err
	}

	var store *storage.SQLiteStorage
	if conf.Storage.DSN != "" {
		store, err = storage.NewSQLiteStorage(conf.Storage.DSN)
		if err != nil {
			return fmt.Errorf("failed to open assessment store %s: %w", conf.Storage.DSN, err)
		}
		defer func() {
			if cerr := store.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close assessment store: %w", cerr)
			}
		}()
	}

	if opts.history > 0 {
		if store == nil {
			return errors.New("-history requires -store or storage.dsn")
		}
		summaries, err := store.History(ctx, opts.history)
		if err != nil {
			return fmt.Errorf("failed to read assessment history: %w", err)
		}
		if err := output.HistoryFormat(out, summaries); err != nil {
			return fmt.Errorf("failed to print history: %w", err)
		}
		return nil
	}

	if err := conf.Validate(); err != nil {
		return err
	}

	// Display any non-fatal warnings
	for _, warning := range conf.ValidateConfiguration() {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main.run"),
		)
	}

	assessment, err := risk.Assess(ctx, logger, *conf)
	if err != nil {
		return fmt.Errorf("failed to compute assessment: %w", err)
	}

	if store != nil {
		if err := store.SaveAssessment(ctx, assessment); err != nil {
			logger.Error("failed to store assessment",
				zap.String("op", "main.run"),
				zap.String("id", assessment.ID),
				zap.Error(err),
			)
		}
	}

	switch outputFormat {
	case constants.OutputFormatPretty:
		err = output.PrettyFormat(out, assessment)
	case constants.OutputFormatCSV:
		err = output.CsvFormat(out, assessment)
	case constants.OutputFormatJSON:
		err = output.JSONFormat(out, assessment)
	}
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
