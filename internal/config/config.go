// Package config defines the data structures related to configuration and
// includes functions for loading, defaulting and validating it.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/iwvelando/unwind-risk/internal/montecarlo"
	"github.com/iwvelando/unwind-risk/internal/sensitivity"
	"github.com/iwvelando/unwind-risk/internal/sim"
	"github.com/iwvelando/unwind-risk/pkg/constants"
	"github.com/iwvelando/unwind-risk/pkg/validation"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every fatal configuration problem.
var ErrInvalidConfig = errors.New("invalid configuration")

// Configuration holds all configuration for unwind-risk.
type Configuration struct {
	Simulation  Simulation    `yaml:"simulation"`
	MonteCarlo  MonteCarlo    `yaml:"monteCarlo"`
	Sensitivity Sensitivity   `yaml:"sensitivity"`
	Storage     StorageConfig `yaml:"storage,omitempty"`
	Logging     LoggingConfig `yaml:"logging,omitempty"`
	Output      OutputConfig  `yaml:"output,omitempty"`
}

// Simulation holds the market and network parameters of a single unwind.
type Simulation struct {
	InitialPositions   int     `yaml:"initialPositions"`
	InitialPrice       float64 `yaml:"initialPrice"`
	MaxUnwindsPerTx    int     `yaml:"maxUnwindsPerTx"`
	BlockDurationSec   float64 `yaml:"blockDurationSec"`
	VolatilityAnnual   float64 `yaml:"volatilityAnnual"`
	DriftAnnual        float64 `yaml:"driftAnnual"`
	CongestionFailRate float64 `yaml:"congestionFailRate"`
	NetworkFailRate    float64 `yaml:"networkFailRate"`
	BaseSlippage       float64 `yaml:"baseSlippage"`
	MaxTicks           int     `yaml:"maxTicks,omitempty"`
}

// MonteCarlo controls the aggregated batch of runs.
type MonteCarlo struct {
	Runs    int    `yaml:"runs"`
	Seed    uint64 `yaml:"seed,omitempty"`
	Workers int    `yaml:"workers,omitempty"`
}

// Sensitivity controls the forced-decay sweep.
type Sensitivity struct {
	Enabled      bool      `yaml:"enabled"`
	Thresholds   []float64 `yaml:"thresholds"`
	GridStartBps int       `yaml:"gridStartBps"`
	GridEndBps   int       `yaml:"gridEndBps"`
	GridStepBps  int       `yaml:"gridStepBps"`
	SampleSize   int       `yaml:"sampleSize"`
}

// StorageConfig points at the optional assessment history database.
type StorageConfig struct {
	DSN string `yaml:"dsn,omitempty"` // SQLite path or ":memory:"; empty disables storage
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv, json
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there. A .env file in the working directory, if present,
// is loaded first so its UNWIND_* variables override file values.
func LoadConfiguration(configPath string) (*Configuration, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %w", err)
	}
	return decode(v)
}

// LoadConfigurationFromReader loads YAML configuration from r, applying the
// same defaults and environment overrides as LoadConfiguration.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := newViper()
	v.SetConfigType("yml")

	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config data, %w", err)
	}
	return decode(v)
}

// Default returns the configuration used when no file sets a value.
func Default() *Configuration {
	conf, err := decode(newViper())
	if err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(err)
	}
	return conf
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("simulation.initialPositions", constants.DefaultInitialPositions)
	v.SetDefault("simulation.initialPrice", constants.DefaultInitialPrice)
	v.SetDefault("simulation.maxUnwindsPerTx", constants.DefaultMaxUnwindsPerTx)
	v.SetDefault("simulation.blockDurationSec", constants.DefaultBlockDurationSec)
	v.SetDefault("simulation.volatilityAnnual", constants.DefaultVolatilityAnnual)
	v.SetDefault("simulation.driftAnnual", constants.DefaultDriftAnnual)
	v.SetDefault("simulation.congestionFailRate", constants.DefaultCongestionFailRate)
	v.SetDefault("simulation.networkFailRate", constants.DefaultNetworkFailRate)
	v.SetDefault("simulation.baseSlippage", constants.DefaultBaseSlippage)
	v.SetDefault("simulation.maxTicks", 0)

	v.SetDefault("monteCarlo.runs", constants.DefaultNumSimulations)
	v.SetDefault("monteCarlo.seed", 0)
	v.SetDefault("monteCarlo.workers", 1)

	v.SetDefault("sensitivity.enabled", true)
	v.SetDefault("sensitivity.thresholds", constants.DefaultThresholds)
	v.SetDefault("sensitivity.gridStartBps", constants.DefaultGridStartBps)
	v.SetDefault("sensitivity.gridEndBps", constants.DefaultGridEndBps)
	v.SetDefault("sensitivity.gridStepBps", constants.DefaultGridStepBps)
	v.SetDefault("sensitivity.sampleSize", constants.DefaultSampleSize)

	v.SetDefault("storage.dsn", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.outputFile", "")
	v.SetDefault("output.format", "")
	return v
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &configuration, nil
}

// Params converts the simulation section into simulator parameters.
func (c *Configuration) Params() sim.Params {
	s := c.Simulation
	return sim.Params{
		InitialPositions:   s.InitialPositions,
		InitialPrice:       s.InitialPrice,
		MaxUnwindsPerTx:    s.MaxUnwindsPerTx,
		BlockDurationSec:   s.BlockDurationSec,
		VolatilityAnnual:   s.VolatilityAnnual,
		DriftAnnual:        s.DriftAnnual,
		CongestionFailRate: s.CongestionFailRate,
		NetworkFailRate:    s.NetworkFailRate,
		BaseSlippage:       s.BaseSlippage,
		MaxTicks:           s.MaxTicks,
	}
}

// MonteCarloOptions converts the monteCarlo section into aggregator options.
func (c *Configuration) MonteCarloOptions() montecarlo.Options {
	return montecarlo.Options{
		Runs:    c.MonteCarlo.Runs,
		Seed:    c.MonteCarlo.Seed,
		Workers: c.MonteCarlo.Workers,
	}
}

// Grid returns the sweep's decay-rate grid.
func (c *Configuration) Grid() sensitivity.Grid {
	return sensitivity.Grid{
		StartBps: c.Sensitivity.GridStartBps,
		EndBps:   c.Sensitivity.GridEndBps,
		StepBps:  c.Sensitivity.GridStepBps,
	}
}

// SweepOptions converts the sensitivity section into sweep options. The
// sweep shares the Monte Carlo seed and worker count.
func (c *Configuration) SweepOptions() sensitivity.Options {
	return sensitivity.Options{
		Grid:       c.Grid(),
		SampleSize: c.Sensitivity.SampleSize,
		Thresholds: append([]float64(nil), c.Sensitivity.Thresholds...),
		Seed:       c.MonteCarlo.Seed,
		Workers:    c.MonteCarlo.Workers,
	}
}

// Validate fails fast on configuration that would make any run undefined.
// All problems are reported together.
func (c *Configuration) Validate() error {
	var errs []error
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MonteCarlo.Runs < 1 {
		errs = append(errs, fmt.Errorf("monteCarlo.runs must be positive, got %d", c.MonteCarlo.Runs))
	}
	if c.MonteCarlo.Workers < 0 {
		errs = append(errs, fmt.Errorf("monteCarlo.workers must be non-negative, got %d", c.MonteCarlo.Workers))
	}
	if c.Sensitivity.Enabled {
		if err := c.Grid().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sensitivity: %w", err))
		}
		if c.Sensitivity.SampleSize < 1 {
			errs = append(errs, fmt.Errorf("sensitivity.sampleSize must be positive, got %d", c.Sensitivity.SampleSize))
		}
		if len(c.Sensitivity.Thresholds) == 0 {
			errs = append(errs, errors.New("sensitivity.thresholds must not be empty"))
		}
	}
	if c.Output.Format != "" {
		if err := validation.ValidateOutputFormat(c.Output.Format); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ValidateConfiguration returns non-fatal warnings about parameters that
// are valid but likely unintended.
func (c *Configuration) ValidateConfiguration() []string {
	cv := validation.ConfigValidator{
		MaxUnwindsPerTx:    c.Simulation.MaxUnwindsPerTx,
		BaseSlippage:       c.Simulation.BaseSlippage,
		CongestionFailRate: c.Simulation.CongestionFailRate,
		NetworkFailRate:    c.Simulation.NetworkFailRate,
		Runs:               c.MonteCarlo.Runs,
		SweepEnabled:       c.Sensitivity.Enabled,
		GridEndBps:         c.Sensitivity.GridEndBps,
		Thresholds:         c.Sensitivity.Thresholds,
	}
	return cv.ValidateAll()
}
