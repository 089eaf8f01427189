// Package constants provides shared constants for the unwind-risk application.
package constants

// Market and network constants
const (
	// SecondsPerYear annualizes block durations (365 days, no leap adjustment).
	SecondsPerYear = 365 * 24 * 3600

	// BasisPointsPerUnit converts sensitivity grid points (bps) to fractions.
	BasisPointsPerUnit = 10000.0

	// PercentageMultiplier is used for percentage conversions
	PercentageMultiplier = 100.0

	// DefaultMaxTicks bounds a single run; never reached for fail rates far below 1.
	DefaultMaxTicks = 1_000_000
)

// Default simulation parameters, a high-stress unwind of ten positions.
const (
	DefaultInitialPositions   = 10
	DefaultInitialPrice       = 100.0
	DefaultMaxUnwindsPerTx    = 3 // 1.4M CU limit / 400k CU per unwind
	DefaultBlockDurationSec   = 0.4
	DefaultVolatilityAnnual   = 1.0
	DefaultDriftAnnual        = 0.0
	DefaultCongestionFailRate = 0.15
	DefaultNetworkFailRate    = 0.05
	DefaultBaseSlippage       = 0.001
	DefaultNumSimulations     = 10000
)

// Default sensitivity sweep parameters
const (
	DefaultGridStartBps = 1
	DefaultGridEndBps   = 200 // exclusive
	DefaultGridStepBps  = 5
	DefaultSampleSize   = 200
)

// DefaultThresholds are the portfolio loss fractions probed by the sweep.
var DefaultThresholds = []float64{0.10, 0.30}

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// OutputFormatJSON is the machine-readable JSON output format
	OutputFormatJSON = "json"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "config.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"

	// EnvPrefix prefixes environment overrides, e.g. UNWIND_MONTECARLO_RUNS.
	EnvPrefix = "UNWIND"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the web UI
	DefaultServerAddress = ":8080"

	// DefaultMaxUploadSizeBytes is the default maximum upload size for YAML configs (256 KB)
	DefaultMaxUploadSizeBytes int64 = 256 * 1024

	// DefaultRequestsPerSecond limits simulation requests to the server.
	DefaultRequestsPerSecond = 2.0

	// DefaultRequestBurst is the limiter burst size.
	DefaultRequestBurst = 4

	// DefaultMaxServerRuns caps monteCarlo.runs and sweep samples accepted over HTTP.
	DefaultMaxServerRuns = 200000

	// DefaultMaxServerBlocks caps the estimated simulated blocks, summed over
	// every run of one request.
	DefaultMaxServerBlocks = 100_000_000
)
