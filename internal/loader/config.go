// Package loader implements the orchestrator: it reads the dataset
// descriptor, plans CSV blocks, runs the node builder for every node
// label, then the rel builder for every rel label, writes the catalog
// and graph-statistics files, and tears the output directory down on
// the first fatal error.
//
// Configuration uses functional options (loader.Option) rather than a
// bare struct literal.
package loader

import (
	"log"
)

// Config holds the orchestrator's run-time parameters, mirroring the
// CLI surface (`--threads`, `--verbosity`, `--buffer-pool-size`).
type Config struct {
	InputDir       string
	OutputDir      string
	Threads        int
	Verbosity      string
	BufferPoolSize int64
	BlockSize      int64
	Logger         *log.Logger
}

// Option configures an Orchestrator at construction time.
type Option func(*Config)

// WithThreads overrides the worker pool size (default: hardware
// concurrency, via internal/workerpool.New's own default when n <= 0).
func WithThreads(n int) Option {
	return func(c *Config) { c.Threads = n }
}

// WithVerbosity sets the log verbosity label
// (trace|debug|info|warn|error); this build only uses it to decide
// whether milestone logs are emitted (anything quieter than "info"
// suppresses them).
func WithVerbosity(level string) Option {
	return func(c *Config) { c.Verbosity = level }
}

// WithBufferPoolSize sets the estimated resident-memory budget (bytes)
// that internal/buffermon warns against exceeding. 0 means unbounded.
func WithBufferPoolSize(bytes int64) Option {
	return func(c *Config) { c.BufferPoolSize = bytes }
}

// WithBlockSize overrides the CSV block size used for parallel reads
// (default csvio.DefaultBlockSize).
func WithBlockSize(bytes int64) Option {
	return func(c *Config) { c.BlockSize = bytes }
}

// WithLogger overrides the default logger (log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig(inputDir, outputDir string) Config {
	return Config{
		InputDir:  inputDir,
		OutputDir: outputDir,
		Logger:    log.Default(),
	}
}

func (c *Config) quiet() bool {
	switch c.Verbosity {
	case "warn", "error":
		return true
	default:
		return false
	}
}
