// Command graphload is the bulk graph ingestion engine's CLI driver:
// a thin flag-parsing wrapper around internal/loader.Orchestrator. It
// carries no sophistication of its own (no progress bar, no
// interactive prompts), just the minimal surface that lets the
// orchestrator be exercised end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/colgraph/bulkload/internal/loader"
	"github.com/colgraph/bulkload/internal/loaderr"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("graphload", flag.ContinueOnError)
	threads := fs.Int("threads", 0, "worker pool size (default: hardware concurrency)")
	verbosity := fs.String("verbosity", "info", "log verbosity: trace|debug|info|warn|error")
	bufferPoolSize := fs.Int64("buffer-pool-size", 0, "estimated resident memory budget in bytes (0 = unbounded)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: graphload [flags] <inputDir> <outputDir>")
		fs.PrintDefaults()
		return 2
	}
	inputDir, outputDir := fs.Arg(0), fs.Arg(1)

	logger := log.New(os.Stderr, "", log.LstdFlags)
	orc := loader.New(inputDir, outputDir,
		loader.WithThreads(*threads),
		loader.WithVerbosity(*verbosity),
		loader.WithBufferPoolSize(*bufferPoolSize),
		loader.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orc.Run(ctx); err != nil {
		reportError(logger, err)
		return 1
	}
	return 0
}

// reportError prints the (kind, file path, block index,
// line-within-block, message) tuple when the error carries that
// location context, falling back to a plain message otherwise.
func reportError(logger *log.Logger, err error) {
	var le *loaderr.Error
	if e, ok := err.(*loaderr.Error); ok {
		le = e
	}
	if le == nil || le.FilePath == "" {
		logger.Printf("fatal: %v", err)
		return
	}
	logger.Printf("fatal: kind=%s file=%s block=%d line=%d: %s",
		le.Kind, le.FilePath, le.BlockIndex, le.LineInBlock, le.Message)
}
