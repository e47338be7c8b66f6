package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/colgraph/bulkload/internal/buffermon"
	"github.com/colgraph/bulkload/internal/catalog"
	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/descriptor"
	"github.com/colgraph/bulkload/internal/layout"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/nodebuilder"
	"github.com/colgraph/bulkload/internal/obs"
	"github.com/colgraph/bulkload/internal/page"
	"github.com/colgraph/bulkload/internal/relbuilder"
	"github.com/colgraph/bulkload/internal/types"
	"github.com/colgraph/bulkload/internal/workerpool"
)

const descriptorFilename = "metadata.json"

// Orchestrator drives the whole build: it reads the dataset descriptor, runs
// the node builder for every node label and then the rel builder for
// every rel label, writes catalog.bin/graph.bin, and removes the
// output directory on any fatal error.
type Orchestrator struct {
	cfg     Config
	metrics *obs.Metrics
	monitor *buffermon.Monitor
}

// New creates an Orchestrator for the given input/output directories.
func New(inputDir, outputDir string, opts ...Option) *Orchestrator {
	cfg := defaultConfig(inputDir, outputDir)
	for _, opt := range opts {
		opt(&cfg)
	}
	mon := buffermon.New(cfg.BufferPoolSize)
	o := &Orchestrator{cfg: cfg, metrics: obs.NewMetrics(), monitor: mon}
	mon.OnPressure(func(used, limit int64) {
		cfg.Logger.Printf("warning: estimated resident memory %d bytes exceeds --buffer-pool-size %d bytes", used, limit)
	})
	return o
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.cfg.quiet() {
		return
	}
	o.cfg.Logger.Printf(format, args...)
}

// Run executes the full two-pass build and either leaves a fully
// populated output directory behind, or removes it entirely and
// returns the first fatal error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.run(ctx); err != nil {
		o.logf("bulk load failed: %v", err)
		if rmErr := os.RemoveAll(o.cfg.OutputDir); rmErr != nil {
			o.cfg.Logger.Printf("warning: failed to remove partial output directory %s: %v", o.cfg.OutputDir, rmErr)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	start := time.Now()

	d, err := descriptor.Load(filepath.Join(o.cfg.InputDir, descriptorFilename))
	if err != nil {
		return err
	}
	opts, err := csvOptionsFrom(d)
	if err != nil {
		return err
	}

	nodeLabels, labelIDByName, err := buildNodeLabels(o.cfg.InputDir, d, opts)
	if err != nil {
		return err
	}
	relLabels, err := buildRelLabels(o.cfg.InputDir, d, opts, labelIDByName)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.cfg.OutputDir, 0o755); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("create output directory %s", o.cfg.OutputDir))
	}

	// Every builder's column/list pages are charged against the
	// --buffer-pool-size budget through this allocator; files allocated
	// past the budget land in mmap-backed scratch arenas here instead
	// of the heap.
	scratchDir, err := os.MkdirTemp("", "graphload-scratch-")
	if err != nil {
		return loaderr.Wrap(loaderr.IO, err, "create scratch directory")
	}
	defer os.RemoveAll(scratchDir)
	alloc := page.NewAllocator(o.monitor, scratchDir)

	pool := workerpool.New(ctx, o.cfg.Threads)
	defer pool.Close()

	o.logf("bulk load: %d node labels, %d rel labels", len(nodeLabels), len(relLabels))

	nodeInfo, nodeBuilders, err := o.runNodeLabels(ctx, d, opts, nodeLabels, pool, alloc)
	if err != nil {
		return err
	}

	if err := o.flushNodeBuilders(ctx, nodeBuilders); err != nil {
		return err
	}

	if err := o.runRelLabels(ctx, d, opts, relLabels, nodeInfo, uint32(len(nodeLabels)), pool, alloc); err != nil {
		return err
	}

	if err := catalog.WriteCatalog(layout.CatalogFile(o.cfg.OutputDir), nodeLabels, relLabels); err != nil {
		return err
	}
	stats := catalog.BuildStats(nodeLabels, relLabels)
	if err := catalog.WriteStats(layout.GraphStatsFile(o.cfg.OutputDir), stats); err != nil {
		return err
	}

	o.metrics.PassDuration.Observe(time.Since(start).Seconds())
	o.logf("bulk load finished in %s", time.Since(start))
	return nil
}

// runNodeLabels runs the node-builder pipeline (minus Flush) for
// every node label in parallel, returning each label's populated
// index for the rel builders to reference.
func (o *Orchestrator) runNodeLabels(ctx context.Context, d *descriptor.Descriptor, opts csvio.Options, nodeLabels []*types.NodeLabel, pool *workerpool.Pool, alloc *page.Allocator) (map[types.LabelID]*relbuilder.NodeLabelInfo, []*nodebuilder.Builder, error) {
	info := make(map[types.LabelID]*relbuilder.NodeLabelInfo, len(nodeLabels))
	builders := make([]*nodebuilder.Builder, len(nodeLabels))

	var wg sync.WaitGroup
	errs := make([]error, len(nodeLabels))
	var mu sync.Mutex

	for i, nl := range nodeLabels {
		i, nl := i, nl
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := filepath.Join(o.cfg.InputDir, d.NodeFiles[i].Filename)
			blocks, err := csvio.PlanBlocks(path, o.cfg.BlockSize)
			if err != nil {
				errs[i] = err
				return
			}
			b := nodebuilder.New(nl, blocks, opts)
			b.Alloc = alloc
			if err := b.CountAndDiscover(ctx, pool); err != nil {
				errs[i] = err
				return
			}
			if err := b.InitStorage(ctx); err != nil {
				errs[i] = err
				return
			}
			if err := b.Populate(ctx, pool); err != nil {
				errs[i] = err
				return
			}
			if err := b.BuildUnstructuredLists(ctx); err != nil {
				errs[i] = err
				return
			}
			if err := b.PopulateUnstructuredLists(ctx, pool); err != nil {
				errs[i] = err
				return
			}
			o.metrics.NodesIngested.Add(float64(nl.NumNodes))
			mu.Lock()
			info[nl.ID] = &relbuilder.NodeLabelInfo{Label: nl, Index: b.Index}
			builders[i] = b
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return nil, nil, e
		}
	}
	return info, builders, nil
}

// flushNodeBuilders writes every node label's columns/index/lists to
// disk. This could safely overlap with starting the rel builders (rel
// pass 1 reads each label's in-memory pkindex.Index, never its flushed
// file) but is kept as an explicit barrier for a simpler, more
// readable orchestration.
func (o *Orchestrator) flushNodeBuilders(ctx context.Context, builders []*nodebuilder.Builder) error {
	var wg sync.WaitGroup
	errs := make([]error, len(builders))
	for i, b := range builders {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.Flush(ctx, o.cfg.OutputDir)
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// runRelLabels runs the rel-builder pipeline, including Flush, for
// every rel label in parallel.
func (o *Orchestrator) runRelLabels(ctx context.Context, d *descriptor.Descriptor, opts csvio.Options, relLabels []*types.RelLabel, nodeInfo map[types.LabelID]*relbuilder.NodeLabelInfo, totalNumLabels uint32, pool *workerpool.Pool, alloc *page.Allocator) error {
	labelIDByName := make(map[string]types.LabelID, len(nodeInfo))
	for id, info := range nodeInfo {
		labelIDByName[info.Label.Name] = id
	}

	var wg sync.WaitGroup
	errs := make([]error, len(relLabels))

	for i, rl := range relLabels {
		i, rl := i, rl
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := filepath.Join(o.cfg.InputDir, d.RelFiles[i].Filename)
			blocks, err := csvio.PlanBlocks(path, o.cfg.BlockSize)
			if err != nil {
				errs[i] = err
				return
			}
			b := relbuilder.New(rl, blocks, opts, nodeInfo, labelIDByName, totalNumLabels)
			b.Alloc = alloc
			if err := b.CountLines(ctx, pool); err != nil {
				errs[i] = err
				return
			}
			if err := b.Pass1(ctx, pool); err != nil {
				errs[i] = err
				return
			}
			if err := b.BuildListMetadata(ctx); err != nil {
				errs[i] = err
				return
			}
			if err := b.Pass2(ctx, pool); err != nil {
				errs[i] = err
				return
			}
			if err := b.ResortOverflow(ctx); err != nil {
				errs[i] = err
				return
			}
			if err := b.Flush(ctx, o.cfg.OutputDir); err != nil {
				errs[i] = err
				return
			}
			var total uint64
			for _, c := range rl.NumRelsPerDir[types.FWD] {
				total += c
			}
			o.metrics.RelsIngested.Add(float64(total))
		}()
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
