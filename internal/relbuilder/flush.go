package relbuilder

import (
	"context"
	"fmt"
	"sync"

	"github.com/colgraph/bulkload/internal/layout"
	"github.com/colgraph/bulkload/internal/listheader"
	"github.com/colgraph/bulkload/internal/listmeta"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/types"
)

// Flush writes every column and list structure produced by both
// directions to outDir, named per internal/layout's scheme.
// Column/list flushes for independent (direction, label,
// property) combinations run concurrently; the first error
// encountered is returned.
func (b *Builder) Flush(ctx context.Context, outDir string) error {
	jobs := append(b.sideFlushJobs(ctx, outDir, b.fwd), b.sideFlushJobs(ctx, outDir, b.bwd)...)

	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = job()
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

func (b *Builder) sideFlushJobs(ctx context.Context, outDir string, side *sideState) []func() error {
	var jobs []func() error
	for _, lbl := range side.srcLabels {
		lbl := lbl
		boundName := b.nodeLabels[lbl].Label.Name

		if side.single {
			jobs = append(jobs, func() error {
				path := layout.RelAdjColumn(outDir, b.Label.Name, boundName, side.dir)
				if err := side.adjColumn[lbl].Flush(ctx, path); err != nil {
					return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush adjacency column %s", path))
				}
				return nil
			})
			for _, prop := range b.props {
				prop := prop
				jobs = append(jobs, func() error {
					return b.flushPropColumn(ctx, outDir, side, lbl, boundName, prop)
				})
			}
			continue
		}

		jobs = append(jobs, func() error {
			return b.flushAdjList(ctx, outDir, side, lbl, boundName)
		})
		for _, prop := range b.props {
			prop := prop
			jobs = append(jobs, func() error {
				return b.flushPropList(ctx, outDir, side, lbl, boundName, prop)
			})
		}
	}
	return jobs
}

func (b *Builder) flushPropColumn(ctx context.Context, outDir string, side *sideState, lbl types.LabelID, boundName string, prop types.PropertyDef) error {
	col := side.propColumn[prop.ID][lbl]
	path := layout.RelPropertyColumn(outDir, b.Label.Name, boundName, side.dir, prop.Name)
	if err := col.file.Flush(ctx, path); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush property column %s", path))
	}
	if col.ovfl != nil {
		ovflPath := layout.RelPropertyOverflow(outDir, b.Label.Name, boundName, side.dir, prop.Name)
		if err := col.ovfl.Pages().Flush(ctx, ovflPath); err != nil {
			return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush property column overflow %s", ovflPath))
		}
	}
	return nil
}

func (b *Builder) flushAdjList(ctx context.Context, outDir string, side *sideState, lbl types.LabelID, boundName string) error {
	layoutStruct := side.adjLayout[lbl]
	listsPath, headersPath, metaPath := layout.RelAdjLists(outDir, b.Label.Name, boundName, side.dir)
	if err := layoutStruct.file.Flush(ctx, listsPath); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush adjacency list %s", listsPath))
	}
	if err := listheader.WriteHeaders(ctx, headersPath, layoutStruct.headers); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush adjacency list headers %s", headersPath))
	}
	if err := listmeta.WriteMetadata(ctx, metaPath, layoutStruct.meta); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush adjacency list metadata %s", metaPath))
	}
	return nil
}

func (b *Builder) flushPropList(ctx context.Context, outDir string, side *sideState, lbl types.LabelID, boundName string, prop types.PropertyDef) error {
	layoutStruct := side.propLayout[prop.ID][lbl]
	listsPath, headersPath, metaPath := layout.RelPropertyList(outDir, b.Label.Name, boundName, side.dir, prop.Name)
	if err := layoutStruct.file.Flush(ctx, listsPath); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush property list %s", listsPath))
	}
	if err := listheader.WriteHeaders(ctx, headersPath, layoutStruct.headers); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush property list headers %s", headersPath))
	}
	if err := listmeta.WriteMetadata(ctx, metaPath, layoutStruct.meta); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush property list metadata %s", metaPath))
	}
	ovfl := side.propOvfl[prop.ID][lbl]
	if ovfl != nil {
		ovflPath := layout.RelPropertyOverflow(outDir, b.Label.Name, boundName, side.dir, prop.Name)
		if err := ovfl.Pages().Flush(ctx, ovflPath); err != nil {
			return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush property list overflow %s", ovflPath))
		}
	}
	return nil
}
