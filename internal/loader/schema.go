package loader

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/descriptor"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/types"
)

// readHeaderLine returns the first non-empty line of a CSV file.
func readHeaderLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("open %s", path))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		return line, nil
	}
	if err := sc.Err(); err != nil {
		return "", loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("read header %s", path))
	}
	return "", loaderr.Newf(loaderr.SchemaError, "%s: empty CSV file, missing header line", path)
}

// buildNodeLabels realizes the NodeLabel table: one entry per
// descriptor.NodeFileDescription, labels assigned dense ids in
// descriptor order, and the header line parsed into structured
// property definitions.
func buildNodeLabels(inputDir string, d *descriptor.Descriptor, opts csvio.Options) ([]*types.NodeLabel, map[string]types.LabelID, error) {
	labels := make([]*types.NodeLabel, 0, len(d.NodeFiles))
	byName := make(map[string]types.LabelID, len(d.NodeFiles))

	for i, nf := range d.NodeFiles {
		path := filepath.Join(inputDir, nf.Filename)
		line, err := readHeaderLine(path)
		if err != nil {
			return nil, nil, err
		}
		props, err := descriptor.ParseNodeHeader(line, opts.Separator)
		if err != nil {
			return nil, nil, loaderr.Wrap(loaderr.SchemaError, err, fmt.Sprintf("node file %s", nf.Filename))
		}
		idType := types.IDInt64
		if nf.IDType == "STRING" {
			idType = types.IDString
		}
		nl := &types.NodeLabel{
			ID:              types.LabelID(i),
			Name:            nf.Label,
			IDType:          idType,
			StructuredProps: props,
		}
		labels = append(labels, nl)
		byName[nf.Label] = nl.ID
	}
	return labels, byName, nil
}

// buildRelLabels realizes the RelLabel table, resolving
// declared src/dst label names against the node label table.
func buildRelLabels(inputDir string, d *descriptor.Descriptor, opts csvio.Options, byName map[string]types.LabelID) ([]*types.RelLabel, error) {
	labels := make([]*types.RelLabel, 0, len(d.RelFiles))

	for i, rf := range d.RelFiles {
		path := filepath.Join(inputDir, rf.Filename)
		line, err := readHeaderLine(path)
		if err != nil {
			return nil, err
		}
		props, err := descriptor.ParseRelHeader(line, opts.Separator)
		if err != nil {
			return nil, loaderr.Wrap(loaderr.SchemaError, err, fmt.Sprintf("rel file %s", rf.Filename))
		}
		mult, err := types.ParseMultiplicity(rf.Multiplicity)
		if err != nil {
			return nil, err
		}
		src, err := resolveLabelNames(rf.SrcLabels, byName)
		if err != nil {
			return nil, err
		}
		dst, err := resolveLabelNames(rf.DstLabels, byName)
		if err != nil {
			return nil, err
		}
		labels = append(labels, &types.RelLabel{
			ID:           types.LabelID(i),
			Name:         rf.Label,
			Multiplicity: mult,
			SrcLabels:    src,
			DstLabels:    dst,
			Props:        props,
		})
	}
	return labels, nil
}

func resolveLabelNames(names []string, byName map[string]types.LabelID) ([]types.LabelID, error) {
	out := make([]types.LabelID, 0, len(names))
	for _, n := range names {
		id, ok := byName[n]
		if !ok {
			return nil, loaderr.Newf(loaderr.SchemaError, "unknown node label %q", n)
		}
		out = append(out, id)
	}
	return out, nil
}

// csvOptionsFrom converts the descriptor's string-typed dialect into
// csvio's byte-typed Options (defaults already filled in by
// descriptor.Load).
func csvOptionsFrom(d *descriptor.Descriptor) (csvio.Options, error) {
	sep, err := descriptor.CSVByte(d.CSV.Separator, "separator")
	if err != nil {
		return csvio.Options{}, err
	}
	quote, err := descriptor.CSVByte(d.CSV.Quote, "quote")
	if err != nil {
		return csvio.Options{}, err
	}
	escape, err := descriptor.CSVByte(d.CSV.Escape, "escape")
	if err != nil {
		return csvio.Options{}, err
	}
	begin, err := descriptor.CSVByte(d.CSV.ListBegin, "listBegin")
	if err != nil {
		return csvio.Options{}, err
	}
	end, err := descriptor.CSVByte(d.CSV.ListEnd, "listEnd")
	if err != nil {
		return csvio.Options{}, err
	}
	return csvio.Options{Separator: sep, Quote: quote, Escape: escape, ListBegin: begin, ListEnd: end}, nil
}
