// Package layout implements the output directory's file-naming
// scheme: every produced file's name is a pure function of
// (label, direction, column/list kind, property name).
package layout

import (
	"fmt"
	"path/filepath"

	"github.com/colgraph/bulkload/internal/types"
)

// NodeColumn returns the path of a node label's structured property
// column file.
func NodeColumn(outDir, label, property string) string {
	return filepath.Join(outDir, fmt.Sprintf("n-%s-%s.col", label, property))
}

// NodeColumnOverflow returns the overflow sidecar path for a
// variable-length node property column.
func NodeColumnOverflow(outDir, label, property string) string {
	return NodeColumn(outDir, label, property) + ".ovf"
}

// NodePKIndex returns a node label's primary-key index file path.
func NodePKIndex(outDir, label string) string {
	return filepath.Join(outDir, fmt.Sprintf("n-%s.pki", label))
}

// NodePKIndexOverflow returns the string-key overflow sidecar for a
// node label's primary-key index.
func NodePKIndexOverflow(outDir, label string) string {
	return NodePKIndex(outDir, label) + ".ovf"
}

// NodeUnstructuredLists returns the path triple for a node label's
// unstructured-property list storage.
func NodeUnstructuredLists(outDir, label string) (lists, headers, metadata string) {
	base := filepath.Join(outDir, fmt.Sprintf("n-%s.unstr.lists", label))
	return base, base + ".headers", base + ".metadata"
}

// RelAdjColumn returns a single-multiplicity adjacency column's path.
func RelAdjColumn(outDir, relLabel, boundLabel string, dir types.Direction) string {
	return filepath.Join(outDir, fmt.Sprintf("e-%s-%s-%s.col", relLabel, boundLabel, dir))
}

// RelAdjLists returns the path triple for a multi-multiplicity
// direction's adjacency list storage.
func RelAdjLists(outDir, relLabel, boundLabel string, dir types.Direction) (lists, headers, metadata string) {
	base := filepath.Join(outDir, fmt.Sprintf("e-%s-%s-%s.lists", relLabel, boundLabel, dir))
	return base, base + ".headers", base + ".metadata"
}

// RelPropertyColumn returns a single-multiplicity direction's
// per-property column path.
func RelPropertyColumn(outDir, relLabel, boundLabel string, dir types.Direction, property string) string {
	return filepath.Join(outDir, fmt.Sprintf("e-%s-%s-%s-%s.col", relLabel, boundLabel, dir, property))
}

// RelPropertyList returns the path triple for a multi-multiplicity
// direction's per-property list storage.
func RelPropertyList(outDir, relLabel, boundLabel string, dir types.Direction, property string) (lists, headers, metadata string) {
	base := filepath.Join(outDir, fmt.Sprintf("e-%s-%s-%s-%s.lists", relLabel, boundLabel, dir, property))
	return base, base + ".headers", base + ".metadata"
}

// RelPropertyOverflow returns the ordered-overflow file path backing a
// rel direction's variable-length properties (post re-sort).
func RelPropertyOverflow(outDir, relLabel, boundLabel string, dir types.Direction, property string) string {
	return RelPropertyColumn(outDir, relLabel, boundLabel, dir, property) + ".ovf"
}

// CatalogFile and GraphStatsFile are the two fixed, label-independent
// output files.
func CatalogFile(outDir string) string    { return filepath.Join(outDir, "catalog.bin") }
func GraphStatsFile(outDir string) string { return filepath.Join(outDir, "graph.bin") }
