package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/colgraph/bulkload/internal/catalog"
	"github.com/colgraph/bulkload/internal/descriptor"
	"github.com/colgraph/bulkload/internal/layout"
	"github.com/stretchr/testify/require"
)

// writeDataset lays out a tiny two-label, one-rel-label dataset (two
// Person rows, two City rows, two LIVES_IN edges) under dir.
func writeDataset(t *testing.T, dir string) {
	t.Helper()

	personCSV := "ID\tname:STRING\n1\tAlice\n2\tBob\n"
	cityCSV := "ID\tname:STRING\n10\tParis\n20\tOslo\n"
	livesCSV := "START_ID\tSTART_ID_LABEL\tEND_ID\tEND_ID_LABEL\tyear:INT64\n" +
		"1\tPerson\t10\tCity\t2019\n" +
		"2\tPerson\t20\tCity\t2021\n"

	require.NoError(t, os.WriteFile(filepath.Join(dir, "person.csv"), []byte(personCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "city.csv"), []byte(cityCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lives_in.csv"), []byte(livesCSV), 0o644))

	d := descriptor.Descriptor{
		CSV: descriptor.CSVOptions{Separator: "\t"},
		NodeFiles: []descriptor.NodeFileDescription{
			{Filename: "person.csv", Label: "Person", IDType: "INT64"},
			{Filename: "city.csv", Label: "City", IDType: "INT64"},
		},
		RelFiles: []descriptor.RelFileDescription{
			{
				Filename:     "lives_in.csv",
				Label:        "LIVES_IN",
				Multiplicity: "MANY_ONE",
				SrcLabels:    []string{"Person"},
				DstLabels:    []string{"City"},
			},
		},
	}
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptorFilename), raw, 0o644))
}

func TestOrchestratorRunProducesCatalogAndGraphStats(t *testing.T) {
	inDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	writeDataset(t, inDir)

	orc := New(inDir, outDir, WithThreads(2), WithVerbosity("error"))
	require.NoError(t, orc.Run(context.Background()))

	catBytes, err := os.ReadFile(layout.CatalogFile(outDir))
	require.NoError(t, err)
	nodeLabels, relLabels, err := catalog.DecodeCatalog(catBytes)
	require.NoError(t, err)
	require.Len(t, nodeLabels, 2)
	require.Len(t, relLabels, 1)

	statBytes, err := os.ReadFile(layout.GraphStatsFile(outDir))
	require.NoError(t, err)
	stats, err := catalog.DecodeStats(statBytes)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.NodeCounts[nodeLabels[0].ID])
	require.EqualValues(t, 2, stats.NodeCounts[nodeLabels[1].ID])
}

func TestOrchestratorRunRemovesOutputOnFailure(t *testing.T) {
	inDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	// No metadata.json written: descriptor.Load must fail immediately.

	orc := New(inDir, outDir, WithVerbosity("error"))
	err := orc.Run(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(outDir)
	require.True(t, os.IsNotExist(statErr))
}
