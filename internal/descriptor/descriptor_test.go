package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "nodeFileDescriptions": [
    {"filename": "persons.csv", "label": "Person", "IDType": "INT64"}
  ],
  "relFileDescriptions": [
    {"filename": "knows.csv", "label": "Knows", "multiplicity": "MANY_MANY",
     "srcNodeLabels": ["Person"], "dstNodeLabels": ["Person"]}
  ]
}`

func writeTemp(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, sampleJSON)
	d, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ",", d.CSV.Separator)
	require.Equal(t, `"`, d.CSV.Quote)
	require.Len(t, d.NodeFiles, 1)
	require.Len(t, d.RelFiles, 1)
}

func TestLoadRejectsUnknownRelEndpointLabel(t *testing.T) {
	bad := `{
      "nodeFileDescriptions": [{"filename": "a.csv", "label": "A", "IDType": "INT64"}],
      "relFileDescriptions": [{"filename": "r.csv", "label": "R", "multiplicity": "ONE_ONE",
        "srcNodeLabels": ["A"], "dstNodeLabels": ["B"]}]
    }`
	path := writeTemp(t, bad)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateNodeLabel(t *testing.T) {
	bad := `{
      "nodeFileDescriptions": [
        {"filename": "a.csv", "label": "A", "IDType": "INT64"},
        {"filename": "a2.csv", "label": "A", "IDType": "INT64"}
      ]
    }`
	path := writeTemp(t, bad)
	_, err := Load(path)
	require.Error(t, err)
}
