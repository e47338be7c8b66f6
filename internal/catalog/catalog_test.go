package catalog

import (
	"testing"

	"github.com/colgraph/bulkload/internal/types"
	"github.com/stretchr/testify/require"
)

func sampleLabels() ([]*types.NodeLabel, []*types.RelLabel) {
	person := &types.NodeLabel{
		ID:     0,
		Name:   "Person",
		IDType: types.IDInt64,
		StructuredProps: []types.PropertyDef{
			{Name: "age", ID: 0, Type: types.Int64},
			{Name: "name", ID: 1, Type: types.String},
		},
		UnstructuredPropIDs: map[string]uint32{"nickname": 0, "bio": 1},
		NumNodes:            3,
	}
	city := &types.NodeLabel{
		ID:       1,
		Name:     "City",
		IDType:   types.IDString,
		NumNodes: 2,
	}
	lives := &types.RelLabel{
		ID:           0,
		Name:         "Lives",
		Multiplicity: types.ManyOne,
		SrcLabels:    []types.LabelID{0},
		DstLabels:    []types.LabelID{1},
		Props: []types.PropertyDef{
			{Name: "since", ID: 0, Type: types.Int64},
		},
		NumRelsPerDir: [2]map[types.LabelID]uint64{
			{1: 3},
			{0: 2, 1: 1},
		},
	}
	return []*types.NodeLabel{person, city}, []*types.RelLabel{lives}
}

func TestCatalogRoundTrip(t *testing.T) {
	nodeLabels, relLabels := sampleLabels()
	b, err := EncodeCatalog(nodeLabels, relLabels)
	require.NoError(t, err)

	gotNode, gotRel, err := DecodeCatalog(b)
	require.NoError(t, err)
	require.Equal(t, nodeLabels, gotNode)
	require.Equal(t, relLabels, gotRel)
}

func TestCatalogDeterministic(t *testing.T) {
	nodeLabels, relLabels := sampleLabels()
	b1, err := EncodeCatalog(nodeLabels, relLabels)
	require.NoError(t, err)
	b2, err := EncodeCatalog(nodeLabels, relLabels)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestStatsRoundTrip(t *testing.T) {
	nodeLabels, relLabels := sampleLabels()
	stats := BuildStats(nodeLabels, relLabels)
	b, err := EncodeStats(stats)
	require.NoError(t, err)

	got, err := DecodeStats(b)
	require.NoError(t, err)
	require.Equal(t, stats, got)
	require.Equal(t, uint64(3), got.NodeCounts[0])
	require.Equal(t, [2]uint64{3, 3}, got.RelCounts[0])
}

func TestCatalogBadMagicRejected(t *testing.T) {
	_, _, err := DecodeCatalog([]byte{0, 0, 0, 0})
	require.Error(t, err)
}
