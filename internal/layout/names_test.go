package layout

import (
	"testing"

	"github.com/colgraph/bulkload/internal/types"
	"github.com/stretchr/testify/require"
)

func TestNodeColumnNaming(t *testing.T) {
	require.Equal(t, "out/n-Person-age.col", NodeColumn("out", "Person", "age"))
	require.Equal(t, "out/n-Person-age.col.ovf", NodeColumnOverflow("out", "Person", "age"))
}

func TestRelNamingDirectionSuffix(t *testing.T) {
	require.Equal(t, "out/e-Knows-Person-fwd.col", RelAdjColumn("out", "Knows", "Person", types.FWD))
	require.Equal(t, "out/e-Knows-Person-bwd.col", RelAdjColumn("out", "Knows", "Person", types.BWD))
}

func TestRelAdjListsSidecars(t *testing.T) {
	lists, headers, meta := RelAdjLists("out", "Knows", "Person", types.FWD)
	require.Equal(t, "out/e-Knows-Person-fwd.lists", lists)
	require.Equal(t, "out/e-Knows-Person-fwd.lists.headers", headers)
	require.Equal(t, "out/e-Knows-Person-fwd.lists.metadata", meta)
}
