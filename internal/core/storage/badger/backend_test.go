package badger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
)

func openInMemory(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestBackend_RoundTripKeepsTypes(t *testing.T) {
	b := openInMemory(t)
	ctx := context.Background()

	err := b.AddElements(ctx, []element.Element{
		element.NewEntity("account", "acc-1", element.Properties{
			"balance": decimal.RequireFromString("10.50"),
			"visits":  int64(3),
			"tags":    []string{"gold"},
		}),
	})
	require.NoError(t, err)

	it, err := b.GetElementsRelatedTo(ctx, []element.Seed{element.EntitySeed{Vertex: "acc-1"}}, storage.DefaultRelatedOptions())
	require.NoError(t, err)
	got, err := stream.Collect(it)
	require.NoError(t, err)
	require.Len(t, got, 1)

	props := got[0].GetProperties()
	require.True(t, decimal.RequireFromString("10.5").Equal(props["balance"].(decimal.Decimal)))
	require.Equal(t, int64(3), props["visits"])
	require.Equal(t, []string{"gold"}, props["tags"])
}

func TestBackend_RelatedElements(t *testing.T) {
	b := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, b.AddElements(ctx, []element.Element{
		element.NewEdge("data", "1", "2", true, element.Properties{"count": int64(1)}),
		element.NewEdge("data", "2", "3", true, element.Properties{"count": int64(5)}),
		element.NewEntity("node", "1", nil),
	}))
	require.NoError(t, b.AddElements(ctx, []element.Element{
		element.NewEdge("data", "1", "2", true, element.Properties{"count": int64(3)}),
	}))

	tests := []struct {
		name      string
		seeds     []element.Seed
		opts      storage.RelatedOptions
		wantCount int
	}{
		{"vertex both directions", []element.Seed{element.EntitySeed{Vertex: "2"}},
			storage.RelatedOptions{Direction: element.DirectionBoth, IncludeEdges: true}, 3},
		{"vertex out only", []element.Seed{element.EntitySeed{Vertex: "2"}},
			storage.RelatedOptions{Direction: element.DirectionOut, IncludeEdges: true}, 1},
		{"shared records read once", []element.Seed{element.EntitySeed{Vertex: "1"}, element.EntitySeed{Vertex: "2"}},
			storage.RelatedOptions{Direction: element.DirectionBoth, IncludeEdges: true}, 3},
		{"entity and edges", []element.Seed{element.EntitySeed{Vertex: "1"}}, storage.DefaultRelatedOptions(), 3},
		{"edge seed", []element.Seed{element.NewEdgeSeed("1", "2", true)},
			storage.RelatedOptions{IncludeEdges: true}, 2},
		{"unknown vertex", []element.Seed{element.EntitySeed{Vertex: "9"}}, storage.DefaultRelatedOptions(), 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			it, err := b.GetElementsRelatedTo(ctx, tc.seeds, tc.opts)
			require.NoError(t, err)
			got, err := stream.Collect(it)
			require.NoError(t, err)
			assert.Len(t, got, tc.wantCount)
		})
	}
}

func TestBackend_IndexIsolatesVerticesSharingAPrefix(t *testing.T) {
	b := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, b.AddElements(ctx, []element.Element{
		element.NewEntity("node", "a", nil),
		element.NewEntity("node", "a\x1fb", nil),
		element.NewEntity("node", "a\x01b", nil),
		element.NewEntity("node", "a\x01\x01b", nil),
	}))

	for _, v := range []string{"a", "a\x1fb", "a\x01b", "a\x01\x01b"} {
		it, err := b.GetElementsRelatedTo(ctx, []element.Seed{element.EntitySeed{Vertex: v}}, storage.DefaultRelatedOptions())
		require.NoError(t, err)
		got, err := stream.Collect(it)
		require.NoError(t, err, "vertex %q", v)
		require.Len(t, got, 1, "vertex %q", v)
		assert.Equal(t, v, got[0].(*element.Entity).Vertex)
	}
}

func TestBackend_CloseIteratorEarly(t *testing.T) {
	b := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, b.AddElements(ctx, []element.Element{
		element.NewEntity("node", "1", nil),
		element.NewEntity("node", "1", nil),
	}))

	it, err := b.GetElementsRelatedTo(ctx, []element.Seed{element.EntitySeed{Vertex: "1"}}, storage.DefaultRelatedOptions())
	require.NoError(t, err)
	require.True(t, it.Next())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	require.False(t, it.Next())
}

func TestBackend_Locality(t *testing.T) {
	require.Equal(t, storage.LocalityUnordered, openInMemory(t).Locality())
}
