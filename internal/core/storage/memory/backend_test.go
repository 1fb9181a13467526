package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
)

func seeded(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend()
	err := b.AddElements(context.Background(), []element.Element{
		element.NewEdge("data", "2", "3", true, element.Properties{"count": int64(5)}),
		element.NewEdge("data", "1", "2", true, element.Properties{"count": int64(1)}),
		element.NewEntity("node", "1", element.Properties{"label": "one"}),
		element.NewEdge("data", "1", "2", true, element.Properties{"count": int64(3)}),
		element.NewEntity("node", "2", nil),
		element.NewEdge("link", "3", "1", false, nil),
	})
	require.NoError(t, err)
	return b
}

func TestBackend_EntitySeedReturnsGroupedRawElements(t *testing.T) {
	b := seeded(t)

	it, err := b.GetElementsRelatedTo(context.Background(), []element.Seed{element.EntitySeed{Vertex: "1"}}, storage.DefaultRelatedOptions())
	require.NoError(t, err)
	got, err := stream.Collect(it)
	require.NoError(t, err)

	// entity 1, two raw 1->2 edges (adjacent), undirected 1-3 link.
	require.Len(t, got, 4)
	require.Equal(t, element.KindEntity, got[0].Kind())
	require.Equal(t, got[1].Key(), got[2].Key())
	require.Equal(t, "link", got[3].GetGroup())
	require.Equal(t, element.RoleSource, got[3].(*element.Edge).MatchedVertex)
}

func TestBackend_Direction(t *testing.T) {
	b := seeded(t)
	opts := storage.RelatedOptions{Direction: element.DirectionIn, IncludeEdges: true}

	it, err := b.GetElementsRelatedTo(context.Background(), []element.Seed{element.EntitySeed{Vertex: "2"}}, opts)
	require.NoError(t, err)
	got, err := stream.Collect(it)
	require.NoError(t, err)

	require.Len(t, got, 2)
	for _, el := range got {
		e := el.(*element.Edge)
		require.Equal(t, "2", e.Destination)
		require.Equal(t, element.RoleDestination, e.MatchedVertex)
	}
}

func TestBackend_SharedEdgeReturnedOncePerRecord(t *testing.T) {
	b := seeded(t)
	opts := storage.RelatedOptions{Direction: element.DirectionBoth, IncludeEdges: true}

	it, err := b.GetElementsRelatedTo(context.Background(),
		[]element.Seed{element.EntitySeed{Vertex: "1"}, element.EntitySeed{Vertex: "2"}}, opts)
	require.NoError(t, err)
	got, err := stream.Collect(it)
	require.NoError(t, err)

	// 1->2 twice, 2->3 once, 1-3 link once.
	require.Len(t, got, 4)
}

func TestBackend_EdgeSeed(t *testing.T) {
	b := seeded(t)

	it, err := b.GetElementsRelatedTo(context.Background(),
		[]element.Seed{element.NewEdgeSeed("1", "2", true)}, storage.DefaultRelatedOptions())
	require.NoError(t, err)
	got, err := stream.Collect(it)
	require.NoError(t, err)

	var entities, edges int
	for _, el := range got {
		if el.Kind() == element.KindEntity {
			entities++
		} else {
			edges++
		}
	}
	require.Equal(t, 2, entities)
	require.Equal(t, 2, edges)
}

func TestBackend_ReturnsCopies(t *testing.T) {
	b := seeded(t)

	it, err := b.GetElementsRelatedTo(context.Background(), []element.Seed{element.EntitySeed{Vertex: "1"}},
		storage.RelatedOptions{IncludeEntities: true})
	require.NoError(t, err)
	got, err := stream.Collect(it)
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].GetProperties()["label"] = "changed"

	it, err = b.GetElementsRelatedTo(context.Background(), []element.Seed{element.EntitySeed{Vertex: "1"}},
		storage.RelatedOptions{IncludeEntities: true})
	require.NoError(t, err)
	again, err := stream.Collect(it)
	require.NoError(t, err)
	require.Equal(t, "one", again[0].GetProperties()["label"])
	require.Equal(t, 6, b.Len())
}

func TestBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBackend().GetElementsRelatedTo(ctx, nil, storage.DefaultRelatedOptions())
	require.ErrorIs(t, err, context.Canceled)
}
