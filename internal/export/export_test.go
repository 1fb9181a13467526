package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/project-lattice/internal/core/element"
)

func seeds(vertices ...string) []interface{} {
	out := make([]interface{}, len(vertices))
	for i, v := range vertices {
		out[i] = element.EntitySeed{Vertex: v}
	}
	return out
}

func TestContext_RoundTripIsSetUnion(t *testing.T) {
	c := New()
	c.Initialise("x")
	assert.Equal(t, 2, c.Update("x", seeds("A", "B")))

	got, err := c.Fetch("x")
	require.NoError(t, err)
	assert.Equal(t, seeds("A", "B"), got)

	assert.Equal(t, 1, c.Update("x", seeds("B", "C")))
	got, err = c.Fetch("x")
	require.NoError(t, err)
	assert.Equal(t, seeds("A", "B", "C"), got)
}

func TestContext_SeedIdentityIgnoresRole(t *testing.T) {
	c := New()
	c.Update("x", []interface{}{
		element.EntitySeed{Vertex: "A", Role: element.RoleSource},
		element.EntitySeed{Vertex: "A", Role: element.RoleAdjacentMatchedVertex},
		element.NewEdgeSeed("2", "1", false),
		element.NewEdgeSeed("1", "2", false),
		element.NewEdgeSeed("1", "2", true),
	})
	assert.Equal(t, 3, c.Len("x"))
}

func TestContext_ElementsCollapseByKey(t *testing.T) {
	c := New()
	c.Update("", []interface{}{
		element.NewEdge("data", "1", "2", true, element.Properties{"count": int64(1)}),
		element.NewEdge("data", "1", "2", true, element.Properties{"count": int64(9)}),
		element.NewEntity("data", "1", nil),
	})
	got, err := c.Fetch(DefaultName)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].(element.Element).GetProperties()["count"], "the first item wins")
}

func TestContext_DistinctElementsWithSeparatorBytes(t *testing.T) {
	c := New()
	added := c.Update("x", []interface{}{
		element.NewEdge("data", "a\x1fb", "c", true, nil),
		element.NewEdge("data", "a", "b\x1fc", true, nil),
		element.EntitySeed{Vertex: "a\x01"},
		element.EntitySeed{Vertex: "a"},
	})
	assert.Equal(t, 4, added)
}

func TestContext_FetchUnknown(t *testing.T) {
	c := New()
	_, err := c.Fetch("missing")
	require.ErrorIs(t, err, ErrExportNotInitialised)
	assert.Equal(t, 0, c.Len("missing"))
}

func TestContext_InitialiseResets(t *testing.T) {
	c := New()
	c.Update("x", seeds("A"))
	c.Initialise("x")

	got, err := c.Fetch("x")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestContext_FetchIsSnapshot(t *testing.T) {
	c := New()
	c.Update("x", seeds("A"))
	got, err := c.Fetch("x")
	require.NoError(t, err)

	c.Update("x", seeds("B"))
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"x"}, c.Names())
}
