package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/project-lattice/internal/core/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
	"github.com/aevon-lab/project-lattice/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("traffic", "",
		&schema.ElementDefinition{
			Kind:  element.KindEdge,
			Group: "data",
			Properties: map[string]element.PropertyType{
				"count": element.TypeLong,
				"tags":  element.TypeStringSet,
			},
			Bindings: []schema.AggregatorBinding{{Properties: []string{"count"}, Operator: aggregation.OpSum}},
		},
		&schema.ElementDefinition{
			Kind:       element.KindEntity,
			Group:      "node",
			Properties: map[string]element.PropertyType{"label": element.TypeString},
		},
	)
	require.NoError(t, err)
	return s
}

func TestCSVGenerator_Edges(t *testing.T) {
	gen, err := BuildGenerator(&GeneratorSpec{
		Type:      "edge_csv",
		Group:     "data",
		Directed:  true,
		Separator: "|",
		Columns:   []string{"SOURCE", "DESTINATION", "-", "count"},
		Constants: map[string]interface{}{"tags": []interface{}{"csv"}},
	})
	require.NoError(t, err)

	el, err := gen.Generate(testSchema(t), "1|2|ignored|5")
	require.NoError(t, err)
	e := el.(*element.Edge)
	assert.Equal(t, "1", e.Source)
	assert.Equal(t, "2", e.Destination)
	assert.True(t, e.Directed)
	assert.Equal(t, element.Properties{"count": int64(5), "tags": []string{"csv"}}, e.Properties)
}

func TestCSVGenerator_DirectedColumn(t *testing.T) {
	gen, err := BuildGenerator(&GeneratorSpec{Type: "edge_csv", Group: "data", Columns: []string{"SOURCE", "DESTINATION", "DIRECTED"}})
	require.NoError(t, err)

	el, err := gen.Generate(testSchema(t), "b,a,false")
	require.NoError(t, err)
	e := el.(*element.Edge)
	assert.False(t, e.Directed)
	assert.Equal(t, "a", e.Source, "undirected endpoints are normalised")
}

func TestCSVGenerator_Entities(t *testing.T) {
	gen, err := BuildGenerator(&GeneratorSpec{Type: "entity_csv", Group: "node", Columns: []string{"VERTEX", "label"}})
	require.NoError(t, err)

	el, err := gen.Generate(testSchema(t), "1,hello")
	require.NoError(t, err)
	assert.Equal(t, element.NewEntity("node", "1", element.Properties{"label": "hello"}), el)
}

func TestCSVGenerator_Errors(t *testing.T) {
	s := testSchema(t)
	gen, err := BuildGenerator(&GeneratorSpec{Type: "edge_csv", Group: "data", Columns: []string{"SOURCE", "DESTINATION", "count"}})
	require.NoError(t, err)

	_, err = gen.Generate(s, 42)
	assert.ErrorContains(t, err, "expects a string, got int")

	_, err = gen.Generate(s, "1,2")
	assert.ErrorContains(t, err, "has 2 fields, expected 3")

	_, err = gen.Generate(s, "1,2,many")
	assert.ErrorIs(t, err, coreerr.ErrTypeMismatch)

	undeclared, err := BuildGenerator(&GeneratorSpec{Type: "edge_csv", Group: "data", Columns: []string{"SOURCE", "DESTINATION", "weight"}})
	require.NoError(t, err)
	_, err = undeclared.Generate(s, "1,2,3")
	assert.ErrorContains(t, err, "property is not declared")

	ghost, err := BuildGenerator(&GeneratorSpec{Type: "edge_csv", Group: "ghost", Columns: []string{"SOURCE", "DESTINATION"}})
	require.NoError(t, err)
	_, err = ghost.Generate(s, "1,2")
	assert.ErrorIs(t, err, coreerr.ErrUnknownGroup)

	for _, spec := range []*GeneratorSpec{
		{Type: "edge_csv", Columns: []string{"SOURCE"}},
		{Type: "edge_csv", Group: "data"},
		{Type: "edge_csv", Group: "data", Columns: []string{"SOURCE"}},
		{Type: "entity_csv", Group: "node", Columns: []string{"label"}},
	} {
		_, err := BuildGenerator(spec)
		assert.Error(t, err, "%+v", spec)
	}
}

func TestExtractors(t *testing.T) {
	edge := element.NewEdge("data", "1", "2", true, element.Properties{"count": int64(3), "tags": []string{"a", "b"}})
	edge.MatchedVertex = element.RoleDestination
	entity := element.NewEntity("node", "9", nil)

	tests := []struct {
		name string
		spec *ExtractorSpec
		in   element.Element
		want interface{}
		ok   bool
	}{
		{"adjacent by default", &ExtractorSpec{Type: "entity_seed"}, edge, element.EntitySeed{Vertex: "1", Role: element.RoleAdjacentMatchedVertex}, true},
		{"matched", &ExtractorSpec{Type: "entity_seed", Identifier: "MATCHED_VERTEX"}, edge, element.EntitySeed{Vertex: "2", Role: element.RoleMatchedVertex}, true},
		{"source", &ExtractorSpec{Type: "entity_seed", Identifier: "source"}, edge, element.EntitySeed{Vertex: "1", Role: element.RoleSource}, true},
		{"entity vertex", &ExtractorSpec{Type: "entity_seed"}, entity, element.EntitySeed{Vertex: "9"}, true},
		{"edges only", &ExtractorSpec{Type: "entity_seed", EdgesOnly: true}, entity, nil, false},
		{"edge seed", &ExtractorSpec{Type: "edge_seed"}, edge, element.EdgeSeed{Source: "1", Destination: "2", Directed: true}, true},
		{"edge seed skips entities", &ExtractorSpec{Type: "edge_seed"}, entity, nil, false},
		{"csv", &ExtractorSpec{Type: "csv", Columns: []string{"GROUP", "SOURCE", "count", "tags", "missing"}, Separator: ";"}, edge, "data;1;3;a,b;", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x, err := BuildExtractor(tc.spec)
			require.NoError(t, err)
			got, ok := x.Extract(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := BuildExtractor(&ExtractorSpec{Type: "entity_seed", Identifier: "LEFT"})
	assert.Error(t, err)
	_, err = BuildExtractor(&ExtractorSpec{Type: "csv"})
	assert.ErrorContains(t, err, "columns is required")
	_, err = BuildExtractor(&ExtractorSpec{Type: "json"})
	assert.ErrorContains(t, err, `unknown extractor "json"`)
}
