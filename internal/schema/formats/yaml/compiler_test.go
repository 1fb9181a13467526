package yaml

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/project-lattice/internal/core/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/schema"
)

func doc(name string, format schema.Format, definition string) *schema.Document {
	return &schema.Document{
		Name:        name,
		Format:      format,
		Definition:  []byte(definition),
		Fingerprint: schema.ComputeFingerprint([]byte(definition)),
	}
}

func TestCompiler_Compile(t *testing.T) {
	compiler := NewCompiler()
	ctx := context.Background()

	tests := []struct {
		name       string
		format     schema.Format
		definition string
		wantErr    bool
		errMsg     string
	}{
		{
			name: "valid shorthand - all property types",
			definition: `
name: traffic
entities:
  node:
    properties:
      label:   string
      active:  bool
      visits:  long
      weight:  double
      balance: decimal
      tags:    string_set
`,
		},
		{
			name: "valid long form with aggregator list",
			definition: `
name: traffic
default_aggregator: first
edges:
  data:
    properties:
      count: long
      last_seen:
        type: string
        aggregator: max
    aggregators:
      - properties: [count]
        operator: sum
`,
		},
		{
			name:       "valid json document",
			format:     schema.FormatJSON,
			definition: `{"name": "traffic", "edges": {"data": {"properties": {"count": "long"}, "aggregators": [{"properties": ["count"], "operator": "sum"}]}}}`,
		},
		{
			name: "unsupported type",
			definition: `
name: traffic
entities:
  node:
    properties:
      when: timestamp
`,
			wantErr: true,
			errMsg:  `unknown property type "timestamp"`,
		},
		{
			name: "long form missing type",
			definition: `
name: traffic
entities:
  node:
    properties:
      count:
        aggregator: sum
`,
			wantErr: true,
			errMsg:  "property missing 'type'",
		},
		{
			name: "unknown key rejected",
			definition: `
name: traffic
entitys:
  node: {}
`,
			wantErr: true,
			errMsg:  "field entitys not found",
		},
		{
			name:       "no groups",
			definition: `name: traffic`,
			wantErr:    true,
			errMsg:     "at least one entity or edge group",
		},
		{
			name: "name mismatch",
			definition: `
name: other
entities:
  node:
    properties: {}
`,
			wantErr: true,
			errMsg:  `does not match document name "traffic"`,
		},
		{
			name: "unknown default aggregator",
			definition: `
name: traffic
default_aggregator: median
entities:
  node:
    properties: {}
`,
			wantErr: true,
			errMsg:  "unknown default_aggregator",
		},
		{
			name: "binding without properties",
			definition: `
name: traffic
edges:
  data:
    properties:
      count: long
    aggregators:
      - operator: sum
`,
			wantErr: true,
			errMsg:  "at least one property is required",
		},
		{
			name: "double binding via long form and list",
			definition: `
name: traffic
edges:
  data:
    properties:
      count:
        type: long
        aggregator: max
    aggregators:
      - properties: [count]
        operator: sum
`,
			wantErr: true,
			errMsg:  `bound to both "max" and "sum"`,
		},
		{
			name: "operator incompatible with type",
			definition: `
name: traffic
edges:
  data:
    properties:
      label: string
    aggregators:
      - properties: [label]
        operator: sum
`,
			wantErr: true,
			errMsg:  `operator "sum" does not support type string`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format := tt.format
			if format == "" {
				format = schema.FormatYaml
			}
			_, err := compiler.Compile(ctx, doc("traffic", format, tt.definition))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCompiler_CompileResolvesBindings(t *testing.T) {
	d := doc("traffic", schema.FormatYaml, `
name: traffic
edges:
  data:
    properties:
      count: long
      seen:
        type: string
        aggregator: max
      label: string
    aggregators:
      - properties: [count]
        operator: sum
entities:
  junction:
    properties:
      flags: string_set
    aggregators:
      - properties: [flags]
        operator: union
`)

	s, err := NewCompiler().Compile(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, d.Fingerprint, s.Fingerprint)

	data, err := s.Definition(element.KindEdge, "data")
	require.NoError(t, err)

	expected := map[string]string{
		"count": aggregation.OpSum,
		"seen":  aggregation.OpMax,
		"label": aggregation.OpFirst,
	}
	for prop, want := range expected {
		got, ok := data.Operator(prop)
		require.True(t, ok, prop)
		assert.Equal(t, want, got, prop)
	}

	junction, err := s.Definition(element.KindEntity, "junction")
	require.NoError(t, err)
	tp, _ := junction.PropertyType("flags")
	assert.Equal(t, element.TypeStringSet, tp)
}

func TestCompiler_RejectsOtherFormats(t *testing.T) {
	_, err := NewCompiler().Compile(context.Background(), doc("traffic", "protobuf", "x"))
	require.ErrorContains(t, err, "expected yaml or json format")
}

func TestRegister(t *testing.T) {
	formats := schema.NewFormatRegistry()
	Register(formats)
	assert.True(t, formats.IsFormatSupported(schema.FormatYaml))
	assert.True(t, formats.IsFormatSupported(schema.FormatJSON))
}
