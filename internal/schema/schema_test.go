package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/project-lattice/internal/core/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
)

func edgeDef(group string, props map[string]element.PropertyType, bindings ...AggregatorBinding) *ElementDefinition {
	return &ElementDefinition{Kind: element.KindEdge, Group: group, Properties: props, Bindings: bindings}
}

func entityDef(group string, props map[string]element.PropertyType, bindings ...AggregatorBinding) *ElementDefinition {
	return &ElementDefinition{Kind: element.KindEntity, Group: group, Properties: props, Bindings: bindings}
}

func TestNew_ResolvesOperators(t *testing.T) {
	s, err := New("traffic", "",
		edgeDef("data", map[string]element.PropertyType{
			"count": element.TypeLong,
			"label": element.TypeString,
			"tags":  element.TypeStringSet,
		},
			AggregatorBinding{Properties: []string{"count"}, Operator: aggregation.OpSum},
			AggregatorBinding{Properties: []string{"tags"}, Operator: aggregation.OpUnion},
		),
	)
	require.NoError(t, err)
	require.Equal(t, aggregation.DefaultOperator, s.DefaultAggregator)

	def, err := s.Definition(element.KindEdge, "data")
	require.NoError(t, err)

	op, ok := def.Operator("count")
	require.True(t, ok)
	assert.Equal(t, aggregation.OpSum, op)

	op, _ = def.Operator("label")
	assert.Equal(t, aggregation.OpFirst, op, "unbound property uses the default")

	_, ok = def.Aggregator("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"count", "label", "tags"}, def.PropertyNames())
}

func TestNew_DefaultAggregatorFallsBackForUnsupportedTypes(t *testing.T) {
	s, err := New("traffic", aggregation.OpSum,
		entityDef("node", map[string]element.PropertyType{
			"weight": element.TypeDouble,
			"label":  element.TypeString,
		}),
	)
	require.NoError(t, err)

	def := s.Entities["node"]
	op, _ := def.Operator("weight")
	assert.Equal(t, aggregation.OpSum, op)
	op, _ = def.Operator("label")
	assert.Equal(t, aggregation.OpFirst, op)
}

func TestNew_RejectsInvalidDefinitions(t *testing.T) {
	long := map[string]element.PropertyType{"count": element.TypeLong}

	tests := []struct {
		name    string
		defAgg  string
		defs    []*ElementDefinition
		wantMsg string
	}{
		{
			name:    "unknown default aggregator",
			defAgg:  "median",
			defs:    []*ElementDefinition{edgeDef("data", long)},
			wantMsg: `unknown aggregation operator "median"`,
		},
		{
			name: "operator does not support type",
			defs: []*ElementDefinition{edgeDef("data", long,
				AggregatorBinding{Properties: []string{"count"}, Operator: aggregation.OpAnd})},
			wantMsg: `operator "and" does not support type long`,
		},
		{
			name: "property bound twice",
			defs: []*ElementDefinition{edgeDef("data", long,
				AggregatorBinding{Properties: []string{"count"}, Operator: aggregation.OpSum},
				AggregatorBinding{Properties: []string{"count"}, Operator: aggregation.OpMax})},
			wantMsg: `bound to both "sum" and "max"`,
		},
		{
			name: "binding names undeclared property",
			defs: []*ElementDefinition{edgeDef("data", long,
				AggregatorBinding{Properties: []string{"weight"}, Operator: aggregation.OpSum})},
			wantMsg: "undeclared property",
		},
		{
			name:    "group declared as entity and edge",
			defs:    []*ElementDefinition{entityDef("data", long), edgeDef("data", long)},
			wantMsg: "group declared more than once",
		},
		{
			name:    "empty group name",
			defs:    []*ElementDefinition{edgeDef("", long)},
			wantMsg: "group name is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("traffic", tc.defAgg, tc.defs...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestSchema_Definition_UnknownGroup(t *testing.T) {
	s, err := New("traffic", "", entityDef("node", nil))
	require.NoError(t, err)

	_, err = s.Definition(element.KindEdge, "node")
	require.ErrorIs(t, err, coreerr.ErrUnknownGroup)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "node", ve.Details()["group"])

	assert.True(t, s.HasGroup("node"))
	assert.Equal(t, []string{"node"}, s.Groups())
}

func TestSchema_Normalise(t *testing.T) {
	s, err := New("traffic", "",
		edgeDef("data", map[string]element.PropertyType{
			"count": element.TypeLong,
			"tags":  element.TypeStringSet,
		}),
	)
	require.NoError(t, err)

	t.Run("coerces values", func(t *testing.T) {
		in := element.NewEdge("data", "1", "2", true, element.Properties{
			"count": 3,
			"tags":  []interface{}{"b", "a", "b"},
		})
		out, err := s.Normalise(in)
		require.NoError(t, err)
		assert.Equal(t, int64(3), out.GetProperties()["count"])
		assert.Equal(t, []string{"a", "b"}, out.GetProperties()["tags"])
		assert.Equal(t, 3, in.Properties["count"], "input is not modified")
	})

	t.Run("type mismatch", func(t *testing.T) {
		err := s.ValidateElement(element.NewEdge("data", "1", "2", true, element.Properties{"count": "many"}))
		require.ErrorIs(t, err, coreerr.ErrTypeMismatch)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "count", ve.Field)
		assert.Equal(t, "long", ve.ExpectedType)
	})

	t.Run("undeclared property", func(t *testing.T) {
		err := s.ValidateElement(element.NewEdge("data", "1", "2", true, element.Properties{"weight": 1.5}))
		require.ErrorIs(t, err, coreerr.ErrTypeMismatch)
		assert.Contains(t, err.Error(), "not declared")
	})

	t.Run("unknown group", func(t *testing.T) {
		err := s.ValidateElement(element.NewEntity("data", "1", nil))
		require.ErrorIs(t, err, coreerr.ErrUnknownGroup)
	})
}

func TestMultiValidationError(t *testing.T) {
	err := &MultiValidationError{Errors: []*ValidationError{
		NewTypeMismatchError("s", "g", "a", "long", "string"),
		NewUndeclaredPropertyError("s", "g", "b"),
	}}

	assert.Contains(t, err.Error(), "validation failed: ")
	assert.Equal(t, []string{"a", "b"}, err.Details()["fields"])
	assert.True(t, errors.Is(err, coreerr.ErrTypeMismatch))
	assert.False(t, errors.Is(err, coreerr.ErrUnknownGroup))
}

func TestCache(t *testing.T) {
	c := NewCache(4)
	defer c.Close()

	assert.Nil(t, c.Get("a"))
	require.True(t, c.Put(&Schema{Name: "a", Fingerprint: "1"}))
	require.True(t, c.Put(&Schema{Name: "b"}))
	require.NotNil(t, c.Get("a"))

	require.True(t, c.Put(&Schema{Name: "a", Fingerprint: "2"}))
	assert.Equal(t, "2", c.Get("a").Fingerprint, "put replaces")

	c.Invalidate("a")
	assert.Nil(t, c.Get("a"))
	assert.NotNil(t, c.Get("b"))
	c.Clear()
	assert.Nil(t, c.Get("b"))
}

func TestFormatRegistry(t *testing.T) {
	r := NewFormatRegistry()
	assert.False(t, r.IsFormatSupported(FormatYaml))

	_, err := r.GetCompiler(FormatJSON)
	require.ErrorContains(t, err, "unsupported schema format: json")

	r.RegisterFormat(FormatYaml, &countingCompiler{})
	r.RegisterFormat(FormatJSON, &countingCompiler{})
	assert.Equal(t, []Format{FormatJSON, FormatYaml}, r.SupportedFormats())
}

// countingCompiler builds a fixed schema and counts compilations.
type countingCompiler struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingCompiler) Compile(ctx context.Context, doc *Document) (*Schema, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return New(doc.Name, "", entityDef("node", map[string]element.PropertyType{"n": element.TypeLong}))
}

// mapRepository is a minimal Repository for registry tests.
type mapRepository struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func (r *mapRepository) Create(ctx context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.Name]; ok {
		return ErrAlreadyExists
	}
	r.docs[doc.Name] = doc
	return nil
}

func (r *mapRepository) Get(ctx context.Context, name string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (r *mapRepository) List(ctx context.Context) ([]*Document, error) { return nil, nil }

func (r *mapRepository) Delete(ctx context.Context, name string) error { return nil }

func newTestRegistry(compiler FormatCompiler) (*Registry, *mapRepository) {
	formats := NewFormatRegistry()
	formats.RegisterFormat(FormatYaml, compiler)
	repo := &mapRepository{docs: make(map[string]*Document)}
	return NewRegistry(repo, formats), repo
}

func TestRegistry_RegisterAndLoad(t *testing.T) {
	compiler := &countingCompiler{}
	registry, _ := newTestRegistry(compiler)
	ctx := context.Background()

	registered, err := registry.Register(ctx, "traffic", FormatYaml, []byte("name: traffic"))
	require.NoError(t, err)
	assert.Equal(t, ComputeFingerprint([]byte("name: traffic")), registered.Fingerprint)

	loaded, err := registry.Load(ctx, "traffic")
	require.NoError(t, err)
	assert.Same(t, registered, loaded)
	assert.Equal(t, int32(1), compiler.calls.Load())

	_, err = registry.Register(ctx, "traffic", FormatYaml, []byte("name: traffic"))
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = registry.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RegisterValidatesInput(t *testing.T) {
	registry, _ := newTestRegistry(&countingCompiler{})
	ctx := context.Background()

	_, err := registry.Register(ctx, "", FormatYaml, []byte("x"))
	require.ErrorContains(t, err, "name is required")

	_, err = registry.Register(ctx, "traffic", FormatYaml, nil)
	require.ErrorContains(t, err, "definition is required")

	_, err = registry.Register(ctx, "traffic", FormatJSON, []byte("{}"))
	require.ErrorContains(t, err, "unsupported schema format")
}

// TestRegistry_ConcurrentLoadCompilesOnce verifies singleflight deduplication.
func TestRegistry_ConcurrentLoadCompilesOnce(t *testing.T) {
	compiler := &countingCompiler{gate: make(chan struct{})}
	registry, repo := newTestRegistry(compiler)
	repo.docs["traffic"] = &Document{
		Name:        "traffic",
		Format:      FormatYaml,
		Definition:  []byte("name: traffic"),
		Fingerprint: ComputeFingerprint([]byte("name: traffic")),
	}

	const numGoroutines = 50
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	results := make(chan *Schema, numGoroutines)
	started.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			s, err := registry.Load(context.Background(), "traffic")
			if err != nil {
				t.Errorf("concurrent load failed: %v", err)
				return
			}
			results <- s
		}()
	}
	started.Wait()
	close(compiler.gate)
	wg.Wait()
	close(results)

	var first *Schema
	for s := range results {
		if first == nil {
			first = s
		}
		assert.Same(t, first, s)
	}
	// Late goroutines may miss the in-flight call but then hit the cache.
	assert.Equal(t, int32(1), compiler.calls.Load())
}

func TestRegistry_InvalidateRecompiles(t *testing.T) {
	compiler := &countingCompiler{}
	registry, _ := newTestRegistry(compiler)
	ctx := context.Background()

	_, err := registry.Register(ctx, "traffic", FormatYaml, []byte("name: traffic"))
	require.NoError(t, err)

	registry.Invalidate("traffic")
	_, err = registry.Load(ctx, "traffic")
	require.NoError(t, err)
	assert.Equal(t, int32(2), compiler.calls.Load())
}

func TestRegistry_CloseStopsCaching(t *testing.T) {
	compiler := &countingCompiler{}
	registry, _ := newTestRegistry(compiler)
	ctx := context.Background()

	_, err := registry.Register(ctx, "traffic", FormatYaml, []byte("name: traffic"))
	require.NoError(t, err)

	registry.Close()
	registry.Close()
	for i := 0; i < 2; i++ {
		s, err := registry.Load(ctx, "traffic")
		require.NoError(t, err)
		assert.Equal(t, "traffic", s.Name)
	}
	assert.Equal(t, int32(3), compiler.calls.Load(), "a closed registry compiles on every load")
}
