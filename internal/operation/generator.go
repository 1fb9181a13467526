package operation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/schema"
	"github.com/aevon-lab/project-lattice/internal/view"
)

// Generator converts one domain object into an element of s.
type Generator interface {
	Generate(s *schema.Schema, obj interface{}) (element.Element, error)
}

// Extractor converts an element into a seed or domain object. ok is false
// when the element yields nothing.
type Extractor interface {
	Extract(el element.Element) (out interface{}, ok bool)
	// Output is the type of the extracted items.
	Output() IOType
}

// GeneratorSpec is the document form of a generator.
type GeneratorSpec struct {
	Type      string                 `yaml:"type" json:"type"`
	Group     string                 `yaml:"group" json:"group"`
	Directed  bool                   `yaml:"directed,omitempty" json:"directed,omitempty"`
	Separator string                 `yaml:"separator,omitempty" json:"separator,omitempty"`
	Columns   []string               `yaml:"columns" json:"columns"`
	Constants map[string]interface{} `yaml:"constants,omitempty" json:"constants,omitempty"`
}

// ExtractorSpec is the document form of an extractor.
type ExtractorSpec struct {
	Type       string   `yaml:"type" json:"type"`
	Identifier string   `yaml:"identifier,omitempty" json:"identifier,omitempty"`
	EdgesOnly  bool     `yaml:"edges_only,omitempty" json:"edges_only,omitempty"`
	Columns    []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	Separator  string   `yaml:"separator,omitempty" json:"separator,omitempty"`
}

type (
	GeneratorFactory func(spec *GeneratorSpec) (Generator, error)
	ExtractorFactory func(spec *ExtractorSpec) (Extractor, error)
)

var (
	variantsMu sync.RWMutex
	generators = map[string]GeneratorFactory{
		"edge_csv":   func(spec *GeneratorSpec) (Generator, error) { return newCSVGenerator(element.KindEdge, spec) },
		"entity_csv": func(spec *GeneratorSpec) (Generator, error) { return newCSVGenerator(element.KindEntity, spec) },
	}
	extractors = map[string]ExtractorFactory{
		"entity_seed": newEntitySeedExtractor,
		"edge_seed":   func(*ExtractorSpec) (Extractor, error) { return EdgeSeedExtractor{}, nil },
		"csv":         newCSVExtractor,
	}
)

// RegisterGenerator adds a named generator variant. It panics on a duplicate name.
func RegisterGenerator(name string, factory GeneratorFactory) {
	variantsMu.Lock()
	defer variantsMu.Unlock()
	if _, dup := generators[name]; dup {
		panic(fmt.Sprintf("operation: generator %q already registered", name))
	}
	generators[name] = factory
}

// RegisterExtractor adds a named extractor variant. It panics on a duplicate name.
func RegisterExtractor(name string, factory ExtractorFactory) {
	variantsMu.Lock()
	defer variantsMu.Unlock()
	if _, dup := extractors[name]; dup {
		panic(fmt.Sprintf("operation: extractor %q already registered", name))
	}
	extractors[name] = factory
}

// BuildGenerator resolves spec through the generator registry.
func BuildGenerator(spec *GeneratorSpec) (Generator, error) {
	if spec == nil {
		return nil, errors.New("generator is required")
	}
	variantsMu.RLock()
	factory, ok := generators[spec.Type]
	variantsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown generator %q (must be one of %v)", spec.Type, sortedNames(generators))
	}
	return factory(spec)
}

// BuildExtractor resolves spec through the extractor registry.
func BuildExtractor(spec *ExtractorSpec) (Extractor, error) {
	if spec == nil {
		return nil, errors.New("extractor is required")
	}
	variantsMu.RLock()
	factory, ok := extractors[spec.Type]
	variantsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown extractor %q (must be one of %v)", spec.Type, sortedNames(extractors))
	}
	return factory(spec)
}

func sortedNames[F any](m map[string]F) []string {
	variantsMu.RLock()
	defer variantsMu.RUnlock()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CSVGenerator parses delimited lines into entities or edges. Columns name
// the identifier or property each field fills; "-" skips a field.
type CSVGenerator struct {
	Kind      element.Kind
	Group     string
	Directed  bool
	Separator string
	Columns   []string
	Constants map[string]interface{}
}

func newCSVGenerator(kind element.Kind, spec *GeneratorSpec) (Generator, error) {
	if spec.Group == "" {
		return nil, errors.New("group is required")
	}
	if len(spec.Columns) == 0 {
		return nil, errors.New("columns is required")
	}
	g := &CSVGenerator{
		Kind:      kind,
		Group:     spec.Group,
		Directed:  spec.Directed,
		Separator: spec.Separator,
		Columns:   spec.Columns,
		Constants: spec.Constants,
	}
	if g.Separator == "" {
		g.Separator = ","
	}

	has := func(col string) bool {
		for _, c := range spec.Columns {
			if c == col {
				return true
			}
		}
		return false
	}
	switch kind {
	case element.KindEntity:
		if !has(view.IdentifierVertex) {
			return nil, errors.New("columns must include VERTEX")
		}
	case element.KindEdge:
		if !has(view.IdentifierSource) || !has(view.IdentifierDestination) {
			return nil, errors.New("columns must include SOURCE and DESTINATION")
		}
	}
	return g, nil
}

func (g *CSVGenerator) Generate(s *schema.Schema, obj interface{}) (element.Element, error) {
	line, ok := obj.(string)
	if !ok {
		return nil, fmt.Errorf("csv generator expects a string, got %T", obj)
	}
	def, err := s.Definition(g.Kind, g.Group)
	if err != nil {
		return nil, err
	}

	fields := strings.Split(line, g.Separator)
	if len(fields) != len(g.Columns) {
		return nil, fmt.Errorf("line %q has %d fields, expected %d", line, len(fields), len(g.Columns))
	}

	var vertex, source, destination string
	directed := g.Directed
	props := make(element.Properties, len(g.Columns)+len(g.Constants))
	for name, v := range g.Constants {
		t, ok := def.PropertyType(name)
		if !ok {
			return nil, schema.NewUndeclaredPropertyError(s.Name, g.Group, name)
		}
		coerced, err := t.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("constant %s: %w", name, err)
		}
		props[name] = coerced
	}

	for i, col := range g.Columns {
		field := fields[i]
		switch col {
		case "-":
		case view.IdentifierVertex:
			vertex = field
		case view.IdentifierSource:
			source = field
		case view.IdentifierDestination:
			destination = field
		case view.IdentifierDirected:
			d, err := element.TypeBool.Parse(field)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			directed = d.(bool)
		default:
			t, ok := def.PropertyType(col)
			if !ok {
				return nil, schema.NewUndeclaredPropertyError(s.Name, g.Group, col)
			}
			v, err := t.Parse(field)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			props[col] = v
		}
	}

	if g.Kind == element.KindEntity {
		return element.NewEntity(g.Group, vertex, props), nil
	}
	return element.NewEdge(g.Group, source, destination, directed, props), nil
}

// EntitySeedExtractor turns entities into their vertex seed and edges into
// the seed of one chosen end.
type EntitySeedExtractor struct {
	// Identifier picks the edge end: SOURCE, DESTINATION, MATCHED_VERTEX or
	// ADJACENT_MATCHED_VERTEX (the default).
	Identifier element.VertexRole
	// EdgesOnly skips entities.
	EdgesOnly bool
}

func newEntitySeedExtractor(spec *ExtractorSpec) (Extractor, error) {
	role, err := element.ParseVertexRole(spec.Identifier)
	if err != nil {
		return nil, err
	}
	if role == element.RoleNone {
		role = element.RoleAdjacentMatchedVertex
	}
	return EntitySeedExtractor{Identifier: role, EdgesOnly: spec.EdgesOnly}, nil
}

func (EntitySeedExtractor) Output() IOType { return TypeSeeds }

func (x EntitySeedExtractor) Extract(el element.Element) (interface{}, bool) {
	switch e := el.(type) {
	case *element.Entity:
		if x.EdgesOnly {
			return nil, false
		}
		return element.EntitySeed{Vertex: e.Vertex}, true
	case *element.Edge:
		var v string
		switch x.Identifier {
		case element.RoleSource:
			v = e.Source
		case element.RoleDestination:
			v = e.Destination
		case element.RoleMatchedVertex:
			v = e.MatchedEnd()
		default:
			v = e.AdjacentEnd()
		}
		return element.EntitySeed{Vertex: v, Role: x.Identifier}, true
	}
	return nil, false
}

// EdgeSeedExtractor turns edges into edge seeds and skips entities.
type EdgeSeedExtractor struct{}

func (EdgeSeedExtractor) Output() IOType { return TypeSeeds }

func (EdgeSeedExtractor) Extract(el element.Element) (interface{}, bool) {
	e, ok := el.(*element.Edge)
	if !ok {
		return nil, false
	}
	return element.NewEdgeSeed(e.Source, e.Destination, e.Directed), true
}

// CSVExtractor renders the selected columns of an element as one delimited
// line. Missing selections render empty.
type CSVExtractor struct {
	Columns   []string
	Separator string
}

func newCSVExtractor(spec *ExtractorSpec) (Extractor, error) {
	if len(spec.Columns) == 0 {
		return nil, errors.New("columns is required")
	}
	sep := spec.Separator
	if sep == "" {
		sep = ","
	}
	return CSVExtractor{Columns: spec.Columns, Separator: sep}, nil
}

func (CSVExtractor) Output() IOType { return TypeObjects }

func (x CSVExtractor) Extract(el element.Element) (interface{}, bool) {
	parts := make([]string, len(x.Columns))
	for i, col := range x.Columns {
		if v, ok := view.Select(el, col); ok {
			parts[i] = view.FormatValue(v)
		}
	}
	return strings.Join(parts, x.Separator), true
}
