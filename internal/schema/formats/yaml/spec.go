package yaml

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/project-lattice/internal/core/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/schema"
)

// SchemaSpec is the document form of a schema.
//
//	name: road-traffic
//	default_aggregator: first
//	edges:
//	  data:
//	    properties:
//	      count: long
//	      label:
//	        type: string
//	        aggregator: max
//	    aggregators:
//	      - properties: [count]
//	        operator: sum
type SchemaSpec struct {
	Name              string                `yaml:"name"`
	Description       string                `yaml:"description,omitempty"`
	DefaultAggregator string                `yaml:"default_aggregator,omitempty"`
	Entities          map[string]*GroupSpec `yaml:"entities,omitempty"`
	Edges             map[string]*GroupSpec `yaml:"edges,omitempty"`
}

// GroupSpec declares one entity or edge group.
type GroupSpec struct {
	Description string                   `yaml:"description,omitempty"`
	Properties  map[string]*PropertySpec `yaml:"properties"`
	Aggregators []*BindingSpec           `yaml:"aggregators,omitempty"`
}

// BindingSpec binds an operator to a list of properties.
type BindingSpec struct {
	Properties []string `yaml:"properties"`
	Operator   string   `yaml:"operator"`
}

// PropertySpec declares a single property.
//
// Properties support two declaration styles:
//
//	Shorthand (scalar): count: long
//	Long form (mapping): count:
//	                       type: long
//	                       aggregator: sum
//
// Type names: string, bool, long, double, decimal, string_set
type PropertySpec struct {
	Type       element.PropertyType `yaml:"type"`
	Aggregator string               `yaml:"aggregator,omitempty"`
}

// UnmarshalYAML implements custom unmarshaling to support both shorthand
// and long-form property declarations.
func (p *PropertySpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return p.parseTypeString(value.Value)
	}

	// Long form: decode struct fields via alias (avoids infinite recursion),
	// then normalize the type string.
	type propertyAlias struct {
		Type       string `yaml:"type"`
		Aggregator string `yaml:"aggregator,omitempty"`
	}
	var alias propertyAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	if alias.Type == "" {
		return fmt.Errorf("property missing 'type'")
	}
	p.Aggregator = alias.Aggregator
	return p.parseTypeString(alias.Type)
}

func (p *PropertySpec) parseTypeString(s string) error {
	t, err := element.ParsePropertyType(s)
	if err != nil {
		return err
	}
	p.Type = t
	return nil
}

// Validate checks the document structure. Semantic checks (operator/type
// compatibility, double bindings) happen in schema.New.
func (s *SchemaSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if len(s.Entities) == 0 && len(s.Edges) == 0 {
		return fmt.Errorf("schema must declare at least one entity or edge group")
	}
	if s.DefaultAggregator != "" && !aggregation.ValidOperator(s.DefaultAggregator) {
		return fmt.Errorf("unknown default_aggregator %q (must be one of %v)",
			s.DefaultAggregator, aggregation.OperatorNames())
	}

	for _, groups := range []map[string]*GroupSpec{s.Entities, s.Edges} {
		for name, g := range groups {
			if g == nil {
				return fmt.Errorf("group %q: definition cannot be empty", name)
			}
			if err := g.Validate(); err != nil {
				return fmt.Errorf("group %q: %w", name, err)
			}
		}
	}
	return nil
}

// Validate checks a group definition.
func (g *GroupSpec) Validate() error {
	for name, p := range g.Properties {
		if p == nil {
			return fmt.Errorf("property %q: type cannot be empty", name)
		}
	}
	for i, b := range g.Aggregators {
		if b == nil || b.Operator == "" {
			return fmt.Errorf("aggregators[%d]: operator is required", i)
		}
		if len(b.Properties) == 0 {
			return fmt.Errorf("aggregators[%d]: at least one property is required", i)
		}
	}
	return nil
}

// definition converts g into a schema.ElementDefinition. Long-form
// aggregators come first, in property name order, then the explicit list.
func (g *GroupSpec) definition(kind element.Kind, group string) *schema.ElementDefinition {
	def := &schema.ElementDefinition{
		Kind:       kind,
		Group:      group,
		Properties: make(map[string]element.PropertyType, len(g.Properties)),
	}

	names := make([]string, 0, len(g.Properties))
	for name, p := range g.Properties {
		def.Properties[name] = p.Type
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if op := g.Properties[name].Aggregator; op != "" {
			def.Bindings = append(def.Bindings, schema.AggregatorBinding{Properties: []string{name}, Operator: op})
		}
	}
	for _, b := range g.Aggregators {
		def.Bindings = append(def.Bindings, schema.AggregatorBinding{
			Properties: append([]string(nil), b.Properties...),
			Operator:   b.Operator,
		})
	}
	return def
}

// Build validates the spec and builds the schema.
func (s *SchemaSpec) Build() (*schema.Schema, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	defs := make([]*schema.ElementDefinition, 0, len(s.Entities)+len(s.Edges))
	for _, name := range sortedKeys(s.Entities) {
		defs = append(defs, s.Entities[name].definition(element.KindEntity, name))
	}
	for _, name := range sortedKeys(s.Edges) {
		defs = append(defs, s.Edges[name].definition(element.KindEdge, name))
	}
	return schema.New(s.Name, s.DefaultAggregator, defs...)
}

func sortedKeys(m map[string]*GroupSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
