package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/aevon-lab/project-lattice/internal/core/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
)

// Format represents the format of a schema document.
type Format string

const (
	FormatYaml Format = "yaml"
	FormatJSON Format = "json"
)

// Document is a registered, uncompiled schema document.
type Document struct {
	// Name identifies the schema (e.g. "road-traffic").
	Name string `json:"name"`

	// Format is the document format.
	Format Format `json:"format"`

	// Definition is the raw document content.
	Definition []byte `json:"definition"`

	// Fingerprint is SHA-256 hash of Definition; compiled schemas are cached by it.
	Fingerprint string `json:"fingerprint"`

	// CreatedAt is when the document was registered.
	CreatedAt time.Time `json:"created_at"`
}

// ComputeFingerprint calculates SHA-256 hash of the definition.
func ComputeFingerprint(definition []byte) string {
	hash := sha256.Sum256(definition)
	return hex.EncodeToString(hash[:])
}

// AggregatorBinding binds an operator to a subset of a group's properties.
type AggregatorBinding struct {
	Properties []string
	Operator   string
}

// ElementDefinition declares one group: its property types and the
// aggregator bound to each property. It is immutable once built.
type ElementDefinition struct {
	Kind       element.Kind
	Group      string
	Properties map[string]element.PropertyType
	Bindings   []AggregatorBinding

	// operators resolves every declared property to its operator, defaults included.
	operators map[string]string
}

// PropertyType returns the declared type of name.
func (d *ElementDefinition) PropertyType(name string) (element.PropertyType, bool) {
	t, ok := d.Properties[name]
	return t, ok
}

// Operator returns the operator name bound to property name.
func (d *ElementDefinition) Operator(name string) (string, bool) {
	op, ok := d.operators[name]
	return op, ok
}

// Aggregator returns the aggregator bound to property name.
func (d *ElementDefinition) Aggregator(name string) (aggregation.Aggregator, bool) {
	op, ok := d.operators[name]
	if !ok {
		return nil, false
	}
	agg, ok := aggregation.Operators[op]
	return agg, ok
}

// PropertyNames returns the declared property names, sorted.
func (d *ElementDefinition) PropertyNames() []string {
	names := make([]string, 0, len(d.Properties))
	for name := range d.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema is a compiled schema: the set of entity and edge groups an engine
// accepts. Schemas are immutable and safe to share across executions.
type Schema struct {
	Name              string
	DefaultAggregator string
	Entities          map[string]*ElementDefinition
	Edges             map[string]*ElementDefinition
	Fingerprint       string
}

// New validates the definitions and builds a schema. defaultAggregator is
// bound to every property with no explicit binding; an empty value means
// aggregation.DefaultOperator.
func New(name, defaultAggregator string, defs ...*ElementDefinition) (*Schema, error) {
	if defaultAggregator == "" {
		defaultAggregator = aggregation.DefaultOperator
	}
	if !aggregation.ValidOperator(defaultAggregator) {
		return nil, &ValidationError{Schema: name, Field: "default_aggregator",
			Message: fmt.Sprintf("unknown aggregation operator %q", defaultAggregator)}
	}

	s := &Schema{
		Name:              name,
		DefaultAggregator: defaultAggregator,
		Entities:          make(map[string]*ElementDefinition),
		Edges:             make(map[string]*ElementDefinition),
	}

	var errs []*ValidationError
	for _, def := range defs {
		if def.Group == "" {
			errs = append(errs, &ValidationError{Schema: name, Message: "group name is required"})
			continue
		}
		if _, dup := s.Entities[def.Group]; dup {
			errs = append(errs, NewDuplicateGroupError(name, def.Group))
			continue
		}
		if _, dup := s.Edges[def.Group]; dup {
			errs = append(errs, NewDuplicateGroupError(name, def.Group))
			continue
		}
		errs = append(errs, resolveOperators(name, defaultAggregator, def)...)
		switch def.Kind {
		case element.KindEntity:
			s.Entities[def.Group] = def
		case element.KindEdge:
			s.Edges[def.Group] = def
		default:
			errs = append(errs, &ValidationError{Schema: name, Group: def.Group,
				Message: fmt.Sprintf("unknown element kind %v", def.Kind)})
		}
	}

	if len(errs) > 0 {
		return nil, &MultiValidationError{Errors: errs}
	}
	return s, nil
}

// resolveOperators fills def.operators and reports bad bindings.
func resolveOperators(schemaName, defaultOp string, def *ElementDefinition) []*ValidationError {
	var errs []*ValidationError
	def.operators = make(map[string]string, len(def.Properties))

	for _, b := range def.Bindings {
		agg, ok := aggregation.Operators[b.Operator]
		if !ok {
			errs = append(errs, &ValidationError{Schema: schemaName, Group: def.Group,
				Message: fmt.Sprintf("unknown aggregation operator %q", b.Operator)})
			continue
		}
		for _, prop := range b.Properties {
			t, declared := def.Properties[prop]
			if !declared {
				errs = append(errs, &ValidationError{Schema: schemaName, Group: def.Group, Field: prop,
					Message: "aggregator bound to an undeclared property"})
				continue
			}
			if prev, bound := def.operators[prop]; bound {
				errs = append(errs, &ValidationError{Schema: schemaName, Group: def.Group, Field: prop,
					Message: fmt.Sprintf("property bound to both %q and %q", prev, b.Operator)})
				continue
			}
			if !agg.Supports(t) {
				errs = append(errs, NewUnsupportedOperatorError(schemaName, def.Group, prop, b.Operator, t))
				continue
			}
			def.operators[prop] = b.Operator
		}
	}

	defaultAgg := aggregation.Operators[defaultOp]
	for prop, t := range def.Properties {
		if _, bound := def.operators[prop]; bound {
			continue
		}
		if defaultAgg.Supports(t) {
			def.operators[prop] = defaultOp
		} else {
			// first is defined over every type.
			def.operators[prop] = aggregation.OpFirst
		}
	}
	return errs
}

// Definition returns the definition for group of the given kind.
func (s *Schema) Definition(kind element.Kind, group string) (*ElementDefinition, error) {
	var (
		def *ElementDefinition
		ok  bool
	)
	switch kind {
	case element.KindEntity:
		def, ok = s.Entities[group]
	case element.KindEdge:
		def, ok = s.Edges[group]
	}
	if !ok {
		return nil, NewUnknownGroupError(s.Name, kind, group)
	}
	return def, nil
}

// DefinitionOf returns the definition for el's group.
func (s *Schema) DefinitionOf(el element.Element) (*ElementDefinition, error) {
	return s.Definition(el.Kind(), el.GetGroup())
}

// HasGroup reports whether group is declared with either kind.
func (s *Schema) HasGroup(group string) bool {
	_, e := s.Entities[group]
	_, d := s.Edges[group]
	return e || d
}

// Groups returns every declared group, sorted.
func (s *Schema) Groups() []string {
	groups := make([]string, 0, len(s.Entities)+len(s.Edges))
	for g := range s.Entities {
		groups = append(groups, g)
	}
	for g := range s.Edges {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Normalise checks el against its group's definition and returns a copy with
// every property coerced to its declared type. Undeclared properties and
// uncoercible values are TypeMismatch errors; an undeclared group is
// UnknownGroup.
func (s *Schema) Normalise(el element.Element) (element.Element, error) {
	def, err := s.DefinitionOf(el)
	if err != nil {
		return nil, err
	}

	props := el.GetProperties()
	out := make(element.Properties, len(props))
	for name, v := range props {
		t, declared := def.Properties[name]
		if !declared {
			return nil, NewUndeclaredPropertyError(s.Name, def.Group, name)
		}
		coerced, err := t.Coerce(v)
		if err != nil {
			return nil, NewTypeMismatchError(s.Name, def.Group, name, string(t), fmt.Sprintf("%T", v))
		}
		out[name] = coerced
	}
	return element.WithProperties(el, out), nil
}

// ValidateElement reports whether el conforms to the schema.
func (s *Schema) ValidateElement(el element.Element) error {
	_, err := s.Normalise(el)
	return err
}
