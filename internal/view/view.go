// Package view implements per-query views: filters before and after
// aggregation, aggregator overrides and transient-property transforms.
package view

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aevon-lab/project-lattice/internal/core/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
	"github.com/aevon-lab/project-lattice/internal/schema"
)

// Identifier pseudo-properties select an element's identity instead of a
// property value.
const (
	IdentifierVertex          = "VERTEX"
	IdentifierSource          = "SOURCE"
	IdentifierDestination     = "DESTINATION"
	IdentifierDirected        = "DIRECTED"
	IdentifierMatchedVertex   = "MATCHED_VERTEX"
	IdentifierAdjacentMatched = "ADJACENT_MATCHED_VERTEX"
	IdentifierGroup           = "GROUP"
)

// Stage names used in diagnostics.
const (
	StagePreAggregation  = "pre_aggregation_filter"
	StagePostAggregation = "post_aggregation_filter"
	StageTransform       = "transform"
	StagePostTransform   = "post_transform_filter"
)

func isIdentifier(kind element.Kind, sel string) bool {
	switch sel {
	case IdentifierGroup:
		return true
	case IdentifierVertex:
		return kind == element.KindEntity
	case IdentifierSource, IdentifierDestination, IdentifierDirected,
		IdentifierMatchedVertex, IdentifierAdjacentMatched:
		return kind == element.KindEdge
	}
	return false
}

// Select returns the value sel resolves to on el: an identifier
// pseudo-property or a property.
func Select(el element.Element, sel string) (interface{}, bool) {
	switch e := el.(type) {
	case *element.Entity:
		if sel == IdentifierVertex {
			return e.Vertex, true
		}
	case *element.Edge:
		switch sel {
		case IdentifierSource:
			return e.Source, true
		case IdentifierDestination:
			return e.Destination, true
		case IdentifierDirected:
			return e.Directed, true
		case IdentifierMatchedVertex:
			return e.MatchedEnd(), true
		case IdentifierAdjacentMatched:
			return e.AdjacentEnd(), true
		}
	}
	if sel == IdentifierGroup {
		return el.GetGroup(), true
	}
	v, ok := el.GetProperties()[sel]
	return v, ok
}

// PropertyError reports a filter or transform that referenced a property
// absent from the element.
type PropertyError struct {
	Group    string
	Property string
	Stage    string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("%s: %s references missing property %q", e.Group, e.Stage, e.Property)
}

// Is matches coreerr.ErrMissingProperty.
func (e *PropertyError) Is(target error) bool {
	return target == coreerr.ErrMissingProperty
}

// Filter applies a predicate to one selected value.
type Filter struct {
	Selection string
	Predicate Predicate
}

// Evaluate tests el. A missing selection is a *PropertyError unless the
// predicate accepts absence.
func (f Filter) Evaluate(el element.Element, stage string) (bool, error) {
	v, present := Select(el, f.Selection)
	ok, err := f.Predicate.Test(v, present)
	if err == errAbsent {
		return false, &PropertyError{Group: el.GetGroup(), Property: f.Selection, Stage: stage}
	}
	return ok, err
}

// TransformStep produces one transient property from named inputs.
type TransformStep struct {
	Inputs   []string
	Output   string
	Function Function
}

// ElementDefinition is the per-group portion of a view. Stages run in
// field order.
type ElementDefinition struct {
	PreAggregationFilters []Filter
	// Aggregators replace the schema bindings of the named properties.
	Aggregators            []schema.AggregatorBinding
	PostAggregationFilters []Filter
	TransientProperties    map[string]element.PropertyType
	Transforms             []TransformStep
	// PostTransformFilters may reference transient properties.
	PostTransformFilters []Filter
}

// View is a per-query set of element definitions. Groups the view does not
// mention pass through unchanged. A View is immutable once validated and may
// be shared across executions.
type View struct {
	Entities map[string]*ElementDefinition
	Edges    map[string]*ElementDefinition
}

// Definition returns the view definition for el's group.
func (v *View) Definition(el element.Element) (*ElementDefinition, bool) {
	return v.DefinitionFor(el.Kind(), el.GetGroup())
}

// DefinitionFor returns the view definition for group of the given kind.
func (v *View) DefinitionFor(kind element.Kind, group string) (*ElementDefinition, bool) {
	if v == nil {
		return nil, false
	}
	var def *ElementDefinition
	switch kind {
	case element.KindEntity:
		def = v.Entities[group]
	case element.KindEdge:
		def = v.Edges[group]
	}
	return def, def != nil
}

// IsEmpty reports whether the view defines no groups.
func (v *View) IsEmpty() bool {
	return v == nil || (len(v.Entities) == 0 && len(v.Edges) == 0)
}

// Validate checks v against s:
//   - every group exists in s with the same kind;
//   - pre- and post-aggregation filters select identifiers or persisted properties;
//   - override operators exist, support the property type and bind each property once;
//   - transient properties do not shadow persisted ones;
//   - transform inputs are persisted or produced by an earlier transform, and
//     outputs are declared transient properties produced once;
//   - post-transform filters may also select any transient property.
func (v *View) Validate(s *schema.Schema) error {
	if v == nil {
		return nil
	}
	var errs []*schema.ValidationError
	check := func(kind element.Kind, defs map[string]*ElementDefinition) {
		for _, group := range sortedGroups(defs) {
			sd, err := s.Definition(kind, group)
			if err != nil {
				var ve *schema.ValidationError
				if errors.As(err, &ve) {
					errs = append(errs, ve)
				}
				continue
			}
			if vd := defs[group]; vd != nil {
				errs = append(errs, validateDefinition(s.Name, kind, sd, vd)...)
			}
		}
	}
	check(element.KindEntity, v.Entities)
	check(element.KindEdge, v.Edges)

	if len(errs) > 0 {
		return &schema.MultiValidationError{Errors: errs}
	}
	return nil
}

func validateDefinition(schemaName string, kind element.Kind, sd *schema.ElementDefinition, vd *ElementDefinition) []*schema.ValidationError {
	var errs []*schema.ValidationError
	fail := func(field, format string, args ...interface{}) {
		errs = append(errs, &schema.ValidationError{
			Schema:  schemaName,
			Group:   sd.Group,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	persisted := func(name string) bool {
		_, ok := sd.Properties[name]
		return ok || isIdentifier(kind, name)
	}

	checkFilters := func(stage string, filters []Filter, available func(string) bool) {
		for i, f := range filters {
			if f.Predicate == nil {
				fail(f.Selection, "%s[%d]: predicate is required", stage, i)
			}
			if !available(f.Selection) {
				fail(f.Selection, "%s[%d]: selection is not available at this stage", stage, i)
			}
		}
	}

	checkFilters(StagePreAggregation, vd.PreAggregationFilters, persisted)

	bound := make(map[string]string)
	for _, b := range vd.Aggregators {
		agg, ok := aggregation.Operators[b.Operator]
		if !ok {
			fail("", "unknown aggregation operator %q", b.Operator)
			continue
		}
		for _, prop := range b.Properties {
			t, declared := sd.Properties[prop]
			switch {
			case !declared:
				fail(prop, "aggregator override bound to an undeclared property")
			case bound[prop] != "":
				fail(prop, "aggregator override bound to both %q and %q", bound[prop], b.Operator)
			case !agg.Supports(t):
				fail(prop, "operator %q does not support type %s", b.Operator, t)
			default:
				bound[prop] = b.Operator
			}
		}
	}

	checkFilters(StagePostAggregation, vd.PostAggregationFilters, persisted)

	for name := range vd.TransientProperties {
		if _, clash := sd.Properties[name]; clash || isIdentifier(kind, name) {
			fail(name, "transient property shadows a persisted property")
		}
	}

	produced := make(map[string]bool)
	for i, step := range vd.Transforms {
		if step.Function == nil {
			fail(step.Output, "transforms[%d]: function is required", i)
			continue
		}
		lo, hi := step.Function.Arity()
		if len(step.Inputs) < lo || (hi >= 0 && len(step.Inputs) > hi) {
			fail(step.Output, "transforms[%d]: got %d inputs, function accepts %s", i, len(step.Inputs), arity(lo, hi))
		}
		for _, in := range step.Inputs {
			if !persisted(in) && !produced[in] {
				fail(in, "transforms[%d]: input is neither persisted nor produced by an earlier transform", i)
			}
		}
		if _, declared := vd.TransientProperties[step.Output]; !declared {
			fail(step.Output, "transforms[%d]: output is not a declared transient property", i)
		} else if produced[step.Output] {
			fail(step.Output, "transforms[%d]: output is produced more than once", i)
		}
		produced[step.Output] = true
	}

	checkFilters(StagePostTransform, vd.PostTransformFilters, func(name string) bool {
		return persisted(name) || produced[name]
	})
	return errs
}

func arity(lo, hi int) string {
	switch {
	case hi < 0:
		return fmt.Sprintf("at least %d", lo)
	case lo == hi:
		return fmt.Sprintf("exactly %d", lo)
	}
	return fmt.Sprintf("%d to %d", lo, hi)
}

func sortedGroups(m map[string]*ElementDefinition) []string {
	groups := make([]string, 0, len(m))
	for g := range m {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
