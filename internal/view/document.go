package view

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/schema"
)

// Document form of a view:
//
//	edges:
//	  data:
//	    pre_aggregation_filters:
//	      - selection: SOURCE
//	        predicate: {type: is_in, values: ["1", "2"]}
//	    aggregators:
//	      - properties: [count]
//	        operator: max
//	    post_aggregation_filters:
//	      - selection: count
//	        predicate: {type: is_more_than, value: 4}
//	    transient_properties:
//	      mean: double
//	    transforms:
//	      - inputs: [total, count]
//	        output: mean
//	        function: {type: mean}
//	    post_transform_filters:
//	      - selection: mean
//	        predicate: {type: is_less_than, value: 10}
type viewDoc struct {
	Entities map[string]*definitionDoc `yaml:"entities,omitempty"`
	Edges    map[string]*definitionDoc `yaml:"edges,omitempty"`
}

type definitionDoc struct {
	PreAggregationFilters  []filterDoc       `yaml:"pre_aggregation_filters,omitempty"`
	Aggregators            []bindingDoc      `yaml:"aggregators,omitempty"`
	PostAggregationFilters []filterDoc       `yaml:"post_aggregation_filters,omitempty"`
	TransientProperties    map[string]string `yaml:"transient_properties,omitempty"`
	Transforms             []transformDoc    `yaml:"transforms,omitempty"`
	PostTransformFilters   []filterDoc       `yaml:"post_transform_filters,omitempty"`
}

type filterDoc struct {
	Selection string         `yaml:"selection"`
	Predicate *PredicateSpec `yaml:"predicate"`
}

type bindingDoc struct {
	Properties []string `yaml:"properties"`
	Operator   string   `yaml:"operator"`
}

type transformDoc struct {
	Inputs   []string      `yaml:"inputs"`
	Output   string        `yaml:"output"`
	Function *FunctionSpec `yaml:"function"`
}

// Parse decodes a view document. Unknown keys are rejected. The result is
// not validated against a schema; call Validate.
func Parse(data []byte) (*View, error) {
	var doc viewDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &View{}, nil
		}
		return nil, fmt.Errorf("failed to parse view document: %w", err)
	}
	return doc.build()
}

// UnmarshalYAML decodes the document form of a view embedded in another
// document, resolving every predicate and function through the registries.
func (v *View) UnmarshalYAML(value *yaml.Node) error {
	var doc viewDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	built, err := doc.build()
	if err != nil {
		return err
	}
	*v = *built
	return nil
}

func (d *viewDoc) build() (*View, error) {
	entities, err := buildDefinitions(d.Entities)
	if err != nil {
		return nil, fmt.Errorf("entities.%w", err)
	}
	edges, err := buildDefinitions(d.Edges)
	if err != nil {
		return nil, fmt.Errorf("edges.%w", err)
	}
	return &View{Entities: entities, Edges: edges}, nil
}

func buildDefinitions(docs map[string]*definitionDoc) (map[string]*ElementDefinition, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make(map[string]*ElementDefinition, len(docs))
	for group, d := range docs {
		if d == nil {
			out[group] = &ElementDefinition{}
			continue
		}
		def, err := d.build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", group, err)
		}
		out[group] = def
	}
	return out, nil
}

func (d *definitionDoc) build() (*ElementDefinition, error) {
	def := &ElementDefinition{}
	var err error

	if def.PreAggregationFilters, err = buildFilters(StagePreAggregation, d.PreAggregationFilters); err != nil {
		return nil, err
	}
	if def.PostAggregationFilters, err = buildFilters(StagePostAggregation, d.PostAggregationFilters); err != nil {
		return nil, err
	}
	if def.PostTransformFilters, err = buildFilters(StagePostTransform, d.PostTransformFilters); err != nil {
		return nil, err
	}

	for _, b := range d.Aggregators {
		def.Aggregators = append(def.Aggregators, schema.AggregatorBinding{Properties: b.Properties, Operator: b.Operator})
	}

	if len(d.TransientProperties) > 0 {
		def.TransientProperties = make(map[string]element.PropertyType, len(d.TransientProperties))
		for name, typeName := range d.TransientProperties {
			t, err := element.ParsePropertyType(typeName)
			if err != nil {
				return nil, fmt.Errorf("transient_properties.%s: %w", name, err)
			}
			def.TransientProperties[name] = t
		}
	}

	for i, t := range d.Transforms {
		if t.Output == "" {
			return nil, fmt.Errorf("transforms[%d]: output is required", i)
		}
		fn, err := BuildFunction(t.Function)
		if err != nil {
			return nil, fmt.Errorf("transforms[%d]: %w", i, err)
		}
		def.Transforms = append(def.Transforms, TransformStep{Inputs: t.Inputs, Output: t.Output, Function: fn})
	}
	return def, nil
}

func buildFilters(stage string, docs []filterDoc) ([]Filter, error) {
	out := make([]Filter, 0, len(docs))
	for i, f := range docs {
		if f.Selection == "" {
			return nil, fmt.Errorf("%ss[%d]: selection is required", stage, i)
		}
		p, err := BuildPredicate(f.Predicate)
		if err != nil {
			return nil, fmt.Errorf("%ss[%d]: %w", stage, i, err)
		}
		out = append(out, Filter{Selection: f.Selection, Predicate: p})
	}
	return out, nil
}
