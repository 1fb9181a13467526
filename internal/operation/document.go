package operation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/view"
)

// Chain document form (YAML or JSON):
//
//	operations:
//	  - operation: get_elements
//	    seeds: [{vertex: "1"}]
//	    direction: OUT
//	    include: edges
//	    view:
//	      edges:
//	        data:
//	          post_aggregation_filters:
//	            - selection: count
//	              predicate: {type: is_more_than, value: 4}
//	  - operation: generate_objects
//	    extractor: {type: entity_seed}
//	  - operation: update_export
//	    name: frontier
type chainDoc struct {
	Operations []yaml.Node `yaml:"operations"`
}

// SeedDoc is the document form of a seed: either vertex (with an optional
// role) or source and destination.
type SeedDoc struct {
	Vertex      string `yaml:"vertex,omitempty" json:"vertex,omitempty"`
	Role        string `yaml:"role,omitempty" json:"role,omitempty"`
	Source      string `yaml:"source,omitempty" json:"source,omitempty"`
	Destination string `yaml:"destination,omitempty" json:"destination,omitempty"`
	Directed    bool   `yaml:"directed,omitempty" json:"directed,omitempty"`
}

// Seed converts the document to a seed.
func (d SeedDoc) Seed() (element.Seed, error) {
	switch {
	case d.Vertex != "" && d.Source == "" && d.Destination == "":
		role, err := element.ParseVertexRole(d.Role)
		if err != nil {
			return nil, err
		}
		return element.EntitySeed{Vertex: d.Vertex, Role: role}, nil
	case d.Vertex == "" && d.Source != "" && d.Destination != "":
		return element.NewEdgeSeed(d.Source, d.Destination, d.Directed), nil
	}
	return nil, errors.New("seed needs either vertex or source and destination")
}

// ElementDoc is the document form of an element: an entity when Vertex is
// set, otherwise an edge.
type ElementDoc struct {
	Group         string                 `yaml:"group" json:"group"`
	Vertex        string                 `yaml:"vertex,omitempty" json:"vertex,omitempty"`
	Source        string                 `yaml:"source,omitempty" json:"source,omitempty"`
	Destination   string                 `yaml:"destination,omitempty" json:"destination,omitempty"`
	Directed      bool                   `yaml:"directed,omitempty" json:"directed,omitempty"`
	MatchedVertex string                 `yaml:"matched_vertex,omitempty" json:"matched_vertex,omitempty"`
	Properties    map[string]interface{} `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Element converts the document to an element. Property values keep their
// decoded form; the schema coerces them on write.
func (d ElementDoc) Element() (element.Element, error) {
	if d.Group == "" {
		return nil, errors.New("element group is required")
	}
	props := element.Properties(d.Properties)
	switch {
	case d.Vertex != "" && d.Source == "" && d.Destination == "":
		return element.NewEntity(d.Group, d.Vertex, props), nil
	case d.Vertex == "" && d.Source != "" && d.Destination != "":
		return element.NewEdge(d.Group, d.Source, d.Destination, d.Directed, props), nil
	}
	return nil, fmt.Errorf("%s: element needs either vertex or source and destination", d.Group)
}

// Encode returns the document form of a result item: an ElementDoc for
// elements, a SeedDoc for seeds and the item itself otherwise.
func Encode(item interface{}) interface{} {
	switch v := item.(type) {
	case *element.Entity:
		return ElementDoc{Group: v.Group, Vertex: v.Vertex, Properties: v.Properties}
	case *element.Edge:
		return ElementDoc{
			Group:         v.Group,
			Source:        v.Source,
			Destination:   v.Destination,
			Directed:      v.Directed,
			MatchedVertex: string(v.MatchedVertex),
			Properties:    v.Properties,
		}
	case element.EntitySeed:
		return SeedDoc{Vertex: v.Vertex, Role: string(v.Role)}
	case element.EdgeSeed:
		return SeedDoc{Source: v.Source, Destination: v.Destination, Directed: v.Directed}
	}
	return item
}

// Decoder builds an operation from its document node.
type Decoder func(node *yaml.Node) (Operation, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[Kind]Decoder{
		KindAddElements:            decodeAddElements,
		KindGetElements:            decodeGetElements,
		KindGetAdjacentEntitySeeds: decodeGetAdjacent,
		KindGenerateElements:       decodeGenerateElements,
		KindGenerateObjects:        decodeGenerateObjects,
		KindInitialiseExport:       decodeExport(func(name string) Operation { return &InitialiseExport{Name: name} }),
		KindUpdateExport:           decodeExport(func(name string) Operation { return &UpdateExport{Name: name} }),
		KindFetchExport:            decodeExport(func(name string) Operation { return &FetchExport{Name: name} }),
		KindLimit:                  decodeLimit,
	}
)

// RegisterDecoder adds the document form of a new operation kind. It panics
// on a duplicate kind.
func RegisterDecoder(kind Kind, dec Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	if _, dup := decoders[kind]; dup {
		panic(fmt.Sprintf("operation: decoder for %q already registered", kind))
	}
	decoders[kind] = dec
}

func decoderNames() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	names := make([]string, 0, len(decoders))
	for k := range decoders {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// ParseChain decodes a chain document and validates the chain.
func ParseChain(data []byte) (*Chain, error) {
	var doc chainDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("chain document is empty")
		}
		return nil, fmt.Errorf("failed to parse chain document: %w", err)
	}

	ops := make([]Operation, 0, len(doc.Operations))
	for i := range doc.Operations {
		op, err := DecodeOperation(&doc.Operations[i])
		if err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	return NewChain(ops...)
}

// DecodeOperation decodes a single operation node, dispatching on its
// "operation" key.
func DecodeOperation(node *yaml.Node) (Operation, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: operation must be a mapping", node.Line)
	}
	var head struct {
		Operation string `yaml:"operation"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, err
	}
	if head.Operation == "" {
		return nil, fmt.Errorf("line %d: operation is required", node.Line)
	}

	decodersMu.RLock()
	dec, ok := decoders[Kind(head.Operation)]
	decodersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown operation %q (must be one of %v)", head.Operation, decoderNames())
	}
	return dec(node)
}

// checkKeys rejects keys of node outside allowed. node.Decode does not
// honour the decoder's KnownFields setting.
func checkKeys(node *yaml.Node, allowed ...string) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if key == "operation" {
			continue
		}
		found := false
		for _, a := range allowed {
			if a == key {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("line %d: unknown field %q (allowed: %s)", node.Content[i].Line, key, strings.Join(allowed, ", "))
		}
	}
	return nil
}

func decodeSeeds(docs []SeedDoc) ([]element.Seed, error) {
	if docs == nil {
		return nil, nil
	}
	seeds := make([]element.Seed, len(docs))
	for i, d := range docs {
		s, err := d.Seed()
		if err != nil {
			return nil, fmt.Errorf("seeds[%d]: %w", i, err)
		}
		seeds[i] = s
	}
	return seeds, nil
}

func decodeAddElements(node *yaml.Node) (Operation, error) {
	if err := checkKeys(node, "elements", "skip_invalid"); err != nil {
		return nil, err
	}
	var doc struct {
		Elements    []ElementDoc `yaml:"elements"`
		SkipInvalid bool         `yaml:"skip_invalid"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	op := &AddElements{SkipInvalid: doc.SkipInvalid}
	if doc.Elements != nil {
		op.Elements = make([]element.Element, len(doc.Elements))
		for i, d := range doc.Elements {
			el, err := d.Element()
			if err != nil {
				return nil, fmt.Errorf("elements[%d]: %w", i, err)
			}
			op.Elements[i] = el
		}
	}
	return op, nil
}

func decodeGetElements(node *yaml.Node) (Operation, error) {
	if err := checkKeys(node, "seeds", "direction", "include", "view"); err != nil {
		return nil, err
	}
	var doc struct {
		Seeds     []SeedDoc  `yaml:"seeds"`
		Direction string     `yaml:"direction"`
		Include   string     `yaml:"include"`
		View      *view.View `yaml:"view"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	seeds, err := decodeSeeds(doc.Seeds)
	if err != nil {
		return nil, err
	}
	dir, err := element.ParseDirection(doc.Direction)
	if err != nil {
		return nil, err
	}
	inc, err := ParseInclude(doc.Include)
	if err != nil {
		return nil, err
	}
	return &GetElements{Seeds: seeds, Direction: dir, Include: inc, View: doc.View}, nil
}

func decodeGetAdjacent(node *yaml.Node) (Operation, error) {
	if err := checkKeys(node, "seeds", "direction", "view"); err != nil {
		return nil, err
	}
	var doc struct {
		Seeds     []SeedDoc  `yaml:"seeds"`
		Direction string     `yaml:"direction"`
		View      *view.View `yaml:"view"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	seeds, err := decodeSeeds(doc.Seeds)
	if err != nil {
		return nil, err
	}
	dir, err := element.ParseDirection(doc.Direction)
	if err != nil {
		return nil, err
	}
	return &GetAdjacentEntitySeeds{Seeds: seeds, Direction: dir, View: doc.View}, nil
}

func decodeGenerateElements(node *yaml.Node) (Operation, error) {
	if err := checkKeys(node, "generator", "objects"); err != nil {
		return nil, err
	}
	var doc struct {
		Generator *GeneratorSpec `yaml:"generator"`
		Objects   []interface{}  `yaml:"objects"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	gen, err := BuildGenerator(doc.Generator)
	if err != nil {
		return nil, err
	}
	return &GenerateElements{Generator: gen, Objects: doc.Objects}, nil
}

func decodeGenerateObjects(node *yaml.Node) (Operation, error) {
	if err := checkKeys(node, "extractor"); err != nil {
		return nil, err
	}
	var doc struct {
		Extractor *ExtractorSpec `yaml:"extractor"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	x, err := BuildExtractor(doc.Extractor)
	if err != nil {
		return nil, err
	}
	return &GenerateObjects{Extractor: x}, nil
}

func decodeExport(build func(name string) Operation) Decoder {
	return func(node *yaml.Node) (Operation, error) {
		if err := checkKeys(node, "name"); err != nil {
			return nil, err
		}
		var doc struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}
		return build(doc.Name), nil
	}
}

func decodeLimit(node *yaml.Node) (Operation, error) {
	if err := checkKeys(node, "count", "strict"); err != nil {
		return nil, err
	}
	var doc struct {
		Count  int  `yaml:"count"`
		Strict bool `yaml:"strict"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	return &Limit{Count: doc.Count, Strict: doc.Strict}, nil
}
