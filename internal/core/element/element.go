package element

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the two element variants.
type Kind int

const (
	KindEntity Kind = iota + 1
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindEdge:
		return "edge"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Properties maps property names to values. Values are the Go representation
// of a PropertyType (string, bool, int64, float64, decimal.Decimal, []string).
type Properties map[string]interface{}

// Clone returns a shallow copy. string_set values are copied so the clone can
// be mutated by aggregators without touching the source.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		if set, ok := v.([]string); ok {
			v = append([]string(nil), set...)
		}
		out[k] = v
	}
	return out
}

// Names returns the property names in sorted order.
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Element is an Entity or an Edge. The interface is sealed: only *Entity and
// *Edge implement it, so type switches over the two are exhaustive.
type Element interface {
	Kind() Kind
	GetGroup() string
	GetProperties() Properties
	Key() Key

	// copyWith returns a copy of the element carrying the given properties.
	copyWith(props Properties) Element
}

// WithProperties returns a copy of el carrying props. el is not modified.
func WithProperties(el Element, props Properties) Element {
	return el.copyWith(props)
}

// Clone returns a copy of el with cloned properties.
func Clone(el Element) Element {
	return el.copyWith(el.GetProperties().Clone())
}

// Entity is a single vertex.
type Entity struct {
	Vertex     string
	Group      string
	Properties Properties
}

// NewEntity creates an entity. A nil property map is replaced by an empty one.
func NewEntity(group, vertex string, props Properties) *Entity {
	if props == nil {
		props = Properties{}
	}
	return &Entity{Vertex: vertex, Group: group, Properties: props}
}

func (e *Entity) Kind() Kind                { return KindEntity }
func (e *Entity) GetGroup() string          { return e.Group }
func (e *Entity) GetProperties() Properties { return e.Properties }

func (e *Entity) Key() Key {
	return Key{Kind: KindEntity, Group: e.Group, Vertex: e.Vertex}
}

func (e *Entity) copyWith(props Properties) Element {
	c := *e
	c.Properties = props
	return &c
}

func (e *Entity) String() string {
	return fmt.Sprintf("Entity[group=%s,vertex=%s,properties=%s]", e.Group, e.Vertex, formatProperties(e.Properties))
}

// Edge connects two vertices. Undirected edges are normalised so that
// Source <= Destination; use NewEdge to get that guarantee.
type Edge struct {
	Source      string
	Destination string
	Directed    bool
	Group       string
	Properties  Properties

	// MatchedVertex records which end of the edge matched the seed that
	// retrieved it. It is set by backends and is not part of the edge's identity.
	MatchedVertex VertexRole
}

// NewEdge creates an edge, normalising undirected endpoints.
func NewEdge(group, source, destination string, directed bool, props Properties) *Edge {
	if props == nil {
		props = Properties{}
	}
	if !directed && destination < source {
		source, destination = destination, source
	}
	return &Edge{
		Source:      source,
		Destination: destination,
		Directed:    directed,
		Group:       group,
		Properties:  props,
	}
}

func (e *Edge) Kind() Kind                { return KindEdge }
func (e *Edge) GetGroup() string          { return e.Group }
func (e *Edge) GetProperties() Properties { return e.Properties }

func (e *Edge) Key() Key {
	return Key{
		Kind:        KindEdge,
		Group:       e.Group,
		Source:      e.Source,
		Destination: e.Destination,
		Directed:    e.Directed,
	}
}

func (e *Edge) copyWith(props Properties) Element {
	c := *e
	c.Properties = props
	return &c
}

// MatchedEnd returns the vertex that matched the query seed, falling back to
// the source when the backend did not record a match.
func (e *Edge) MatchedEnd() string {
	if e.MatchedVertex == RoleDestination {
		return e.Destination
	}
	return e.Source
}

// AdjacentEnd returns the vertex opposite the matched one.
func (e *Edge) AdjacentEnd() string {
	if e.MatchedVertex == RoleDestination {
		return e.Source
	}
	return e.Destination
}

func (e *Edge) String() string {
	return fmt.Sprintf("Edge[group=%s,source=%s,destination=%s,directed=%t,properties=%s]",
		e.Group, e.Source, e.Destination, e.Directed, formatProperties(e.Properties))
}

func formatProperties(p Properties) string {
	parts := make([]string, 0, len(p))
	for _, name := range p.Names() {
		parts = append(parts, fmt.Sprintf("%s=%v", name, p[name]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
