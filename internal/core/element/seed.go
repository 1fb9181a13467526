package element

import (
	"fmt"
	"strings"
)

// VertexRole tags which vertex of an element an identifier refers to.
type VertexRole string

const (
	RoleNone                  VertexRole = ""
	RoleSource                VertexRole = "SOURCE"
	RoleDestination           VertexRole = "DESTINATION"
	RoleMatchedVertex         VertexRole = "MATCHED_VERTEX"
	RoleAdjacentMatchedVertex VertexRole = "ADJACENT_MATCHED_VERTEX"
)

// ParseVertexRole parses a role name (case-insensitive). The empty string maps to RoleNone.
func ParseVertexRole(s string) (VertexRole, error) {
	switch VertexRole(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleNone:
		return RoleNone, nil
	case RoleSource:
		return RoleSource, nil
	case RoleDestination:
		return RoleDestination, nil
	case RoleMatchedVertex:
		return RoleMatchedVertex, nil
	case RoleAdjacentMatchedVertex:
		return RoleAdjacentMatchedVertex, nil
	default:
		return RoleNone, fmt.Errorf("unknown vertex role %q", s)
	}
}

// Direction restricts which edges a seed traversal follows.
type Direction string

const (
	DirectionBoth Direction = "BOTH"
	DirectionOut  Direction = "OUT"
	DirectionIn   Direction = "IN"
)

// ParseDirection parses a direction name (case-insensitive). Empty means BOTH.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BOTH", "EITHER":
		return DirectionBoth, nil
	case "OUT", "OUTGOING":
		return DirectionOut, nil
	case "IN", "INCOMING":
		return DirectionIn, nil
	default:
		return "", fmt.Errorf("unknown direction %q (must be IN, OUT or BOTH)", s)
	}
}

// Seed identifies a vertex or an edge as the starting point of a query.
type Seed interface {
	// Identity is the comparable identity of the seed. The vertex role is
	// not part of it.
	Identity() string
	String() string

	seed()
}

// EntitySeed identifies a single vertex.
type EntitySeed struct {
	Vertex string
	Role   VertexRole
}

func (s EntitySeed) Identity() string { return EncodeComponents("v", s.Vertex) }
func (EntitySeed) seed()              {}

func (s EntitySeed) String() string {
	if s.Role != RoleNone {
		return fmt.Sprintf("EntitySeed[vertex=%s,role=%s]", s.Vertex, s.Role)
	}
	return fmt.Sprintf("EntitySeed[vertex=%s]", s.Vertex)
}

// EdgeSeed identifies an edge by its endpoints.
type EdgeSeed struct {
	Source      string
	Destination string
	Directed    bool
}

// NewEdgeSeed creates an edge seed, normalising undirected endpoints the same
// way NewEdge does.
func NewEdgeSeed(source, destination string, directed bool) EdgeSeed {
	if !directed && destination < source {
		source, destination = destination, source
	}
	return EdgeSeed{Source: source, Destination: destination, Directed: directed}
}

func (s EdgeSeed) Identity() string {
	d := "u"
	if s.Directed {
		d = "d"
	}
	return EncodeComponents("e", s.Source, s.Destination, d)
}

func (EdgeSeed) seed() {}

func (s EdgeSeed) String() string {
	return fmt.Sprintf("EdgeSeed[source=%s,destination=%s,directed=%t]", s.Source, s.Destination, s.Directed)
}

// SeedOf returns the seed that identifies el.
func SeedOf(el Element) Seed {
	switch e := el.(type) {
	case *Entity:
		return EntitySeed{Vertex: e.Vertex}
	case *Edge:
		return EdgeSeed{Source: e.Source, Destination: e.Destination, Directed: e.Directed}
	default:
		panic(fmt.Sprintf("element: unknown element type %T", el))
	}
}

// EdgeMatches reports whether edge e is related to vertex v when traversing in
// direction d, and which end matched. Undirected edges match any direction.
func EdgeMatches(e *Edge, v string, d Direction) (VertexRole, bool) {
	srcMatch := e.Source == v
	dstMatch := e.Destination == v
	if !e.Directed {
		switch {
		case srcMatch:
			return RoleSource, true
		case dstMatch:
			return RoleDestination, true
		}
		return RoleNone, false
	}
	switch d {
	case DirectionOut:
		if srcMatch {
			return RoleSource, true
		}
	case DirectionIn:
		if dstMatch {
			return RoleDestination, true
		}
	default:
		if srcMatch {
			return RoleSource, true
		}
		if dstMatch {
			return RoleDestination, true
		}
	}
	return RoleNone, false
}
