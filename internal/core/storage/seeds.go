package storage

import (
	"sort"

	"github.com/aevon-lab/project-lattice/internal/core/element"
)

// SeedSet answers "is this raw element related to any of the query seeds".
// Backends that over-fetch candidate rows use it to apply the contract
// described on Backend.
type SeedSet struct {
	// vertices holds EntitySeed vertices; edges touching them match.
	vertices map[string]struct{}
	// entityVertices holds every vertex whose entity is returned: entity
	// seeds plus both ends of every edge seed.
	entityVertices map[string]struct{}
	edges          map[string]struct{}
	edgeSources    map[string]struct{}
}

// NewSeedSet indexes seeds.
func NewSeedSet(seeds []element.Seed) *SeedSet {
	s := &SeedSet{
		vertices:       make(map[string]struct{}),
		entityVertices: make(map[string]struct{}),
		edges:          make(map[string]struct{}),
		edgeSources:    make(map[string]struct{}),
	}
	for _, seed := range seeds {
		switch v := seed.(type) {
		case element.EntitySeed:
			s.vertices[v.Vertex] = struct{}{}
			s.entityVertices[v.Vertex] = struct{}{}
		case element.EdgeSeed:
			s.edges[v.Identity()] = struct{}{}
			s.edgeSources[v.Source] = struct{}{}
			s.entityVertices[v.Source] = struct{}{}
			s.entityVertices[v.Destination] = struct{}{}
		}
	}
	return s
}

// Vertices returns the EntitySeed vertices, sorted.
func (s *SeedSet) Vertices() []string { return sortedKeys(s.vertices) }

// EntityVertices returns every vertex whose entity is wanted, sorted.
func (s *SeedSet) EntityVertices() []string { return sortedKeys(s.entityVertices) }

// EdgeSources returns the source vertex of every EdgeSeed, sorted.
func (s *SeedSet) EdgeSources() []string { return sortedKeys(s.edgeSources) }

// MatchEntity reports whether e should be returned.
func (s *SeedSet) MatchEntity(e *element.Entity) bool {
	_, ok := s.entityVertices[e.Vertex]
	return ok
}

// MatchEdge reports whether e should be returned when traversing in d, and
// which end matched. An exact EdgeSeed match reports the source.
func (s *SeedSet) MatchEdge(e *element.Edge, d element.Direction) (element.VertexRole, bool) {
	if _, ok := s.edges[element.SeedOf(e).Identity()]; ok {
		return element.RoleSource, true
	}
	if _, ok := s.vertices[e.Source]; ok {
		if role, ok := element.EdgeMatches(e, e.Source, d); ok {
			return role, true
		}
	}
	if _, ok := s.vertices[e.Destination]; ok {
		if role, ok := element.EdgeMatches(e, e.Destination, d); ok {
			return role, true
		}
	}
	return element.RoleNone, false
}

// MatchedEnds returns the role of every seeded end of e that matches when
// traversing in d. A self loop reports one end. Edges matched only by an
// EdgeSeed report none.
func (s *SeedSet) MatchedEnds(e *element.Edge, d element.Direction) []element.VertexRole {
	var roles []element.VertexRole
	if _, ok := s.vertices[e.Source]; ok {
		if role, ok := element.EdgeMatches(e, e.Source, d); ok {
			roles = append(roles, role)
		}
	}
	if e.Destination == e.Source {
		return roles
	}
	if _, ok := s.vertices[e.Destination]; ok {
		if role, ok := element.EdgeMatches(e, e.Destination, d); ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// Match applies opts and the seeds to a raw element. Matched edges are
// returned as copies carrying MatchedVertex.
func (s *SeedSet) Match(el element.Element, opts RelatedOptions) (element.Element, bool) {
	switch e := el.(type) {
	case *element.Entity:
		return e, opts.IncludeEntities && s.MatchEntity(e)
	case *element.Edge:
		if !opts.IncludeEdges {
			return nil, false
		}
		role, ok := s.MatchEdge(e, opts.Direction)
		if !ok {
			return nil, false
		}
		cp := *e
		cp.MatchedVertex = role
		return &cp, true
	}
	return nil, false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
