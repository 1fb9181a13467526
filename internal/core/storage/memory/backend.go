// Package memory is an in-process Backend. It keeps raw elements exactly as
// added and returns them sorted by aggregation key, so it reports grouped
// locality.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
)

// Backend stores raw elements in memory.
type Backend struct {
	mu       sync.RWMutex
	elements []element.Element
	// byVertex indexes raw element positions by every vertex they touch.
	byVertex map[string][]int
}

// NewBackend creates an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{byVertex: make(map[string][]int)}
}

// Locality implements storage.Backend.
func (b *Backend) Locality() storage.Locality { return storage.LocalityGrouped }

// AddElements appends copies of elements. Elements are not merged on write.
func (b *Backend) AddElements(ctx context.Context, elements []element.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, el := range elements {
		idx := len(b.elements)
		b.elements = append(b.elements, element.Clone(el))
		switch e := el.(type) {
		case *element.Entity:
			b.byVertex[e.Vertex] = append(b.byVertex[e.Vertex], idx)
		case *element.Edge:
			b.byVertex[e.Source] = append(b.byVertex[e.Source], idx)
			if e.Destination != e.Source {
				b.byVertex[e.Destination] = append(b.byVertex[e.Destination], idx)
			}
		}
	}

	slog.Debug("[Memory] Added elements", "count", len(elements), "total", len(b.elements))
	return nil
}

// GetElementsRelatedTo implements storage.Backend.
func (b *Backend) GetElementsRelatedTo(ctx context.Context, seeds []element.Seed, opts storage.RelatedOptions) (stream.Iterator[element.Element], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	principal, _ := storage.PrincipalFrom(ctx)
	slog.Debug("[Memory] Reading related elements", "seeds", len(seeds), "principal", principal.ID)

	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[int]struct{})
	var out []element.Element

	add := func(idx int, el element.Element) {
		if _, dup := seen[idx]; dup {
			return
		}
		seen[idx] = struct{}{}
		out = append(out, el)
	}

	for _, seed := range seeds {
		switch s := seed.(type) {
		case element.EntitySeed:
			for _, idx := range b.byVertex[s.Vertex] {
				switch e := b.elements[idx].(type) {
				case *element.Entity:
					if opts.IncludeEntities {
						add(idx, element.Clone(e))
					}
				case *element.Edge:
					if !opts.IncludeEdges {
						continue
					}
					role, ok := element.EdgeMatches(e, s.Vertex, opts.Direction)
					if !ok {
						continue
					}
					cp := element.Clone(e).(*element.Edge)
					cp.MatchedVertex = role
					add(idx, cp)
				}
			}
		case element.EdgeSeed:
			for _, idx := range b.byVertex[s.Source] {
				switch e := b.elements[idx].(type) {
				case *element.Entity:
					if opts.IncludeEntities {
						add(idx, element.Clone(e))
					}
				case *element.Edge:
					if opts.IncludeEdges && e.Source == s.Source && e.Destination == s.Destination && e.Directed == s.Directed {
						cp := element.Clone(e).(*element.Edge)
						cp.MatchedVertex = element.RoleSource
						add(idx, cp)
					}
				}
			}
			if opts.IncludeEntities {
				for _, idx := range b.byVertex[s.Destination] {
					if e, ok := b.elements[idx].(*element.Entity); ok {
						add(idx, element.Clone(e))
					}
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return stream.FromSlice(out), nil
}

// Len returns the number of raw elements held.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.elements)
}

var _ storage.Backend = (*Backend)(nil)
