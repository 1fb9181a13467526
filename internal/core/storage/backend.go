package storage

import (
	"context"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
)

// Locality describes how a backend orders the raw elements it returns for a
// single GetElementsRelatedTo call.
type Locality int

const (
	// LocalityGrouped means elements with equal aggregation keys are delivered
	// adjacently, so the aggregation engine can merge them in streaming mode.
	LocalityGrouped Locality = iota
	// LocalityUnordered means no adjacency guarantee; callers must buffer.
	LocalityUnordered
)

func (l Locality) String() string {
	if l == LocalityGrouped {
		return "grouped"
	}
	return "unordered"
}

// RelatedOptions controls which elements GetElementsRelatedTo returns.
type RelatedOptions struct {
	Direction       element.Direction
	IncludeEntities bool
	IncludeEdges    bool
}

// DefaultRelatedOptions returns entities and edges in both directions.
func DefaultRelatedOptions() RelatedOptions {
	return RelatedOptions{
		Direction:       element.DirectionBoth,
		IncludeEntities: true,
		IncludeEdges:    true,
	}
}

// Backend is the narrow contract the executor needs from a store.
//
// GetElementsRelatedTo returns raw, unaggregated elements:
//   - for an EntitySeed, the entity with that vertex and every edge touching
//     it that matches the direction, with Edge.MatchedVertex set;
//   - for an EdgeSeed, the edges with those endpoints plus the entities at
//     both ends.
//
// An element related to several seeds is returned once per raw record, not
// once per seed. Views are applied above the backend; backends never filter
// on properties. Failures are returned as *errors.StoreError.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	GetElementsRelatedTo(ctx context.Context, seeds []element.Seed, opts RelatedOptions) (stream.Iterator[element.Element], error)
	AddElements(ctx context.Context, elements []element.Element) error
	Locality() Locality
}
