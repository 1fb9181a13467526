package graph

import (
	"context"
	"fmt"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
	"github.com/aevon-lab/project-lattice/internal/metrics"
	"github.com/aevon-lab/project-lattice/internal/operation"
)

func builtinHandlers() map[operation.Kind]Handler {
	return map[operation.Kind]Handler{
		operation.KindAddElements:            addElements,
		operation.KindGetElements:            getElements,
		operation.KindGetAdjacentEntitySeeds: getAdjacentEntitySeeds,
		operation.KindGenerateElements:       generateElements,
		operation.KindGenerateObjects:        generateObjects,
		operation.KindInitialiseExport:       initialiseExport,
		operation.KindUpdateExport:           updateExport,
		operation.KindFetchExport:            fetchExport,
		operation.KindLimit:                  limit,
	}
}

// drain collects and closes input.
func drain(input stream.Iterator[any]) ([]any, error) {
	return stream.Collect(input)
}

func addElements(ctx context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	o := op.(*operation.AddElements)

	var raw []element.Element
	if o.Elements != nil {
		_ = input.Close()
		raw = o.Elements
	} else {
		items, err := drain(input)
		if err != nil {
			return nil, err
		}
		raw = make([]element.Element, 0, len(items))
		for _, item := range items {
			el, ok := item.(element.Element)
			if !ok {
				return nil, fmt.Errorf("expected an element, got %T", item)
			}
			raw = append(raw, el)
		}
	}

	valid := make([]element.Element, 0, len(raw))
	for _, el := range raw {
		norm, err := x.Schema.Normalise(el)
		if err != nil {
			if o.SkipInvalid {
				x.Drop(el, o.Kind(), err)
				continue
			}
			return nil, fmt.Errorf("element %s: %w", el, err)
		}
		valid = append(valid, norm)
	}

	if len(valid) > 0 {
		if err := x.Backend.AddElements(ctx, valid); err != nil {
			return nil, err
		}
		metrics.RecordAdded(len(valid))
	}
	x.log.Info("[Executor] Added elements", "step", x.step, "added", len(valid), "skipped", len(raw)-len(valid))
	return stream.Empty[any](), nil
}

// seedsOf resolves the seeds of a read: the operation's own when set,
// otherwise the previous step's output. Elements are accepted and read by
// their identity.
func seedsOf(explicit []element.Seed, input stream.Iterator[any]) ([]element.Seed, error) {
	if explicit != nil {
		_ = input.Close()
		return explicit, nil
	}
	items, err := drain(input)
	if err != nil {
		return nil, err
	}
	seeds := make([]element.Seed, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case element.Seed:
			seeds = append(seeds, v)
		case element.Element:
			seeds = append(seeds, element.SeedOf(v))
		default:
			return nil, fmt.Errorf("expected a seed, got %T", item)
		}
	}
	return seeds, nil
}

func getElements(ctx context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	o := op.(*operation.GetElements)
	seeds, err := seedsOf(o.Seeds, input)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return stream.Empty[any](), nil
	}

	raw, err := x.Backend.GetElementsRelatedTo(ctx, seeds, o.RelatedOptions())
	if err != nil {
		return nil, err
	}
	x.log.Debug("[Executor] Reading elements", "step", x.step, "seeds", len(seeds))
	return stream.Map(x.Pipeline().Apply(raw), func(el element.Element) (any, error) {
		return el, nil
	}), nil
}

// getAdjacentEntitySeeds emits the far end of every read edge once per seed
// vertex the edge touches, so an edge between two seeds yields both ends.
func getAdjacentEntitySeeds(ctx context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	o := op.(*operation.GetAdjacentEntitySeeds)
	seeds, err := seedsOf(o.Seeds, input)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return stream.Empty[any](), nil
	}

	opts := o.RelatedOptions()
	raw, err := x.Backend.GetElementsRelatedTo(ctx, seeds, opts)
	if err != nil {
		return nil, err
	}
	edges := stream.Filter(x.Pipeline().Apply(raw), func(el element.Element) bool {
		return el.Kind() == element.KindEdge
	})

	set := storage.NewSeedSet(seeds)
	var pending []element.EntitySeed
	return stream.Func(func() (any, bool, error) {
		for len(pending) == 0 {
			if !edges.Next() {
				return nil, false, edges.Err()
			}
			e := edges.Item().(*element.Edge)
			roles := set.MatchedEnds(e, opts.Direction)
			if len(roles) == 0 {
				pending = append(pending, element.EntitySeed{Vertex: e.AdjacentEnd(), Role: element.RoleAdjacentMatchedVertex})
				continue
			}
			for _, role := range roles {
				matched := *e
				matched.MatchedVertex = role
				pending = append(pending, element.EntitySeed{Vertex: matched.AdjacentEnd(), Role: element.RoleAdjacentMatchedVertex})
			}
		}
		next := pending[0]
		pending = pending[1:]
		return next, true, nil
	}, edges.Close), nil
}

func generateElements(_ context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	o := op.(*operation.GenerateElements)
	src := input
	if o.Objects != nil {
		_ = input.Close()
		src = stream.FromSlice(o.Objects)
	}

	step := x.step
	return stream.Func(func() (any, bool, error) {
		for src.Next() {
			obj := src.Item()
			el, err := o.Generator.Generate(x.Schema, obj)
			if err != nil {
				if x.FailFast {
					return nil, false, fmt.Errorf("generate from %v: %w", obj, err)
				}
				x.drop(step, o.Kind(), obj, err)
				continue
			}
			return el, true, nil
		}
		return nil, false, src.Err()
	}, src.Close), nil
}

func generateObjects(_ context.Context, _ *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	o := op.(*operation.GenerateObjects)
	return stream.Func(func() (any, bool, error) {
		for input.Next() {
			item := input.Item()
			el, ok := item.(element.Element)
			if !ok {
				return nil, false, fmt.Errorf("expected an element, got %T", item)
			}
			if out, ok := o.Extractor.Extract(el); ok {
				return out, true, nil
			}
		}
		return nil, false, input.Err()
	}, input.Close), nil
}

func initialiseExport(_ context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	x.Export.Initialise(op.(*operation.InitialiseExport).ExportName())
	return input, nil
}

// updateExport drains its input so that a later FetchExport sees the
// complete set, then replays it.
func updateExport(_ context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	name := op.(*operation.UpdateExport).ExportName()
	items, err := drain(input)
	if err != nil {
		return nil, err
	}
	added := x.Export.Update(name, items)
	x.log.Debug("[Executor] Updated export", "step", x.step, "export", name, "items", len(items), "added", added)
	return stream.FromSlice(items), nil
}

func fetchExport(_ context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	_ = input.Close()
	items, err := x.Export.Fetch(op.(*operation.FetchExport).ExportName())
	if err != nil {
		return nil, err
	}
	return stream.FromSlice(items), nil
}

func limit(_ context.Context, _ *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error) {
	o := op.(*operation.Limit)
	if !o.Strict {
		return stream.Limit(input, o.Count), nil
	}
	seen := 0
	return stream.Func(func() (any, bool, error) {
		if !input.Next() {
			return nil, false, input.Err()
		}
		if seen >= o.Count {
			return nil, false, fmt.Errorf("limit of %d exceeded", o.Count)
		}
		seen++
		return input.Item(), true, nil
	}, input.Close), nil
}
