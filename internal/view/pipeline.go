package view

import (
	"fmt"
	"log/slog"

	"github.com/aevon-lab/project-lattice/internal/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
	"github.com/aevon-lab/project-lattice/internal/schema"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMode sets the aggregation mode.
func WithMode(m aggregation.Mode) Option {
	return func(p *Pipeline) { p.mode = m }
}

// WithReporter receives every element dropped by a per-element error.
func WithReporter(r aggregation.Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// WithFailFast ends the stream on the first per-element error.
func WithFailFast(failFast bool) Option {
	return func(p *Pipeline) { p.failFast = failFast }
}

// Pipeline applies a view to raw backend elements:
//
//	pre-aggregation filter → aggregate → post-aggregation filter →
//	transform → post-transform filter
//
// It holds no per-stream state and is safe for concurrent use.
type Pipeline struct {
	schema   *schema.Schema
	view     *View
	engine   *aggregation.Engine
	mode     aggregation.Mode
	reporter aggregation.Reporter
	failFast bool

	overrides map[element.Kind]map[string]map[string]aggregation.Aggregator
}

// NewPipeline validates v against s and builds a pipeline. A nil view only
// aggregates.
func NewPipeline(s *schema.Schema, v *View, opts ...Option) (*Pipeline, error) {
	if err := v.Validate(s); err != nil {
		return nil, fmt.Errorf("invalid view: %w", err)
	}

	p := &Pipeline{schema: s, view: v, mode: aggregation.ModeBuffered}
	for _, opt := range opts {
		opt(p)
	}
	p.overrides = compileOverrides(v)

	engineOpts := []aggregation.Option{
		aggregation.WithMode(p.mode),
		aggregation.WithReporter(aggregation.ReporterFunc(p.report)),
		aggregation.WithFailFast(p.failFast),
	}
	if len(p.overrides) > 0 {
		engineOpts = append(engineOpts, aggregation.WithOverride(p.override))
	}
	p.engine = aggregation.NewEngine(s, engineOpts...)
	return p, nil
}

func compileOverrides(v *View) map[element.Kind]map[string]map[string]aggregation.Aggregator {
	out := make(map[element.Kind]map[string]map[string]aggregation.Aggregator)
	if v == nil {
		return out
	}
	add := func(kind element.Kind, defs map[string]*ElementDefinition) {
		for group, def := range defs {
			if def == nil || len(def.Aggregators) == 0 {
				continue
			}
			props := make(map[string]aggregation.Aggregator)
			for _, b := range def.Aggregators {
				for _, prop := range b.Properties {
					props[prop] = aggregation.Operators[b.Operator]
				}
			}
			if out[kind] == nil {
				out[kind] = make(map[string]map[string]aggregation.Aggregator)
			}
			out[kind][group] = props
		}
	}
	add(element.KindEntity, v.Entities)
	add(element.KindEdge, v.Edges)
	return out
}

func (p *Pipeline) override(el element.Element, property string) (aggregation.Aggregator, bool) {
	agg, ok := p.overrides[el.Kind()][el.GetGroup()][property]
	return agg, ok
}

// Mode returns the aggregation mode in use.
func (p *Pipeline) Mode() aggregation.Mode { return p.engine.Mode() }

// Apply returns the lazy, filtered and transformed stream. Closing it closes raw.
func (p *Pipeline) Apply(raw stream.Iterator[element.Element]) stream.Iterator[element.Element] {
	pre := p.stage(raw, p.preAggregate)
	return p.stage(p.engine.Aggregate(pre), p.postAggregate)
}

func (p *Pipeline) report(el element.Element, err error) {
	if p.reporter != nil {
		p.reporter.Report(el, err)
		return
	}
	slog.Warn("[Pipeline] Element dropped", "element", el, "error", err)
}

// stage maps src through fn. fn returns false to drop the element; an error
// drops it and is reported, or ends the stream under fail-fast.
func (p *Pipeline) stage(src stream.Iterator[element.Element], fn func(element.Element) (element.Element, bool, error)) stream.Iterator[element.Element] {
	return stream.Func(func() (element.Element, bool, error) {
		for src.Next() {
			el := src.Item()
			out, keep, err := fn(el)
			if err != nil {
				if p.failFast {
					return nil, false, err
				}
				p.report(el, err)
				continue
			}
			if keep {
				return out, true, nil
			}
		}
		return nil, false, src.Err()
	}, src.Close)
}

func (p *Pipeline) preAggregate(el element.Element) (element.Element, bool, error) {
	def, ok := p.view.Definition(el)
	if !ok {
		return el, true, nil
	}
	keep, err := evaluate(def.PreAggregationFilters, el, StagePreAggregation)
	return el, keep, err
}

func (p *Pipeline) postAggregate(el element.Element) (element.Element, bool, error) {
	def, ok := p.view.Definition(el)
	if !ok {
		return el, true, nil
	}

	keep, err := evaluate(def.PostAggregationFilters, el, StagePostAggregation)
	if err != nil || !keep {
		return nil, false, err
	}

	if len(def.Transforms) > 0 {
		if el, err = transform(def, el); err != nil {
			return nil, false, err
		}
	}

	keep, err = evaluate(def.PostTransformFilters, el, StagePostTransform)
	if err != nil || !keep {
		return nil, false, err
	}
	return el, true, nil
}

// evaluate ANDs filters over el.
func evaluate(filters []Filter, el element.Element, stage string) (bool, error) {
	for _, f := range filters {
		ok, err := f.Evaluate(el, stage)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// transform runs the transform steps in order on a copy of el. Each output is
// coerced to its declared transient type.
func transform(def *ElementDefinition, el element.Element) (element.Element, error) {
	props := el.GetProperties().Clone()
	if props == nil {
		props = make(element.Properties)
	}
	out := element.WithProperties(el, props)

	for _, step := range def.Transforms {
		inputs := make([]interface{}, len(step.Inputs))
		for i, name := range step.Inputs {
			v, ok := Select(out, name)
			if !ok {
				return nil, &PropertyError{Group: el.GetGroup(), Property: name, Stage: StageTransform}
			}
			inputs[i] = v
		}
		v, err := step.Function.Apply(inputs)
		if err != nil {
			return nil, fmt.Errorf("%s: transform %s: %w", el.GetGroup(), step.Output, err)
		}
		coerced, err := def.TransientProperties[step.Output].Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%s: transform %s: %w", el.GetGroup(), step.Output, err)
		}
		props[step.Output] = coerced
	}
	return out, nil
}
