// Package aggregation merges element streams by aggregation key.
//
// The engine runs in one of two modes:
//   - streaming merges runs of adjacent equal keys and holds one pending
//     element. It is only correct when the source delivers equal keys
//     adjacently (storage.LocalityGrouped).
//   - buffered drains the source, groups globally and emits in key order.
//     Memory grows with the number of distinct keys.
package aggregation

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
	"github.com/aevon-lab/project-lattice/internal/schema"
)

// Mode selects how the engine groups elements.
type Mode string

const (
	// ModeAuto resolves to streaming or buffered from the backend locality.
	ModeAuto      Mode = "auto"
	ModeStreaming Mode = "streaming"
	ModeBuffered  Mode = "buffered"
)

// ParseMode resolves a configured mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeStreaming, ModeBuffered:
		return m, nil
	}
	return "", fmt.Errorf("unknown aggregation mode %q (must be: auto, streaming, buffered)", s)
}

// Resolve returns the concrete mode for a backend with locality l.
func (m Mode) Resolve(l storage.Locality) Mode {
	if m != ModeAuto {
		return m
	}
	if l == storage.LocalityGrouped {
		return ModeStreaming
	}
	return ModeBuffered
}

// Reporter receives per-element failures that did not end the stream.
type Reporter interface {
	Report(el element.Element, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(el element.Element, err error)

func (f ReporterFunc) Report(el element.Element, err error) { f(el, err) }

// Override replaces the schema aggregator for a property of el's group.
// It returns false to fall back to the schema binding.
type Override func(el element.Element, property string) (Aggregator, bool)

// Option configures an Engine.
type Option func(*Engine)

// WithMode sets the grouping mode. ModeAuto is treated as buffered.
func WithMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithOverride installs an aggregator override.
func WithOverride(o Override) Option {
	return func(e *Engine) { e.override = o }
}

// WithReporter sends per-element errors to r instead of dropping them silently.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithFailFast ends the stream on the first per-element error.
func WithFailFast(failFast bool) Option {
	return func(e *Engine) { e.failFast = failFast }
}

// Engine merges elements sharing an aggregation key. It holds no state
// between Aggregate calls and is safe for concurrent use.
type Engine struct {
	schema   *schema.Schema
	mode     Mode
	override Override
	reporter Reporter
	failFast bool
}

// NewEngine creates an engine for s. The default mode is buffered.
func NewEngine(s *schema.Schema, opts ...Option) *Engine {
	e := &Engine{schema: s, mode: ModeBuffered}
	for _, opt := range opts {
		opt(e)
	}
	if e.mode == ModeAuto || e.mode == "" {
		e.mode = ModeBuffered
	}
	return e
}

// Mode returns the mode the engine operates in.
func (e *Engine) Mode() Mode { return e.mode }

// Aggregate returns a lazy stream in which every aggregation key of src
// appears once. Every element is validated against the schema first; an
// element with an unknown group or a mistyped property is excluded and
// reported, or ends the stream when fail-fast is set. Closing the result
// closes src.
func (e *Engine) Aggregate(src stream.Iterator[element.Element]) stream.Iterator[element.Element] {
	slog.Debug("[Aggregator] Aggregating stream", "mode", e.mode, "fail_fast", e.failFast)
	if e.mode == ModeStreaming {
		return e.streaming(src)
	}
	return e.buffered(src)
}

// pull returns the next valid, normalised element of src.
func (e *Engine) pull(src stream.Iterator[element.Element]) (element.Element, bool, error) {
	for src.Next() {
		el, err := e.schema.Normalise(src.Item())
		if err != nil {
			if err := e.fail(src.Item(), err); err != nil {
				return nil, false, err
			}
			continue
		}
		return el, true, nil
	}
	return nil, false, src.Err()
}

// fail handles a per-element error. It returns err when the stream must end.
func (e *Engine) fail(el element.Element, err error) error {
	if e.failFast {
		return err
	}
	if e.reporter != nil {
		e.reporter.Report(el, err)
	} else {
		slog.Warn("[Aggregator] Element excluded", "element", el, "error", err)
	}
	return nil
}

func (e *Engine) streaming(src stream.Iterator[element.Element]) stream.Iterator[element.Element] {
	var (
		pending element.Element
		done    bool
	)
	next := func() (element.Element, bool, error) {
		if done {
			return nil, false, nil
		}
		for {
			el, ok, err := e.pull(src)
			if err != nil {
				done = true
				return nil, false, err
			}
			if !ok {
				done = true
				out := pending
				pending = nil
				return out, out != nil, nil
			}
			if pending == nil {
				pending = el
				continue
			}
			if el.Key() != pending.Key() {
				out := pending
				pending = el
				return out, true, nil
			}
			merged, err := e.merge(pending, el)
			if err != nil {
				if err := e.fail(el, err); err != nil {
					done = true
					return nil, false, err
				}
				continue
			}
			pending = merged
		}
	}
	return stream.Func(next, src.Close)
}

func (e *Engine) buffered(src stream.Iterator[element.Element]) stream.Iterator[element.Element] {
	closeSrc := stream.OnceCloser(src.Close)
	var (
		out    []element.Element
		pos    int
		loaded bool
	)
	load := func() error {
		groups := make(map[element.Key]element.Element)
		for {
			el, ok, err := e.pull(src)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			k := el.Key()
			cur, seen := groups[k]
			if !seen {
				groups[k] = el
				continue
			}
			merged, err := e.merge(cur, el)
			if err != nil {
				if err := e.fail(el, err); err != nil {
					return err
				}
				continue
			}
			groups[k] = merged
		}
		out = make([]element.Element, 0, len(groups))
		for _, el := range groups {
			out = append(out, el)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
		// The source is drained; release its cursor before the caller finishes.
		return closeSrc()
	}

	next := func() (element.Element, bool, error) {
		if !loaded {
			loaded = true
			if err := load(); err != nil {
				return nil, false, err
			}
		}
		if pos >= len(out) {
			return nil, false, nil
		}
		el := out[pos]
		out[pos] = nil
		pos++
		return el, true, nil
	}
	return stream.Func(next, closeSrc)
}

// Merge folds b into a. Both must share an aggregation key and belong to a
// declared group; values are coerced to their declared types first.
func (e *Engine) Merge(a, b element.Element) (element.Element, error) {
	if a.Key() != b.Key() {
		return nil, fmt.Errorf("cannot merge %s with %s: aggregation keys differ", a, b)
	}
	na, err := e.schema.Normalise(a)
	if err != nil {
		return nil, err
	}
	nb, err := e.schema.Normalise(b)
	if err != nil {
		return nil, err
	}
	return e.merge(na, nb)
}

// merge folds normalised b into normalised a without modifying either.
// Properties present on only one side are carried over unchanged.
func (e *Engine) merge(a, b element.Element) (element.Element, error) {
	def, err := e.schema.DefinitionOf(a)
	if err != nil {
		return nil, err
	}

	props := a.GetProperties().Clone()
	if props == nil {
		props = make(element.Properties)
	}
	for name, inc := range b.GetProperties() {
		cur, ok := props[name]
		if !ok {
			props[name] = inc
			continue
		}
		agg, err := e.aggregatorFor(a, def, name)
		if err != nil {
			return nil, err
		}
		v, err := agg.Apply(cur, inc)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Group, name, err)
		}
		props[name] = v
	}
	return element.WithProperties(a, props), nil
}

func (e *Engine) aggregatorFor(el element.Element, def *schema.ElementDefinition, property string) (Aggregator, error) {
	if e.override != nil {
		if agg, ok := e.override(el, property); ok {
			return agg, nil
		}
	}
	agg, ok := def.Aggregator(property)
	if !ok {
		return nil, schema.NewUndeclaredPropertyError(e.schema.Name, def.Group, property)
	}
	return agg, nil
}
