// Package graph executes operation chains against a schema and a backend.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/project-lattice/internal/aggregation"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
	"github.com/aevon-lab/project-lattice/internal/export"
	"github.com/aevon-lab/project-lattice/internal/metrics"
	"github.com/aevon-lab/project-lattice/internal/operation"
	"github.com/aevon-lab/project-lattice/internal/schema"
	"github.com/aevon-lab/project-lattice/internal/view"
)

// Handler runs one operation. It owns input: it must either close it or
// return a stream whose Close closes it.
type Handler func(ctx context.Context, x *Execution, op operation.Operation, input stream.Iterator[any]) (stream.Iterator[any], error)

// Option configures a Graph.
type Option func(*Graph)

// WithMode sets the aggregation mode. ModeAuto (the default) follows the
// backend's locality.
func WithMode(m aggregation.Mode) Option {
	return func(g *Graph) { g.mode = m }
}

// WithFailFast ends a result stream on the first per-element error instead
// of dropping and reporting the element.
func WithFailFast(failFast bool) Option {
	return func(g *Graph) { g.failFast = failFast }
}

// WithMaxOperations rejects chains longer than n. Zero means unlimited.
func WithMaxOperations(n int) Option {
	return func(g *Graph) { g.maxOperations = n }
}

// Graph binds a schema and a backend to a dispatch table of handlers. It is
// safe for concurrent use; each Execute call gets its own export context.
type Graph struct {
	schema  *schema.Schema
	backend storage.Backend

	mode          aggregation.Mode
	failFast      bool
	maxOperations int

	mu       sync.RWMutex
	handlers map[operation.Kind]Handler
}

// New creates a graph with the built-in handlers registered.
func New(s *schema.Schema, backend storage.Backend, opts ...Option) *Graph {
	g := &Graph{
		schema:   s,
		backend:  backend,
		mode:     aggregation.ModeAuto,
		handlers: make(map[operation.Kind]Handler, len(operation.Kinds)),
	}
	for _, opt := range opts {
		opt(g)
	}
	for kind, h := range builtinHandlers() {
		g.handlers[kind] = h
	}
	return g
}

// Register binds kind to h, replacing any existing handler.
func (g *Graph) Register(kind operation.Kind, h Handler) error {
	if kind == "" {
		return errors.New("operation kind is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %s is nil", kind)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[kind] = h
	return nil
}

// Schema returns the graph's schema.
func (g *Graph) Schema() *schema.Schema { return g.schema }

// Mode returns the concrete aggregation mode used for reads.
func (g *Graph) Mode() aggregation.Mode { return g.mode.Resolve(g.backend.Locality()) }

// Compile resolves handlers and view pipelines for chain without running
// anything. It returns the error Execute would reject chain with.
func (g *Graph) Compile(chain *operation.Chain) error {
	_, err := g.prepare(chain, storage.Principal{})
	return err
}

// Execute runs chain and returns its lazy result. Every failure is a
// *errors.ChainError: compile-phase errors are returned before any handler
// runs, handler failures abort the chain as ErrOperationFailed without
// rolling back earlier steps. The caller must Close the result.
func (g *Graph) Execute(ctx context.Context, chain *operation.Chain, principal storage.Principal) (*Result, error) {
	x, err := g.prepare(chain, principal)
	if err != nil {
		metrics.RecordExecution(metrics.OutcomeRejected)
		slog.Warn("[Executor] Chain rejected", "error", err)
		return nil, err
	}

	ctx = storage.WithPrincipal(ctx, principal)
	x.log.Info("[Executor] Executing chain", "operations", chain.Len(), "principal", principal.ID, "mode", x.Mode)

	var cur stream.Iterator[any] = stream.Empty[any]()
	for i, op := range chain.Operations() {
		kind := op.Kind()
		if err := ctx.Err(); err != nil {
			_ = cur.Close()
			return nil, x.fail(coreerr.OperationFailed(i, string(kind), err))
		}

		x.step = i
		start := time.Now()
		out, err := x.handlers[i](ctx, x, op, cur)
		metrics.RecordStep(string(kind), time.Since(start))
		if err != nil {
			_ = cur.Close()
			return nil, x.fail(wrapStep(i, kind, err))
		}
		cur = guard(i, kind, out)
	}
	return newResult(x, chain.OutputType(), cur), nil
}

// prepare resolves handlers and compiles view pipelines for every step so
// that malformed chains fail before any side effect.
func (g *Graph) prepare(chain *operation.Chain, principal storage.Principal) (*Execution, error) {
	if chain == nil {
		return nil, coreerr.InvalidOperation(-1, "", errors.New("chain is required"))
	}
	if g.maxOperations > 0 && chain.Len() > g.maxOperations {
		return nil, coreerr.InvalidOperation(-1, "", fmt.Errorf("chain has %d operations, limit is %d", chain.Len(), g.maxOperations))
	}

	id := uuid.NewString()
	x := &Execution{
		ID:        id,
		Schema:    g.schema,
		Backend:   g.backend,
		Export:    export.New(),
		Principal: principal,
		Mode:      g.Mode(),
		FailFast:  g.failFast,
		log:       slog.With("execution_id", id),
		diag:      &diagnostics{},
	}

	ops := chain.Operations()
	x.handlers = make([]Handler, len(ops))
	x.pipelines = make([]*view.Pipeline, len(ops))

	g.mu.RLock()
	defer g.mu.RUnlock()
	for i, op := range ops {
		kind := op.Kind()
		h, ok := g.handlers[kind]
		if !ok {
			return nil, coreerr.InvalidOperation(i, string(kind), errors.New("no handler registered"))
		}
		x.handlers[i] = h

		viewed, ok := op.(operation.Viewed)
		if !ok {
			continue
		}
		p, err := view.NewPipeline(g.schema, viewed.GetView(),
			view.WithMode(x.Mode),
			view.WithReporter(x.reporter(i, kind)),
			view.WithFailFast(x.FailFast),
		)
		if err != nil {
			return nil, coreerr.InvalidOperation(i, string(kind), err)
		}
		x.pipelines[i] = p
	}
	return x, nil
}

// wrapStep attributes err to step unless it already carries a chain error
// from an earlier step.
func wrapStep(step int, kind operation.Kind, err error) error {
	if err == nil {
		return nil
	}
	var ce *coreerr.ChainError
	if errors.As(err, &ce) {
		return ce
	}
	return coreerr.OperationFailed(step, string(kind), err)
}

// stepIter attributes stream errors to the step that produced the stream.
type stepIter struct {
	stream.Iterator[any]
	step  int
	kind  operation.Kind
	close func() error
}

func guard(step int, kind operation.Kind, it stream.Iterator[any]) stream.Iterator[any] {
	if it == nil {
		it = stream.Empty[any]()
	}
	return &stepIter{Iterator: it, step: step, kind: kind, close: stream.OnceCloser(it.Close)}
}

func (s *stepIter) Err() error   { return wrapStep(s.step, s.kind, s.Iterator.Err()) }
func (s *stepIter) Close() error { return s.close() }
