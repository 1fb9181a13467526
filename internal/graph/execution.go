package graph

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aevon-lab/project-lattice/internal/aggregation"
	"github.com/aevon-lab/project-lattice/internal/core/element"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
	"github.com/aevon-lab/project-lattice/internal/export"
	"github.com/aevon-lab/project-lattice/internal/metrics"
	"github.com/aevon-lab/project-lattice/internal/operation"
	"github.com/aevon-lab/project-lattice/internal/schema"
	"github.com/aevon-lab/project-lattice/internal/view"
)

// Execution is the state of one chain run, handed to every handler. It is
// never shared between runs.
type Execution struct {
	ID        string
	Schema    *schema.Schema
	Backend   storage.Backend
	Export    *export.Context
	Principal storage.Principal
	// Mode is the resolved aggregation mode for reads.
	Mode     aggregation.Mode
	FailFast bool

	log       *slog.Logger
	step      int
	handlers  []Handler
	pipelines []*view.Pipeline
	diag      *diagnostics
}

// Step returns the index of the running step.
func (x *Execution) Step() int { return x.step }

// Logger returns a logger tagged with the execution id.
func (x *Execution) Logger() *slog.Logger { return x.log }

// Pipeline returns the view pipeline compiled for the running step, or nil
// when the operation reads through no view.
func (x *Execution) Pipeline() *view.Pipeline { return x.pipelines[x.step] }

// Drop records an item removed from a stream by a per-element error at the
// running step.
func (x *Execution) Drop(item interface{}, kind operation.Kind, err error) {
	x.drop(x.step, kind, item, err)
}

func (x *Execution) reporter(step int, kind operation.Kind) aggregation.Reporter {
	return aggregation.ReporterFunc(func(el element.Element, err error) {
		x.drop(step, kind, el, err)
	})
}

func (x *Execution) drop(step int, kind operation.Kind, item interface{}, err error) {
	reason := metrics.Reason(err)
	metrics.RecordDropped(err)
	x.log.Warn("[Executor] Element dropped", "step", step, "operation", kind, "reason", reason, "item", item, "error", err)
	x.diag.add(Diagnostic{
		Step:      step,
		Operation: kind,
		Item:      fmt.Sprint(item),
		Reason:    reason,
		Err:       err,
	})
}

func (x *Execution) fail(err error) error {
	metrics.RecordExecution(metrics.OutcomeFailed)
	x.log.Error("[Executor] Chain failed", "error", err)
	return err
}

// Diagnostic describes one item dropped from a stream.
type Diagnostic struct {
	Step      int
	Operation operation.Kind
	Item      string
	// Reason is a metrics drop reason, e.g. "missing_property".
	Reason string
	Err    error
}

type diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
}

func (d *diagnostics) add(diag Diagnostic) {
	d.mu.Lock()
	d.items = append(d.items, diag)
	d.mu.Unlock()
}

func (d *diagnostics) snapshot() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Diagnostic(nil), d.items...)
}

// Result is the lazy output of an execution. Close is idempotent and
// releases every upstream cursor.
type Result struct {
	ID   string
	Type operation.IOType

	it    stream.Iterator[any]
	x     *Execution
	close func() error
}

func newResult(x *Execution, t operation.IOType, it stream.Iterator[any]) *Result {
	r := &Result{ID: x.ID, Type: t, it: it, x: x}
	r.close = stream.OnceCloser(func() error {
		err := it.Close()
		outcome := metrics.OutcomeSucceeded
		if it.Err() != nil {
			outcome = metrics.OutcomeFailed
		}
		metrics.RecordExecution(outcome)
		x.log.Info("[Executor] Chain finished", "outcome", outcome, "dropped", len(x.diag.snapshot()))
		return err
	})
	return r
}

func (r *Result) Next() bool { return r.it.Next() }
func (r *Result) Item() any  { return r.it.Item() }
func (r *Result) Err() error { return r.it.Err() }
func (r *Result) Close() error { return r.close() }

// Diagnostics returns the items dropped so far.
func (r *Result) Diagnostics() []Diagnostic { return r.x.diag.snapshot() }

// Export returns the execution's export context, e.g. to inspect sets after
// the chain has been consumed.
func (r *Result) Export() *export.Context { return r.x.Export }

// Collect drains and closes r.
func (r *Result) Collect() ([]any, error) {
	return stream.Collect[any](r)
}
