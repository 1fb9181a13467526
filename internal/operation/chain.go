package operation

import (
	"errors"
	"fmt"

	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
)

// Chain is a validated, ordered sequence of operations. It is immutable and
// may be executed any number of times.
type Chain struct {
	ops     []Operation
	outputs []IOType
}

// NewChain validates ops and builds a chain. Failures are *errors.ChainError:
// ErrInvalidOperation for a malformed step, ErrIncompatibleChain when a step's
// output cannot feed the next step's input.
func NewChain(ops ...Operation) (*Chain, error) {
	if len(ops) == 0 {
		return nil, coreerr.InvalidOperation(-1, "", errors.New("chain has no operations"))
	}

	c := &Chain{
		ops:     append([]Operation(nil), ops...),
		outputs: make([]IOType, len(ops)),
	}

	// exports tracks the item type held by each export set so far. A set
	// that is only initialised holds TypeAny.
	exports := make(map[string]IOType)
	prev, prevKind := TypeVoid, Kind("")

	for i, op := range ops {
		if op == nil {
			return nil, coreerr.InvalidOperation(i, "", errors.New("operation is nil"))
		}
		kind := string(op.Kind())
		if err := op.Validate(); err != nil {
			return nil, coreerr.InvalidOperation(i, kind, err)
		}

		sig := op.Signature()
		if !sig.Explicit && !prev.AssignableTo(sig.Input) {
			return nil, coreerr.IncompatibleChain(i, kind, incompatible(i, prevKind, prev, op.Kind(), sig.Input))
		}

		out := sig.Output
		switch o := op.(type) {
		case *InitialiseExport:
			exports[o.ExportName()] = TypeAny
		case *UpdateExport:
			name := o.ExportName()
			if prev == TypeVoid {
				return nil, coreerr.IncompatibleChain(i, kind, fmt.Sprintf("export %q cannot be updated with void", name))
			}
			if held, ok := exports[name]; ok && held != TypeAny && prev != TypeAny && held != prev {
				return nil, coreerr.IncompatibleChain(i, kind, fmt.Sprintf("export %q holds %s, cannot add %s", name, held, prev))
			}
			if held := exports[name]; held == "" || held == TypeAny {
				exports[name] = prev
			}
		case *FetchExport:
			held, ok := exports[o.ExportName()]
			if !ok {
				return nil, coreerr.IncompatibleChain(i, kind, fmt.Sprintf("export %q is fetched before it is initialised or updated", o.ExportName()))
			}
			out = held
		}
		if out == TypeInput {
			out = prev
		}

		c.outputs[i] = out
		prev, prevKind = out, op.Kind()
	}
	return c, nil
}

func incompatible(step int, prevKind Kind, prev IOType, kind Kind, in IOType) string {
	if step == 0 {
		return fmt.Sprintf("%s requires %s input but the chain starts with none", kind, in)
	}
	return fmt.Sprintf("%s output %s is not assignable to %s input %s", prevKind, prev, kind, in)
}

// Operations returns the chain's operations in order.
func (c *Chain) Operations() []Operation {
	return append([]Operation(nil), c.ops...)
}

// Len returns the number of operations.
func (c *Chain) Len() int { return len(c.ops) }

// StepOutput returns the resolved output type of step i.
func (c *Chain) StepOutput(i int) IOType { return c.outputs[i] }

// OutputType returns the resolved type of the chain's result.
func (c *Chain) OutputType() IOType { return c.outputs[len(c.outputs)-1] }
