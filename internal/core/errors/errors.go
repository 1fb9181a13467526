package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Structured errors below implement
// Is so that errors.Is(err, ErrX) works through any level of wrapping.
var (
	ErrIncompatibleChain = errors.New("incompatible chain")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrUnknownGroup      = errors.New("unknown group")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrMissingProperty   = errors.New("missing property")
	ErrOperationFailed   = errors.New("operation failed")
	ErrStore             = errors.New("store error")
)

// Phase tells callers whether a chain failed because the query was malformed
// or because data or a backend misbehaved while running it.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRuntime Phase = "runtime"
)

// ChainError is the structured error returned by chain execution.
type ChainError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Step is the zero-based index of the failing operation, or -1 when the
	// failure is not tied to one step.
	Step      int
	Operation string
	Message   string
	Err       error
}

// IncompatibleChain builds the error for a static type mismatch at step.
func IncompatibleChain(step int, operation, message string) *ChainError {
	return &ChainError{Kind: ErrIncompatibleChain, Step: step, Operation: operation, Message: message}
}

// InvalidOperation builds the error for a malformed operation at step.
func InvalidOperation(step int, operation string, err error) *ChainError {
	return &ChainError{Kind: ErrInvalidOperation, Step: step, Operation: operation, Err: err}
}

// OperationFailed wraps a handler failure at step.
func OperationFailed(step int, operation string, cause error) *ChainError {
	return &ChainError{Kind: ErrOperationFailed, Step: step, Operation: operation, Err: cause}
}

func (e *ChainError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Step < 0 {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s at step %d (%s): %s", e.Kind, e.Step, e.Operation, msg)
}

func (e *ChainError) Unwrap() error { return e.Err }

func (e *ChainError) Is(target error) bool { return target == e.Kind }

// Phase classifies the failure. Static chain errors are compile-time, anything
// raised while handlers run is runtime.
func (e *ChainError) Phase() Phase {
	if e.Kind == ErrIncompatibleChain || e.Kind == ErrInvalidOperation {
		return PhaseCompile
	}
	return PhaseRuntime
}

// StoreError is a backend failure. It is surfaced verbatim as the cause of an
// OperationFailed chain error.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

// NewStoreError wraps err as a failure of op on backend. A nil err returns nil.
func NewStoreError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Backend: backend, Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
