package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
)

// Common errors
var (
	// ErrNotFound is returned when a schema is not found in the repository.
	ErrNotFound      = errors.New("schema not found")
	ErrAlreadyExists = errors.New("schema already exists")
	ErrReadOnly      = errors.New("schema repository is read-only")
)

// ValidationError represents a schema validation failure, either while
// compiling a schema document or while checking an element against it.
type ValidationError struct {
	Schema       string       `json:"schema"`
	Group        string       `json:"group,omitempty"`
	Format       string       `json:"format,omitempty"` // Schema format for debugging
	Message      string       `json:"message"`
	Field        string       `json:"field,omitempty"`
	ExpectedType string       `json:"expected_type,omitempty"`
	ActualType   string       `json:"actual_type,omitempty"`
	ElementKind  element.Kind `json:"kind,omitempty"`

	// Kind is the taxonomy sentinel this error matches with errors.Is.
	// Nil for document-level failures.
	Kind error `json:"-"`
}

func (e *ValidationError) Error() string {
	var where string
	switch {
	case e.Group != "" && e.Field != "":
		where = fmt.Sprintf("%s.%s: ", e.Group, e.Field)
	case e.Group != "":
		where = e.Group + ": "
	case e.Field != "":
		where = fmt.Sprintf("field '%s': ", e.Field)
	}
	return fmt.Sprintf("%s%s (schema %s)", where, e.Message, e.Schema)
}

// Is reports whether target is the taxonomy sentinel of e.
func (e *ValidationError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// MultiValidationError aggregates multiple validation errors.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes the child errors to errors.Is and errors.As.
func (e *MultiValidationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, ve := range e.Errors {
		errs[i] = ve
	}
	return errs
}

// ValidationDetailer surfaces structured validation details without
// type-asserting against concrete structs.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

// Details returns the structured fields from this single validation error.
func (e *ValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	if e.Group != "" {
		d["group"] = e.Group
	}
	if e.Field != "" {
		d["field"] = e.Field
	}
	if e.ExpectedType != "" {
		d["expected_type"] = e.ExpectedType
		d["actual_type"] = e.ActualType
	}
	return d
}

// Details aggregates the failed field names from all child errors.
func (e *MultiValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	var fields []string
	for _, ve := range e.Errors {
		if ve.Field != "" {
			fields = append(fields, ve.Field)
		}
	}
	if len(fields) > 0 {
		d["fields"] = fields
	}
	return d
}

// NewUnknownGroupError creates an error for an element whose group is not declared.
func NewUnknownGroupError(schema string, kind element.Kind, group string) *ValidationError {
	return &ValidationError{
		Schema:      schema,
		Group:       group,
		ElementKind: kind,
		Message:     fmt.Sprintf("%s group is not declared", kind),
		Kind:        coreerr.ErrUnknownGroup,
	}
}

// NewTypeMismatchError creates an error for type mismatches.
func NewTypeMismatchError(schema, group, field, expected, actual string) *ValidationError {
	return &ValidationError{
		Schema:       schema,
		Group:        group,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		Field:        field,
		ExpectedType: expected,
		ActualType:   actual,
		Kind:         coreerr.ErrTypeMismatch,
	}
}

// NewUndeclaredPropertyError creates an error for a property the group does not declare.
func NewUndeclaredPropertyError(schema, group, field string) *ValidationError {
	return &ValidationError{
		Schema:  schema,
		Group:   group,
		Field:   field,
		Message: "property is not declared",
		Kind:    coreerr.ErrTypeMismatch,
	}
}

// NewUnsupportedOperatorError creates an error for an operator bound to a type it cannot fold.
func NewUnsupportedOperatorError(schema, group, field, operator string, t element.PropertyType) *ValidationError {
	return &ValidationError{
		Schema:       schema,
		Group:        group,
		Field:        field,
		Message:      fmt.Sprintf("operator %q does not support type %s", operator, t),
		ExpectedType: string(t),
	}
}

// NewDuplicateGroupError creates an error for a group declared more than once.
func NewDuplicateGroupError(schema, group string) *ValidationError {
	return &ValidationError{
		Schema:  schema,
		Group:   group,
		Message: "group declared more than once",
	}
}
