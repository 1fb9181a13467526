package view

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/project-lattice/internal/core/element"
)

// Function is a pure transform over the values of its input properties.
type Function interface {
	Apply(inputs []interface{}) (interface{}, error)
	// Arity returns the accepted number of inputs. hi < 0 means unbounded.
	Arity() (lo, hi int)
}

// FunctionSpec is the document form of a transform function.
type FunctionSpec struct {
	Type      string `yaml:"type" json:"type"`
	Separator string `yaml:"separator,omitempty" json:"separator,omitempty"`
	Scale     *int32 `yaml:"scale,omitempty" json:"scale,omitempty"`
}

// FunctionFactory builds a function from its document form.
type FunctionFactory func(spec *FunctionSpec) (Function, error)

var (
	functionsMu sync.RWMutex
	functions   = map[string]FunctionFactory{
		"mean":   newMean,
		"concat": newConcat,
		"copy":   func(*FunctionSpec) (Function, error) { return Copy{}, nil },
	}
)

// RegisterFunction adds a named transform function. It panics on a duplicate name.
func RegisterFunction(name string, factory FunctionFactory) {
	functionsMu.Lock()
	defer functionsMu.Unlock()

	if _, dup := functions[name]; dup {
		panic(fmt.Sprintf("view: function %q already registered", name))
	}
	functions[name] = factory
}

// FunctionNames returns the registered function names, sorted.
func FunctionNames() []string {
	functionsMu.RLock()
	defer functionsMu.RUnlock()

	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildFunction resolves spec through the function registry.
func BuildFunction(spec *FunctionSpec) (Function, error) {
	if spec == nil {
		return nil, errors.New("function is required")
	}
	functionsMu.RLock()
	factory, ok := functions[spec.Type]
	functionsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown function %q (must be one of %v)", spec.Type, FunctionNames())
	}
	return factory(spec)
}

// Mean divides inputs[0] by inputs[1], typically a summed total by a count.
type Mean struct {
	// Scale rounds the quotient. Division keeps decimal.DivisionPrecision
	// digits when nil.
	Scale *int32
}

func newMean(spec *FunctionSpec) (Function, error) {
	return Mean{Scale: spec.Scale}, nil
}

func (Mean) Arity() (int, int) { return 2, 2 }

func (m Mean) Apply(inputs []interface{}) (interface{}, error) {
	total, ok := element.ToDecimal(inputs[0])
	if !ok {
		return nil, fmt.Errorf("mean: %v (%T) is not numeric", inputs[0], inputs[0])
	}
	count, ok := element.ToDecimal(inputs[1])
	if !ok {
		return nil, fmt.Errorf("mean: %v (%T) is not numeric", inputs[1], inputs[1])
	}
	if count.IsZero() {
		return nil, errors.New("mean: division by zero")
	}
	q := total.Div(count)
	if m.Scale != nil {
		q = q.Round(*m.Scale)
	}
	return q, nil
}

// Concat joins the string forms of its inputs.
type Concat struct {
	Separator string
}

func newConcat(spec *FunctionSpec) (Function, error) {
	return Concat{Separator: spec.Separator}, nil
}

func (Concat) Arity() (int, int) { return 1, -1 }

func (c Concat) Apply(inputs []interface{}) (interface{}, error) {
	parts := make([]string, len(inputs))
	for i, v := range inputs {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, c.Separator), nil
}

// Copy returns its single input unchanged.
type Copy struct{}

func (Copy) Arity() (int, int) { return 1, 1 }

func (Copy) Apply(inputs []interface{}) (interface{}, error) {
	if set, ok := inputs[0].([]string); ok {
		return append([]string(nil), set...), nil
	}
	return inputs[0], nil
}

// FormatValue returns the text form of a property value. String sets are
// comma-joined.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case decimal.Decimal:
		return val.String()
	case []string:
		return strings.Join(val, ",")
	}
	return fmt.Sprint(v)
}
