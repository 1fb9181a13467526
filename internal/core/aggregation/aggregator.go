package aggregation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
)

// Aggregator defines the reduce semantics of an aggregation operator.
// To add a new operator: implement this interface and register it in Operators.
type Aggregator interface {
	// Supports reports whether the operator is defined over t.
	Supports(t element.PropertyType) bool

	// Apply folds an incoming value into an existing aggregate. Both values
	// are already coerced to the property's declared type.
	Apply(current, incoming interface{}) (interface{}, error)
}

// Operators is the registry of all supported aggregation operators.
var Operators = map[string]Aggregator{
	OpSum:   sumAgg{},
	OpMin:   minAgg{},
	OpMax:   maxAgg{},
	OpAnd:   andAgg{},
	OpOr:    orAgg{},
	OpUnion: unionAgg{},
	OpFirst: firstAgg{},
}

// ValidOperator reports whether op is a registered aggregation operator.
func ValidOperator(op string) bool {
	_, ok := Operators[op]
	return ok
}

// Lookup returns the operator registered under op.
func Lookup(op string) (Aggregator, error) {
	agg, ok := Operators[op]
	if !ok {
		return nil, fmt.Errorf("unknown aggregation operator %q", op)
	}
	return agg, nil
}

// OperatorNames returns the registered operator names, sorted.
func OperatorNames() []string {
	names := make([]string, 0, len(Operators))
	for name := range Operators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mismatch(op string, current, incoming interface{}) error {
	return fmt.Errorf("%w: %s cannot combine %T and %T", coreerr.ErrTypeMismatch, op, current, incoming)
}

// sumAgg accumulates the sum of incoming values.
type sumAgg struct{}

func (sumAgg) Supports(t element.PropertyType) bool { return t.Numeric() }

func (sumAgg) Apply(cur, inc interface{}) (interface{}, error) {
	switch c := cur.(type) {
	case int64:
		if i, ok := inc.(int64); ok {
			sum := c + i
			// Signed overflow flips the sign away from both operands.
			if (sum > c) != (i > 0) {
				return nil, fmt.Errorf("%w: %s of %d and %d overflows long", coreerr.ErrTypeMismatch, OpSum, c, i)
			}
			return sum, nil
		}
	case float64:
		if i, ok := inc.(float64); ok {
			return c + i, nil
		}
	case decimal.Decimal:
		if i, ok := inc.(decimal.Decimal); ok {
			return c.Add(i), nil
		}
	}
	return nil, mismatch(OpSum, cur, inc)
}

// minAgg tracks the minimum value seen.
type minAgg struct{}

func (minAgg) Supports(t element.PropertyType) bool { return t.Numeric() || t == element.TypeString }

func (minAgg) Apply(cur, inc interface{}) (interface{}, error) {
	c, err := compare(OpMin, cur, inc)
	if err != nil {
		return nil, err
	}
	if c > 0 {
		return inc, nil
	}
	return cur, nil
}

// maxAgg tracks the maximum value seen.
type maxAgg struct{}

func (maxAgg) Supports(t element.PropertyType) bool { return t.Numeric() || t == element.TypeString }

func (maxAgg) Apply(cur, inc interface{}) (interface{}, error) {
	c, err := compare(OpMax, cur, inc)
	if err != nil {
		return nil, err
	}
	if c < 0 {
		return inc, nil
	}
	return cur, nil
}

// andAgg is logical conjunction.
type andAgg struct{}

func (andAgg) Supports(t element.PropertyType) bool { return t == element.TypeBool }

func (andAgg) Apply(cur, inc interface{}) (interface{}, error) {
	c, ok1 := cur.(bool)
	i, ok2 := inc.(bool)
	if !ok1 || !ok2 {
		return nil, mismatch(OpAnd, cur, inc)
	}
	return c && i, nil
}

// orAgg is logical disjunction.
type orAgg struct{}

func (orAgg) Supports(t element.PropertyType) bool { return t == element.TypeBool }

func (orAgg) Apply(cur, inc interface{}) (interface{}, error) {
	c, ok1 := cur.(bool)
	i, ok2 := inc.(bool)
	if !ok1 || !ok2 {
		return nil, mismatch(OpOr, cur, inc)
	}
	return c || i, nil
}

// unionAgg merges string sets. The result is sorted and deduplicated.
type unionAgg struct{}

func (unionAgg) Supports(t element.PropertyType) bool { return t == element.TypeStringSet }

func (unionAgg) Apply(cur, inc interface{}) (interface{}, error) {
	c, ok1 := cur.([]string)
	i, ok2 := inc.([]string)
	if !ok1 || !ok2 {
		return nil, mismatch(OpUnion, cur, inc)
	}
	merged := make([]string, 0, len(c)+len(i))
	merged = append(merged, c...)
	merged = append(merged, i...)
	return element.NormaliseSet(merged), nil
}

// firstAgg keeps the current value.
type firstAgg struct{}

func (firstAgg) Supports(element.PropertyType) bool { return true }

func (firstAgg) Apply(cur, _ interface{}) (interface{}, error) { return cur, nil }

// compare orders two values of the same type: -1, 0 or +1.
func compare(op string, a, b interface{}) (int, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y), nil
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return x.Cmp(y), nil
		}
	}
	return 0, mismatch(op, a, b)
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
