package element

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
)

// PropertyType is the semantic type of a declared property.
type PropertyType string

// Supported property types.
const (
	TypeString    PropertyType = "string"
	TypeBool      PropertyType = "bool"
	TypeLong      PropertyType = "long"
	TypeDouble    PropertyType = "double"
	TypeDecimal   PropertyType = "decimal"
	TypeStringSet PropertyType = "string_set"
)

var typeAliases = map[string]PropertyType{
	"string":     TypeString,
	"bool":       TypeBool,
	"boolean":    TypeBool,
	"long":       TypeLong,
	"int":        TypeLong,
	"integer":    TypeLong,
	"int64":      TypeLong,
	"double":     TypeDouble,
	"float":      TypeDouble,
	"float64":    TypeDouble,
	"decimal":    TypeDecimal,
	"string_set": TypeStringSet,
	"set":        TypeStringSet,
}

// ParsePropertyType resolves a type name, accepting a few common aliases.
func ParsePropertyType(name string) (PropertyType, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown property type %q", name)
	}
	return t, nil
}

// Numeric reports whether values of t can be compared and summed as numbers.
func (t PropertyType) Numeric() bool {
	return t == TypeLong || t == TypeDouble || t == TypeDecimal
}

// TypeOf reports the property type of an already-coerced value.
func TypeOf(v interface{}) (PropertyType, bool) {
	switch v.(type) {
	case string:
		return TypeString, true
	case bool:
		return TypeBool, true
	case int64:
		return TypeLong, true
	case float64:
		return TypeDouble, true
	case decimal.Decimal:
		return TypeDecimal, true
	case []string:
		return TypeStringSet, true
	}
	return "", false
}

// Coerce normalises v into the Go representation of t. Values decoded from
// YAML or JSON (int, float64, []interface{}) are accepted where lossless.
func (t PropertyType) Coerce(v interface{}) (interface{}, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeLong:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case TypeDouble:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeDecimal:
		if d, ok := ToDecimal(v); ok {
			return d, nil
		}
	case TypeStringSet:
		if set, ok := toStringSet(v); ok {
			return set, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown property type %q", coreerr.ErrTypeMismatch, t)
	}
	return nil, fmt.Errorf("%w: %v (%T) is not a valid %s", coreerr.ErrTypeMismatch, v, v, t)
}

// ToDecimal converts any numeric value (or numeric string) to a decimal.
func ToDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case string:
		d, err := decimal.NewFromString(val)
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), true
		}
	case decimal.Decimal:
		if val.IsInteger() {
			return val.IntPart(), true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case decimal.Decimal:
		return val.InexactFloat64(), true
	}
	return 0, false
}

func toStringSet(v interface{}) ([]string, bool) {
	var raw []string
	switch val := v.(type) {
	case []string:
		raw = val
	case []interface{}:
		raw = make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			raw = append(raw, s)
		}
	case string:
		raw = []string{val}
	default:
		return nil, false
	}
	return NormaliseSet(raw), true
}

// NormaliseSet returns a sorted copy of set with duplicates removed.
func NormaliseSet(set []string) []string {
	out := append([]string(nil), set...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i == 0 || s != out[n-1] {
			out[n] = s
			n++
		}
	}
	return out[:n]
}

// Parse converts the text form of a value into t. String sets are
// comma-separated.
func (t PropertyType) Parse(s string) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch t {
	case TypeString:
		return s, nil
	case TypeBool:
		v, err = strconv.ParseBool(strings.TrimSpace(s))
	case TypeLong:
		v, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case TypeDouble:
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	case TypeDecimal:
		v, err = decimal.NewFromString(strings.TrimSpace(s))
	case TypeStringSet:
		if s == "" {
			return []string{}, nil
		}
		return NormaliseSet(strings.Split(s, ",")), nil
	default:
		return nil, fmt.Errorf("%w: unknown property type %q", coreerr.ErrTypeMismatch, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid %s", coreerr.ErrTypeMismatch, s, t)
	}
	return v, nil
}
