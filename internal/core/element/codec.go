package element

import (
	"encoding/json"
	"fmt"
)

// typedValue is the persisted form of a single property. The type tag keeps
// int64 and decimal values from collapsing into float64 on the way back.
type typedValue struct {
	Type  PropertyType    `json:"t"`
	Value json.RawMessage `json:"v"`
}

// EncodeProperties marshals props into a typed JSON object suitable for a
// jsonb column or a key-value store.
func EncodeProperties(props Properties) ([]byte, error) {
	out := make(map[string]typedValue, len(props))
	for name, v := range props {
		t, ok := TypeOf(v)
		if !ok {
			return nil, fmt.Errorf("encode property %q: unsupported value type %T", name, v)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode property %q: %w", name, err)
		}
		out[name] = typedValue{Type: t, Value: raw}
	}
	return json.Marshal(out)
}

// DecodeProperties reverses EncodeProperties.
func DecodeProperties(data []byte) (Properties, error) {
	if len(data) == 0 {
		return Properties{}, nil
	}
	var in map[string]typedValue
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	props := make(Properties, len(in))
	for name, tv := range in {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("decode property %q: %w", name, err)
		}
		props[name] = v
	}
	return props, nil
}

func decodeValue(tv typedValue) (interface{}, error) {
	switch tv.Type {
	case TypeString:
		var s string
		err := json.Unmarshal(tv.Value, &s)
		return s, err
	case TypeBool:
		var b bool
		err := json.Unmarshal(tv.Value, &b)
		return b, err
	case TypeLong:
		var n int64
		err := json.Unmarshal(tv.Value, &n)
		return n, err
	case TypeDouble:
		var f float64
		err := json.Unmarshal(tv.Value, &f)
		return f, err
	case TypeDecimal:
		// decimal.Decimal marshals as a quoted string.
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return nil, err
		}
		return TypeDecimal.Coerce(s)
	case TypeStringSet:
		var set []string
		err := json.Unmarshal(tv.Value, &set)
		return set, err
	default:
		return nil, fmt.Errorf("unknown type tag %q", tv.Type)
	}
}
