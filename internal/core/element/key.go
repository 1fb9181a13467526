package element

import "strconv"

// Key is the aggregation key of an element: its identity without properties.
// Two elements with equal keys must be merged, never duplicated.
type Key struct {
	Kind        Kind
	Group       string
	Vertex      string
	Source      string
	Destination string
	Directed    bool
}

// Components are escaped and terminated so encodings are injective: escByte
// becomes escByte escNext, and every component ends with keySep. keySep sorts
// below every escaped byte except NUL, which postgres text columns reject
// anyway, so the encoded form preserves component-wise ordering.
const (
	escByte = '\x01'
	escNext = '\x02'
	keySep  = "\x01\x01"
)

// AppendComponent appends the escaped, terminated encoding of s to b.
func AppendComponent(b []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == escByte {
			b = append(b, escByte, escNext)
			continue
		}
		b = append(b, s[i])
	}
	return append(b, keySep...)
}

// EncodeComponents returns the concatenated component encodings of parts.
func EncodeComponents(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + len(keySep)
	}
	b := make([]byte, 0, n)
	for _, p := range parts {
		b = AppendComponent(b, p)
	}
	return string(b)
}

// String returns the canonical encoding of the key. Distinct keys have
// distinct encodings, and encodings compare in the same order as Less, which
// lets backends sort by a single column.
func (k Key) String() string {
	kind := strconv.Itoa(int(k.Kind))
	if k.Kind == KindEntity {
		return EncodeComponents(kind, k.Group, k.Vertex)
	}
	directed := "0"
	if k.Directed {
		directed = "1"
	}
	return EncodeComponents(kind, k.Group, k.Source, k.Destination, directed)
}

// Less orders keys by kind, group, then identifiers.
func (k Key) Less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if k.Group != o.Group {
		return k.Group < o.Group
	}
	if k.Kind == KindEntity {
		return k.Vertex < o.Vertex
	}
	if k.Source != o.Source {
		return k.Source < o.Source
	}
	if k.Destination != o.Destination {
		return k.Destination < o.Destination
	}
	return !k.Directed && o.Directed
}
