package view

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"github.com/aevon-lab/project-lattice/internal/core/element"
)

// errAbsent is returned by a predicate that needs a value it was not given.
var errAbsent = errors.New("value absent")

// Predicate tests a single selected value. present is false when the
// selection resolved to nothing on the element.
type Predicate interface {
	Test(v interface{}, present bool) (bool, error)
}

// PredicateSpec is the document form of a predicate. Which fields apply
// depends on Type.
type PredicateSpec struct {
	Type       string           `yaml:"type" json:"type"`
	Value      interface{}      `yaml:"value,omitempty" json:"value,omitempty"`
	Values     []interface{}    `yaml:"values,omitempty" json:"values,omitempty"`
	OrEqualTo  bool             `yaml:"or_equal_to,omitempty" json:"or_equal_to,omitempty"`
	Pattern    string           `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Predicate  *PredicateSpec   `yaml:"predicate,omitempty" json:"predicate,omitempty"`
	Predicates []*PredicateSpec `yaml:"predicates,omitempty" json:"predicates,omitempty"`
}

// PredicateFactory builds a predicate from its document form.
type PredicateFactory func(spec *PredicateSpec) (Predicate, error)

var (
	predicatesMu sync.RWMutex
	predicates   map[string]PredicateFactory
)

// Composite factories call BuildPredicate, so the table is filled in init.
func init() {
	predicates = map[string]PredicateFactory{
		"is_more_than": newIsMoreThan,
		"is_less_than": newIsLessThan,
		"is_equal":     newIsEqual,
		"is_in":        newIsIn,
		"exists":       func(*PredicateSpec) (Predicate, error) { return Exists{}, nil },
		"regex":        newRegex,
		"not":          newNot,
		"and":          newAnd,
		"or":           newOr,
	}
}

// RegisterPredicate adds a named predicate variant. It panics on a duplicate name.
func RegisterPredicate(name string, factory PredicateFactory) {
	predicatesMu.Lock()
	defer predicatesMu.Unlock()

	if _, dup := predicates[name]; dup {
		panic(fmt.Sprintf("view: predicate %q already registered", name))
	}
	predicates[name] = factory
}

// PredicateNames returns the registered predicate names, sorted.
func PredicateNames() []string {
	predicatesMu.RLock()
	defer predicatesMu.RUnlock()

	names := make([]string, 0, len(predicates))
	for name := range predicates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildPredicate resolves spec through the predicate registry.
func BuildPredicate(spec *PredicateSpec) (Predicate, error) {
	if spec == nil {
		return nil, errors.New("predicate is required")
	}
	predicatesMu.RLock()
	factory, ok := predicates[spec.Type]
	predicatesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q (must be one of %v)", spec.Type, PredicateNames())
	}
	return factory(spec)
}

// IsMoreThan accepts values greater than Value (or equal, with OrEqualTo).
type IsMoreThan struct {
	Value     interface{}
	OrEqualTo bool
}

func newIsMoreThan(spec *PredicateSpec) (Predicate, error) {
	if spec.Value == nil {
		return nil, errors.New("is_more_than: value is required")
	}
	return IsMoreThan{Value: spec.Value, OrEqualTo: spec.OrEqualTo}, nil
}

func (p IsMoreThan) Test(v interface{}, present bool) (bool, error) {
	if !present {
		return false, errAbsent
	}
	c, ok := compareValues(v, p.Value)
	if !ok {
		return false, nil
	}
	return c > 0 || (p.OrEqualTo && c == 0), nil
}

// IsLessThan accepts values smaller than Value (or equal, with OrEqualTo).
type IsLessThan struct {
	Value     interface{}
	OrEqualTo bool
}

func newIsLessThan(spec *PredicateSpec) (Predicate, error) {
	if spec.Value == nil {
		return nil, errors.New("is_less_than: value is required")
	}
	return IsLessThan{Value: spec.Value, OrEqualTo: spec.OrEqualTo}, nil
}

func (p IsLessThan) Test(v interface{}, present bool) (bool, error) {
	if !present {
		return false, errAbsent
	}
	c, ok := compareValues(v, p.Value)
	if !ok {
		return false, nil
	}
	return c < 0 || (p.OrEqualTo && c == 0), nil
}

// IsEqual accepts values equal to Value. Numbers compare by value
// regardless of representation.
type IsEqual struct {
	Value interface{}
}

func newIsEqual(spec *PredicateSpec) (Predicate, error) {
	return IsEqual{Value: spec.Value}, nil
}

func (p IsEqual) Test(v interface{}, present bool) (bool, error) {
	if !present {
		return false, errAbsent
	}
	return equalValues(v, p.Value), nil
}

// IsIn accepts values equal to any of Values.
type IsIn struct {
	Values []interface{}
}

func newIsIn(spec *PredicateSpec) (Predicate, error) {
	if len(spec.Values) == 0 {
		return nil, errors.New("is_in: values is required")
	}
	return IsIn{Values: spec.Values}, nil
}

func (p IsIn) Test(v interface{}, present bool) (bool, error) {
	if !present {
		return false, errAbsent
	}
	for _, want := range p.Values {
		if equalValues(v, want) {
			return true, nil
		}
	}
	return false, nil
}

// Exists accepts any present value.
type Exists struct{}

func (Exists) Test(_ interface{}, present bool) (bool, error) { return present, nil }

// Regex accepts strings matching the pattern. A string set matches when any
// member does.
type Regex struct {
	re *regexp.Regexp
}

func newRegex(spec *PredicateSpec) (Predicate, error) {
	if spec.Pattern == "" {
		return nil, errors.New("regex: pattern is required")
	}
	if len(spec.Pattern) > 1000 {
		return nil, errors.New("regex: pattern too long (max 1000 chars)")
	}
	re, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("regex: invalid pattern: %w", err)
	}
	return Regex{re: re}, nil
}

func (p Regex) Test(v interface{}, present bool) (bool, error) {
	if !present {
		return false, errAbsent
	}
	switch s := v.(type) {
	case string:
		return p.re.MatchString(s), nil
	case []string:
		for _, item := range s {
			if p.re.MatchString(item) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Not negates its inner predicate. A missing value is still an error.
type Not struct {
	Inner Predicate
}

func newNot(spec *PredicateSpec) (Predicate, error) {
	inner, err := BuildPredicate(spec.Predicate)
	if err != nil {
		return nil, fmt.Errorf("not: %w", err)
	}
	return Not{Inner: inner}, nil
}

func (p Not) Test(v interface{}, present bool) (bool, error) {
	ok, err := p.Inner.Test(v, present)
	return !ok, err
}

// And accepts when every inner predicate accepts.
type And struct {
	Predicates []Predicate
}

// Or accepts when any inner predicate accepts.
type Or struct {
	Predicates []Predicate
}

func buildAll(name string, specs []*PredicateSpec) ([]Predicate, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s: predicates is required", name)
	}
	out := make([]Predicate, len(specs))
	for i, s := range specs {
		p, err := BuildPredicate(s)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		out[i] = p
	}
	return out, nil
}

func newAnd(spec *PredicateSpec) (Predicate, error) {
	ps, err := buildAll("and", spec.Predicates)
	if err != nil {
		return nil, err
	}
	return And{Predicates: ps}, nil
}

func newOr(spec *PredicateSpec) (Predicate, error) {
	ps, err := buildAll("or", spec.Predicates)
	if err != nil {
		return nil, err
	}
	return Or{Predicates: ps}, nil
}

func (p And) Test(v interface{}, present bool) (bool, error) {
	for _, inner := range p.Predicates {
		ok, err := inner.Test(v, present)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p Or) Test(v interface{}, present bool) (bool, error) {
	for _, inner := range p.Predicates {
		ok, err := inner.Test(v, present)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// compareValues orders a and b. Numbers (and numeric strings against
// numbers) compare as decimals, strings lexically. ok is false when the
// values are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
	da, ok := element.ToDecimal(a)
	if !ok {
		return 0, false
	}
	db, ok := element.ToDecimal(b)
	if !ok {
		return 0, false
	}
	return da.Cmp(db), true
}

func equalValues(a, b interface{}) bool {
	if sa, ok := a.([]string); ok {
		sb, ok := toSet(b)
		return ok && reflect.DeepEqual(element.NormaliseSet(sa), sb)
	}
	if _, isStr := a.(string); !isStr {
		if _, isBool := a.(bool); !isBool {
			if c, ok := compareValues(a, b); ok {
				return c == 0
			}
		}
	}
	return reflect.DeepEqual(a, b)
}

func toSet(v interface{}) ([]string, bool) {
	set, err := element.TypeStringSet.Coerce(v)
	if err != nil {
		return nil, false
	}
	return set.([]string), true
}
