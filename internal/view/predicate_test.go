package view

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPredicate(t *testing.T, spec *PredicateSpec) Predicate {
	t.Helper()
	p, err := BuildPredicate(spec)
	require.NoError(t, err)
	return p
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name    string
		spec    *PredicateSpec
		value   interface{}
		want    bool
		wantErr bool
	}{
		{"more than long", &PredicateSpec{Type: "is_more_than", Value: 4}, int64(5), true, false},
		{"more than equal excluded", &PredicateSpec{Type: "is_more_than", Value: 4}, int64(4), false, false},
		{"more than or equal", &PredicateSpec{Type: "is_more_than", Value: 4, OrEqualTo: true}, int64(4), true, false},
		{"more than decimal vs float", &PredicateSpec{Type: "is_more_than", Value: 1.25}, decimal.RequireFromString("1.3"), true, false},
		{"more than string", &PredicateSpec{Type: "is_more_than", Value: "b"}, "c", true, false},
		{"more than incomparable", &PredicateSpec{Type: "is_more_than", Value: 4}, true, false, false},
		{"less than double", &PredicateSpec{Type: "is_less_than", Value: 10}, 9.5, true, false},
		{"less than or equal", &PredicateSpec{Type: "is_less_than", Value: "10", OrEqualTo: true}, int64(10), true, false},
		{"equal across numeric types", &PredicateSpec{Type: "is_equal", Value: 3}, decimal.NewFromInt(3), true, false},
		{"equal string", &PredicateSpec{Type: "is_equal", Value: "x"}, "x", true, false},
		{"equal bool", &PredicateSpec{Type: "is_equal", Value: true}, false, false, false},
		{"equal set ignores order", &PredicateSpec{Type: "is_equal", Value: []interface{}{"b", "a"}}, []string{"a", "b"}, true, false},
		{"in", &PredicateSpec{Type: "is_in", Values: []interface{}{"1", "2"}}, "2", true, false},
		{"not in", &PredicateSpec{Type: "is_in", Values: []interface{}{"1", "2"}}, "3", false, false},
		{"regex", &PredicateSpec{Type: "regex", Pattern: "^ab+$"}, "abbb", true, false},
		{"regex set member", &PredicateSpec{Type: "regex", Pattern: "^x"}, []string{"a", "xy"}, true, false},
		{"not", &PredicateSpec{Type: "not", Predicate: &PredicateSpec{Type: "is_equal", Value: "x"}}, "y", true, false},
		{"and", &PredicateSpec{Type: "and", Predicates: []*PredicateSpec{
			{Type: "is_more_than", Value: 1}, {Type: "is_less_than", Value: 5},
		}}, int64(3), true, false},
		{"or", &PredicateSpec{Type: "or", Predicates: []*PredicateSpec{
			{Type: "is_equal", Value: 1}, {Type: "is_equal", Value: 5},
		}}, int64(3), false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mustPredicate(t, tc.spec).Test(tc.value, true)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPredicates_Absent(t *testing.T) {
	exists := mustPredicate(t, &PredicateSpec{Type: "exists"})
	ok, err := exists.Test(nil, false)
	require.NoError(t, err)
	assert.False(t, ok)

	notExists := mustPredicate(t, &PredicateSpec{Type: "not", Predicate: &PredicateSpec{Type: "exists"}})
	ok, err = notExists.Test(nil, false)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, typ := range []string{"is_more_than", "is_less_than", "is_equal"} {
		p := mustPredicate(t, &PredicateSpec{Type: typ, Value: 1})
		_, err := p.Test(nil, false)
		assert.ErrorIs(t, err, errAbsent, typ)
	}

	or := mustPredicate(t, &PredicateSpec{Type: "or", Predicates: []*PredicateSpec{{Type: "exists"}, {Type: "is_equal", Value: 1}}})
	_, err = or.Test(nil, false)
	assert.ErrorIs(t, err, errAbsent)
}

func TestBuildPredicate_Errors(t *testing.T) {
	tests := []struct {
		spec   *PredicateSpec
		errMsg string
	}{
		{nil, "predicate is required"},
		{&PredicateSpec{Type: "is_between"}, `unknown predicate "is_between"`},
		{&PredicateSpec{Type: "is_more_than"}, "value is required"},
		{&PredicateSpec{Type: "is_in"}, "values is required"},
		{&PredicateSpec{Type: "regex", Pattern: "("}, "invalid pattern"},
		{&PredicateSpec{Type: "not"}, "not: predicate is required"},
		{&PredicateSpec{Type: "and"}, "and: predicates is required"},
		{&PredicateSpec{Type: "or", Predicates: []*PredicateSpec{{Type: "nope"}}}, "or[0]: unknown predicate"},
	}
	for _, tc := range tests {
		_, err := BuildPredicate(tc.spec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), tc.errMsg)
	}
}

func TestRegisterPredicate(t *testing.T) {
	RegisterPredicate("test_always", func(*PredicateSpec) (Predicate, error) { return Exists{}, nil })
	assert.Contains(t, PredicateNames(), "test_always")
	assert.Panics(t, func() {
		RegisterPredicate("test_always", func(*PredicateSpec) (Predicate, error) { return Exists{}, nil })
	})
}

func TestFunctions(t *testing.T) {
	two := int32(2)
	tests := []struct {
		name   string
		spec   *FunctionSpec
		inputs []interface{}
		want   interface{}
		errMsg string
	}{
		{"mean", &FunctionSpec{Type: "mean"}, []interface{}{int64(9), int64(3)}, decimal.NewFromInt(3), ""},
		{"mean scaled", &FunctionSpec{Type: "mean", Scale: &two}, []interface{}{int64(10), int64(3)}, decimal.RequireFromString("3.33"), ""},
		{"mean by zero", &FunctionSpec{Type: "mean"}, []interface{}{int64(1), int64(0)}, nil, "division by zero"},
		{"mean non numeric", &FunctionSpec{Type: "mean"}, []interface{}{"a", int64(1)}, nil, "not numeric"},
		{"concat", &FunctionSpec{Type: "concat", Separator: "|"}, []interface{}{"a", int64(2), []string{"x", "y"}}, "a|2|x,y", ""},
		{"copy", &FunctionSpec{Type: "copy"}, []interface{}{true}, true, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fn, err := BuildFunction(tc.spec)
			require.NoError(t, err)
			got, err := fn.Apply(tc.inputs)
			if tc.errMsg != "" {
				require.ErrorContains(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			if d, ok := tc.want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(got.(decimal.Decimal)), "got %v", got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := BuildFunction(&FunctionSpec{Type: "median"})
	require.ErrorContains(t, err, `unknown function "median"`)
	assert.Equal(t, []string{"concat", "copy", "mean"}, FunctionNames())
}
