package aggregation

// Supported aggregation operators. Every operator except first is associative
// and commutative over its supported types.
const (
	OpSum   = "sum"
	OpMin   = "min"
	OpMax   = "max"
	OpAnd   = "and"
	OpOr    = "or"
	OpUnion = "union"
	// OpFirst keeps the value already held and ignores the incoming one.
	// It is only order-independent when all inputs agree.
	OpFirst = "first"
)

// DefaultOperator is bound to every property a schema does not bind explicitly,
// unless the schema names its own default.
const DefaultOperator = OpFirst
