package aggregation

import core "github.com/aevon-lab/project-lattice/internal/core/aggregation"

// Re-export the core operator registry so engine callers need one import.
type Aggregator = core.Aggregator

var (
	Operators     = core.Operators
	ValidOperator = core.ValidOperator
	Lookup        = core.Lookup
)

const (
	OpSum           = core.OpSum
	OpMin           = core.OpMin
	OpMax           = core.OpMax
	OpAnd           = core.OpAnd
	OpOr            = core.OpOr
	OpUnion         = core.OpUnion
	OpFirst         = core.OpFirst
	DefaultOperator = core.DefaultOperator
)
