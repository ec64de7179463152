// Package metrics provides prometheus metrics for the emitter
package metrics

// Result labels the outcome of a register or delete call
type Result string

const (
	// ResultCreated means a new registration was committed
	ResultCreated Result = "created"
	// ResultExists means the key was already registered
	ResultExists Result = "exists"
	// ResultAhead means the requested start was not behind the chain tip
	ResultAhead Result = "ahead"
	// ResultInvalid means the search key was rejected
	ResultInvalid Result = "invalid"
	// ResultError means the chain could not be queried
	ResultError Result = "error"
	// ResultDeleted means a registration was removed
	ResultDeleted Result = "deleted"
	// ResultMissing means there was nothing to remove
	ResultMissing Result = "missing"
)

const namespace = "emitter"
