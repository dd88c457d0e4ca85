package rsolver

import "errors"

// Typed sentinels for the two error categories the solver's callers
// need to distinguish. chk.Err messages carry the human-readable
// detail; these let callers errors.Is against a stable category.
var (
	ErrShapeMismatch = errors.New("rsolver: shape mismatch between a prob_node and the position node")
	ErrConfigMissing = errors.New("rsolver: required configuration attribute missing")
)
