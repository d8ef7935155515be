package ops

import "errors"

// Sentinel kinds for ops errors.
var (
	ErrServe = errors.New("ops serve failed")
)
