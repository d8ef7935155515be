package backoff

import "errors"

// Sentinel kinds for backoff errors.
var (
	ErrRejected = errors.New("result did not pass acceptance check")
)
