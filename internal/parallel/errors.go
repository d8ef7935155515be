package parallel

import "errors"

// ErrJobPanicked wraps the value recovered from a panicking job.
var ErrJobPanicked = errors.New("job panicked")
