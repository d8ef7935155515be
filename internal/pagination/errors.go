package pagination

import "errors"

// ErrDecode is returned when a page body or one of its entities fails validation.
var ErrDecode = errors.New("invalid data")
