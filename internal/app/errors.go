package service

import "errors"

// ErrNoExtractor is returned when a run request names no extractor.
var ErrNoExtractor = errors.New("no record extractor for the request")
