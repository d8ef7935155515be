package extract

import "errors"

var (
	// ErrUnknownFormat is returned by Lookup for an unsupported export format.
	ErrUnknownFormat = errors.New("unknown export format")
	// ErrMissingColumn is returned when a CSV header lacks a required column.
	ErrMissingColumn = errors.New("missing column")
	// ErrMissingSheet is returned when a workbook lacks the requested worksheet.
	ErrMissingSheet = errors.New("missing worksheet")
	// ErrMalformedRow is returned for a row that cannot be turned into a record.
	ErrMalformedRow = errors.New("malformed row")
)
