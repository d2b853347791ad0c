package normalize

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaMismatch = errors.New("normalize: required column missing")
	ErrUnitMismatch   = errors.New("normalize: declared unit not convertible")
	ErrEmptyPayload   = errors.New("normalize: no rows parsed")
	ErrInvalidFormat  = errors.New("normalize: unsupported payload format")
)

// RowError records one unparseable row. Collected, never fatal: a bad row
// degrades coverage without aborting the source.
type RowError struct {
	Row    int
	Column string
	Reason string
}

// Error implements error.
func (e RowError) Error() string {
	return fmt.Sprintf("normalize: row %d column %q: %s", e.Row, e.Column, e.Reason)
}
