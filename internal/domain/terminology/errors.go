package terminology

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a code or mapping is absent.
	ErrNotFound = errors.New("code not found")
	// ErrUnsupportedSystem is returned for systems the engine does not recognize.
	ErrUnsupportedSystem = errors.New("unsupported code system")
	// ErrEmptyQuery is returned when a search query is shorter than MinQueryLength.
	ErrEmptyQuery = errors.New("query must be at least 2 characters")
)

// ParseError describes a malformed bulk source row.
type ParseError struct {
	Row    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ErrInvalid is returned when an entry or mapping fails validation on upsert.
var ErrInvalid = errors.New("invalid terminology record")
