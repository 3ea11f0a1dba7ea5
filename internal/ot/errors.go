package ot

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation indicates an operation that cannot be applied to
	// the text it was submitted against.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrOutOfRange indicates a position or range beyond the end of the text.
	ErrOutOfRange = fmt.Errorf("%w: out of range", ErrInvalidOperation)
	// ErrTextMismatch indicates a replace whose old_text does not occur in
	// the text.
	ErrTextMismatch = fmt.Errorf("%w: old_text not found", ErrInvalidOperation)
)
