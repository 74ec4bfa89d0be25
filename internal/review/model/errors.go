package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no review session exists for the given id.
var ErrNotFound = errors.New("review session not found")

// ErrValidation is returned when the caller supplies invalid input.
// Detect with errors.As.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// Validationf builds an ErrValidation from a format string.
func Validationf(format string, a ...any) error {
	return &ErrValidation{Msg: fmt.Sprintf(format, a...)}
}

// ErrInvalidTransition is returned when an operation would move a session
// along an edge the workflow does not define.
type ErrInvalidTransition struct {
	From Phase
	To   Phase
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %q to %q", e.From, e.To)
}
