package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrTerminal marks a task that observed an already settled entity.
	// It is a no-op signal, not a failure.
	ErrTerminal = errors.New("entity already in terminal state")

	// ErrNotReserved: a successful charge cannot settle an order whose
	// stock has not been reserved yet.
	ErrNotReserved = errors.New("order has no reserved stock")
)

type TerminalError struct {
	Entity string
	ID     string
	Status string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s %s already %s", e.Entity, e.ID, e.Status)
}

func (e *TerminalError) Unwrap() error { return ErrTerminal }

// ValidationError reports a rejected input unit (row, amount, timestamp).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
