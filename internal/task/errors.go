package task

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no task matches a lookup.
var ErrNotFound = errors.New("task not found")

// ErrStoreFatal marks task store failures the agent cannot continue past,
// such as a corrupt or read-only database. Callers match it with errors.Is.
var ErrStoreFatal = errors.New("task store unusable")

// TransitionError reports an attempt to move a task to a status that is not
// the immediate successor of its current status.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid transition %s -> %s (task=%s)", e.From, e.To, e.ID)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// IsTransitionError returns true if err is or wraps a *TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// CheckTransition returns nil if to directly follows from.
func CheckTransition(from, to Status) error {
	if !to.Valid() || from.Next() != to {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
