// Package apperr holds the error taxonomy shared by the batch, run and
// recovery packages. Callers match on the sentinels with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state change is not an edge of
	// the batch, run or node transition graph.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrOperationInProgress is returned when a resume or rollback is already
	// running for the same batch.
	ErrOperationInProgress = errors.New("operation in progress")
	// ErrResumeNotSupported is returned when no failed-item detail exists for a batch.
	ErrResumeNotSupported = errors.New("resume not supported")
	// ErrExecutorUnreachable is returned when a dispatch or status call could
	// not reach the executor.
	ErrExecutorUnreachable = errors.New("executor unreachable")
	// ErrPartialRollback marks a rollback that reversed only some items.
	ErrPartialRollback = errors.New("partial rollback")
	// ErrNotFound is returned for unknown runs and batches.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Transition builds a TransitionError.
func Transition(entity, id, from, to string) error {
	return &TransitionError{Entity: entity, ID: id, From: from, To: to}
}

// TransitionBecause builds a TransitionError with an explanation.
func TransitionBecause(entity, id, from, to, reason string) error {
	return &TransitionError{Entity: entity, ID: id, From: from, To: to, Reason: reason}
}

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

// Invalid wraps ErrInvalidArgument with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}
