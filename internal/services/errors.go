package services

import (
	"errors"
	"fmt"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/roster"
)

var (
	// ErrNotFound is returned for unknown signal or responder ids
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when the requested status is not
	// reachable from the current one
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyAssigned is returned when a signal already has a responder
	ErrAlreadyAssigned = errors.New("already assigned")
	// ErrNotAssigned is returned by reassign/revoke on an unassigned signal
	ErrNotAssigned = errors.New("not assigned")
	// ErrConflict is returned when a mutation lost the optimistic version
	// check too many times in a row
	ErrConflict = errors.New("concurrent modification")
	// ErrInvalidArgument is returned for malformed requests
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotEscalatable means the signal's status no longer qualifies
	ErrNotEscalatable = errors.New("signal not escalatable")
	// ErrAlreadyEscalated means the requested level was already reached
	ErrAlreadyEscalated = errors.New("already escalated")
	// ErrStaleSignal means the signal changed since the caller read it
	ErrStaleSignal = errors.New("signal changed since read")
)

// TransitionError describes a rejected status change
type TransitionError struct {
	SignalID string
	From     database.SignalStatus
	To       database.SignalStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for signal %s: %s -> %s", e.SignalID, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func invalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

func isResponderNotFound(err error) bool {
	return errors.Is(err, roster.ErrResponderNotFound)
}
