package services

import "fmt"

// ValidationError is a deterministic rejection of bad input (bet below the
// minimum, self-join attempt). The duel is never mutated.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError means the referenced duel does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StateConflictError means a guarded transition lost a race: the duel was
// already joined, resolved, expired or cancelled by someone else. This is an
// expected outcome under concurrency, not a system failure, and callers
// should render it as "no longer available".
type StateConflictError struct {
	Msg string
}

func (e *StateConflictError) Error() string { return e.Msg }

// InsufficientFundsError means the participant's spendable balance was below
// the stake at check time.
type InsufficientFundsError struct {
	ParticipantID string
	Balance       int64
	Required      int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("participant %s has %d points, needs %d", e.ParticipantID, e.Balance, e.Required)
}
