package types

import (
	"errors"
	"fmt"
)

// AuthenticationError indicates a missing or invalid credential. The
// connection is refused and no session is created.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// InvalidTransitionError indicates an operation that is not legal from the
// current state. It is rejected locally with no state change.
type InvalidTransitionError struct {
	Op    string
	State string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed in state %s", e.Op, e.State)
}

// SignalingError indicates the telephony layer rejected a command. Local
// state is reverted to its pre-attempt value and the error surfaced.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s failed: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// PersistenceError indicates a storage operation failed after any retry
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrNotFound is returned by stores when the requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrorCode maps a taxonomy error to a stable wire code for client display
func ErrorCode(err error) string {
	var authErr *AuthenticationError
	var transErr *InvalidTransitionError
	var sigErr *SignalingError
	var persErr *PersistenceError

	switch {
	case errors.As(err, &authErr):
		return "authentication_failure"
	case errors.As(err, &transErr):
		return "invalid_transition"
	case errors.As(err, &sigErr):
		return "signaling_failure"
	case errors.As(err, &persErr):
		return "persistence_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
