package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRunInProgress = errors.New("reconciliation already in progress")
	ErrUnknownTarget = errors.New("unknown target")
)

// AuthError is returned when the credential exchange is rejected.
type AuthError struct {
	IdentityURL string
	Err         error
}

func NewAuthError(identityURL string, err error) *AuthError {
	return &AuthError{IdentityURL: identityURL, Err: err}
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential exchange with %s failed: %v", e.IdentityURL, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// LookupError is returned when a target, its resource or its process cannot be found.
type LookupError struct {
	Kind string // organization, space, app, process
	Name string
	Err  error
}

func NewLookupError(kind, name string, err error) *LookupError {
	return &LookupError{Kind: kind, Name: name, Err: err}
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error { return e.Err }

// ActionError is returned when a start or stop action is rejected.
type ActionError struct {
	Action     string
	ResourceID string
	Err        error
}

func NewActionError(action, resourceID string, err error) *ActionError {
	return &ActionError{Action: action, ResourceID: resourceID, Err: err}
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action on %s rejected: %v", e.Action, e.ResourceID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// ConvergenceTimeoutError is returned when polling ran out of attempts
// before the target reached the awaited condition.
type ConvergenceTimeoutError struct {
	Condition string
	Attempts  int
	Last      string
	Err       error
}

func NewConvergenceTimeoutError(condition string, attempts int, last string, err error) *ConvergenceTimeoutError {
	return &ConvergenceTimeoutError{Condition: condition, Attempts: attempts, Last: last, Err: err}
}

func (e *ConvergenceTimeoutError) Error() string {
	return fmt.Sprintf("%s not reached after %d attempts (last observed: %s)", e.Condition, e.Attempts, e.Last)
}

func (e *ConvergenceTimeoutError) Unwrap() error { return e.Err }
