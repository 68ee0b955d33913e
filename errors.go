package reporter

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-allure/types"
)

// Protocol violations: the runner called the reporter out of order.
var (
	ErrNoActiveGroup     = errors.New("no active group")
	ErrNoActiveTest      = errors.New("no active test")
	ErrTestAlreadyActive = errors.New("a test is already active")
	ErrEmptyGroupName    = errors.New("group name cannot be empty")
	ErrUnknownTestStatus = types.ErrUnknownStatus
	ErrNoLinkBase        = errors.New("no url given and no base url configured")
	ErrDeferredClosed    = errors.New("deferred step result closed without a value")
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, unreadable input, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError signals that the reported run contained failed tests (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
