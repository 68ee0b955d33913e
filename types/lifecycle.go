package types

import (
	"errors"
	"fmt"
	"time"
)

// Status is the outcome a test runner reports for a finished test.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusBroken   Status = "broken"
	StatusPending  Status = "pending"
	StatusDisabled Status = "disabled"
	StatusExcluded Status = "excluded"
	StatusTodo     Status = "todo"
)

var ErrUnknownStatus = errors.New("unknown test status")

// IsValid reports whether s is one of the known runner statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusBroken,
		StatusPending, StatusDisabled, StatusExcluded, StatusTodo:
		return true
	}
	return false
}

// IsSkipped reports whether s means the test body never ran
func (s Status) IsSkipped() bool {
	switch s {
	case StatusPending, StatusDisabled, StatusExcluded, StatusTodo:
		return true
	}
	return false
}

// ParseStatus converts a runner status string, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// TestStart describes a test the runner is about to execute.
type TestStart struct {
	Description string    // Test title as written by the author
	FullName    string    // Title including every enclosing group
	TestPath    string    // Source file declaring the test, if known
	Thread      string    // Worker that runs the test; empty uses the reporter's worker id
	Start       time.Time // Explicit start time; zero means now
}

func (t TestStart) Validate() error {
	if t.Description == "" {
		return errors.New("test description cannot be empty")
	}
	return nil
}

// FailedExpectation is a single failure recorded against a test. An empty
// MatcherName marks an uncaught error or panic rather than an assertion.
type FailedExpectation struct {
	MatcherName string
	Message     string
	Stack       string
}

// IsThrow reports whether the expectation represents an uncaught error
func (f FailedExpectation) IsThrow() bool {
	return f.MatcherName == ""
}

// TestEnd describes how a test finished.
type TestEnd struct {
	Status             Status
	FailedExpectations []FailedExpectation
	PendingReason      string
	Stop               time.Time // Explicit stop time; zero means now
}

func (t TestEnd) Validate() error {
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, string(t.Status))
	}
	return nil
}
