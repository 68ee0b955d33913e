package reporter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError(t *testing.T) {
	cause := errors.New("input missing")
	err := NewRuntimeError(cause)

	assert.Equal(t, "runtime error: input missing", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRuntimeError(err))
	assert.True(t, IsRuntimeError(fmt.Errorf("wrapped: %w", err)))
	assert.True(t, IsRuntimeError(errors.Join(errors.New("other"), err)))
	assert.False(t, IsRuntimeError(cause))
	assert.False(t, IsRuntimeError(nil))
	assert.False(t, IsTestFailureError(err))
}

func TestTestFailureError(t *testing.T) {
	err := NewTestFailureError("1 failed, 0 broken of 3 tests")

	assert.Equal(t, "test failure: 1 failed, 0 broken of 3 tests", err.Error())
	assert.True(t, IsTestFailureError(err))
	assert.True(t, IsTestFailureError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsTestFailureError(errors.New("plain")))
	assert.False(t, IsTestFailureError(nil))
	assert.False(t, IsRuntimeError(err))
}
