package reporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-allure/allure"
	"github.com/ethereum-optimism/infra/op-allure/types"
)

// stepReporter returns a reporter with an active test.
func stepReporter(t *testing.T) (*Reporter, *allure.MemoryWriter) {
	t.Helper()
	r, w := newTestReporter(t, nil)
	startGroups(t, r, "Suite")
	require.NoError(t, r.StartTest(types.TestStart{Description: "x"}))
	return r, w
}

// finish ends the active test and returns its top level steps.
func finish(t *testing.T, r *Reporter, w *allure.MemoryWriter) []*allure.StepResult {
	t.Helper()
	require.NoError(t, r.EndTest(types.TestEnd{Status: types.StatusPassed}))
	return w.Results()[0].Steps
}

func TestStep(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name        string
		body        func() error
		wantErr     error
		wantStatus  allure.Status
		wantMessage string
	}{
		{
			name:       "nil body",
			body:       nil,
			wantStatus: allure.StatusPassed,
		},
		{
			name:       "successful body",
			body:       func() error { return nil },
			wantStatus: allure.StatusPassed,
		},
		{
			name:        "failing body",
			body:        func() error { return errBoom },
			wantErr:     errBoom,
			wantStatus:  allure.StatusFailed,
			wantMessage: "boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w := stepReporter(t)
			err := r.Step("work", tt.body)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Zero(t, r.StepDepth())

			steps := finish(t, r, w)
			require.Len(t, steps, 1)
			assert.Equal(t, tt.wantStatus, steps[0].Status)
			assert.Equal(t, allure.StageFinished, steps[0].Stage)
			assert.Equal(t, tt.wantMessage, steps[0].StatusDetails.Message)
		})
	}
}

func TestStep_RequiresTest(t *testing.T) {
	r, _ := newTestReporter(t, nil)
	called := false
	err := r.Step("work", func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNoActiveTest)
	assert.False(t, called)
}

func TestStep_PanicIsReraised(t *testing.T) {
	r, w := stepReporter(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = r.Step("work", func() error {
			panic("kaboom")
		})
	})
	assert.Zero(t, r.StepDepth())

	steps := finish(t, r, w)
	require.Len(t, steps, 1)
	assert.Equal(t, allure.StatusFailed, steps[0].Status)
}

func TestStep_Nested(t *testing.T) {
	r, w := stepReporter(t)

	err := r.Step("outer", func() error {
		r.AddParameter("level", "outer")
		return r.Step("inner", func() error {
			r.AddParameter("level", "inner")
			return nil
		})
	})
	require.NoError(t, err)

	steps := finish(t, r, w)
	require.Len(t, steps, 1)
	assert.Equal(t, []allure.Parameter{{Name: "level", Value: "outer"}}, steps[0].Parameters)
	require.Len(t, steps[0].Steps, 1)
	assert.Equal(t, []allure.Parameter{{Name: "level", Value: "inner"}}, steps[0].Steps[0].Parameters)
	assert.Equal(t, allure.StatusPassed, steps[0].Steps[0].Status)
}

func TestStep_ClosesAbandonedInnerSteps(t *testing.T) {
	r, w := stepReporter(t)

	err := r.Step("outer", func() error {
		_, err := r.StartStep("never ended")
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, r.StepDepth())

	steps := finish(t, r, w)
	require.Len(t, steps, 1)
	assert.Equal(t, allure.StatusPassed, steps[0].Status)
	require.Len(t, steps[0].Steps, 1)
	assert.Equal(t, allure.StatusFailed, steps[0].Steps[0].Status)
}

func TestStep_WithStart(t *testing.T) {
	r, w := stepReporter(t)
	start := time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)
	require.NoError(t, r.Step("late", nil, WithStart(start)))

	steps := finish(t, r, w)
	require.Len(t, steps, 1)
	assert.Equal(t, "2023-12-31 23:59:59.000 | late", steps[0].Name)
	assert.Equal(t, start.UnixMilli(), steps[0].Start)
}

func TestStepValue(t *testing.T) {
	errReject := errors.New("rejected")

	tests := []struct {
		name       string
		body       func(ctx context.Context) Deferred[int]
		want       int
		wantErr    error
		wantStatus allure.Status
	}{
		{
			name:       "nil body",
			wantStatus: allure.StatusPassed,
		},
		{
			name:       "immediate value",
			body:       func(context.Context) Deferred[int] { return Immediate(7, nil) },
			want:       7,
			wantStatus: allure.StatusPassed,
		},
		{
			name:       "immediate error",
			body:       func(context.Context) Deferred[int] { return Immediate(0, errReject) },
			wantErr:    errReject,
			wantStatus: allure.StatusFailed,
		},
		{
			name: "resolves later",
			body: func(context.Context) Deferred[int] {
				return Go(func() (int, error) {
					time.Sleep(10 * time.Millisecond)
					return 42, nil
				})
			},
			want:       42,
			wantStatus: allure.StatusPassed,
		},
		{
			name: "rejects later",
			body: func(context.Context) Deferred[int] {
				return Go(func() (int, error) { return 0, errReject })
			},
			wantErr:    errReject,
			wantStatus: allure.StatusFailed,
		},
		{
			name: "channel closed without value",
			body: func(context.Context) Deferred[int] {
				ch := make(chan Settled[int])
				close(ch)
				return Pending[int](ch)
			},
			wantErr:    ErrDeferredClosed,
			wantStatus: allure.StatusFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w := stepReporter(t)
			got, err := StepValue(context.Background(), r, "compute", tt.body)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Zero(t, r.StepDepth())

			steps := finish(t, r, w)
			require.Len(t, steps, 1)
			assert.Equal(t, tt.wantStatus, steps[0].Status)
		})
	}
}

func TestStepValue_ContextCancelled(t *testing.T) {
	r, w := stepReporter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	never := make(chan Settled[string])
	_, err := StepValue(ctx, r, "wait", func(context.Context) Deferred[string] {
		return Pending[string](never)
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	steps := finish(t, r, w)
	require.Len(t, steps, 1)
	assert.Equal(t, allure.StatusFailed, steps[0].Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), steps[0].StatusDetails.Message)
}

func TestStepValue_PanicIsReraised(t *testing.T) {
	r, w := stepReporter(t)
	assert.Panics(t, func() {
		_, _ = StepValue(context.Background(), r, "explode", func(context.Context) Deferred[int] {
			panic(errors.New("kaboom"))
		})
	})
	assert.Zero(t, r.StepDepth())
	steps := finish(t, r, w)
	require.Len(t, steps, 1)
	assert.Equal(t, allure.StatusFailed, steps[0].Status)
}

func TestDeferred_IsPending(t *testing.T) {
	assert.False(t, Immediate("x", nil).IsPending())
	assert.True(t, Pending[string](make(chan Settled[string])).IsPending())
}

func TestStep_BodyEndingItsOwnStep(t *testing.T) {
	r, w := stepReporter(t)

	err := r.Step("outer", func() error {
		if err := r.Step("inner", func() error {
			r.EndStep(WithStatus(allure.StatusPassed))
			return nil
		}); err != nil {
			return err
		}
		r.AddParameter("after", "inner")
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.Err())
	assert.Zero(t, r.StepDepth())

	require.NoError(t, r.EndTest(types.TestEnd{Status: types.StatusPassed}))
	res := w.Results()[0]
	assert.Empty(t, res.Parameters)
	require.Len(t, res.Steps, 1)
	outer := res.Steps[0]
	assert.Equal(t, allure.StatusPassed, outer.Status)
	assert.Equal(t, []allure.Parameter{{Name: "after", Value: "inner"}}, outer.Parameters)
	require.Len(t, outer.Steps, 1)
	assert.Equal(t, allure.StatusPassed, outer.Steps[0].Status)
}

func TestStep_FailingBodyAfterEndingItsOwnStep(t *testing.T) {
	r, w := stepReporter(t)
	errLate := errors.New("late")

	err := r.Step("outer", func() error {
		return r.Step("inner", func() error {
			r.EndStep(WithStatus(allure.StatusPassed))
			return errLate
		})
	})
	require.ErrorIs(t, err, errLate)

	steps := finish(t, r, w)
	require.Len(t, steps, 1)
	assert.Equal(t, allure.StatusFailed, steps[0].Status, "the error still fails the enclosing step")
	require.Len(t, steps[0].Steps, 1)
	assert.Equal(t, allure.StatusPassed, steps[0].Steps[0].Status)
}
