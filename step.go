package reporter

import (
	"context"

	"github.com/ethereum-optimism/infra/op-allure/allure"
)

// Step runs body inside a step. A nil body yields an empty passed step. An
// error from body fails the step and is returned unchanged; a panic fails the
// step and is re-raised. The step is closed exactly once on every path.
func (r *Reporter) Step(name string, body func() error, opts ...StepOption) (err error) {
	step, err := r.StartStep(name, opts...)
	if err != nil {
		return err
	}
	if body == nil {
		r.closeStep(step, allure.StatusPassed, nil)
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Step panicked", "step", name, "panic", p)
			r.closeStep(step, allure.StatusFailed, nil)
			panic(p)
		}
	}()

	if err := body(); err != nil {
		r.closeStep(step, allure.StatusFailed, err)
		return err
	}
	r.closeStep(step, allure.StatusPassed, nil)
	return nil
}

// closeStep ends step with status. Steps opened inside it and left open are
// failed first, so the step stack is back to its depth before step started.
// A step that was already ended, or is no longer on the stack, is left alone
// together with everything below it.
func (r *Reporter) closeStep(step *allure.Step, status allure.Status, cause error) {
	if step.Ended() || !r.stepOpen(step) {
		r.log.Warn("Step already closed", "step", step.Name())
		return
	}
	for {
		top := r.CurrentStep()
		if top == step {
			break
		}
		r.log.Warn("Closing abandoned step", "step", top.Name(), "parent", step.Name())
		r.EndStep(WithStatus(allure.StatusFailed))
	}
	if cause != nil {
		step.SetDetails(cause.Error(), "")
	}
	r.EndStep(WithStatus(status))
}

func (r *Reporter) stepOpen(step *allure.Step) bool {
	for _, s := range r.steps {
		if s == step {
			return true
		}
	}
	return false
}

// Settled is the final value of a deferred step body.
type Settled[T any] struct {
	Value T
	Err   error
}

// Deferred is what a StepValue body returns: either an outcome that is
// already known or a channel that delivers it later.
type Deferred[T any] struct {
	settled Settled[T]
	pending <-chan Settled[T]
}

// Immediate wraps an outcome computed synchronously.
func Immediate[T any](value T, err error) Deferred[T] {
	return Deferred[T]{settled: Settled[T]{Value: value, Err: err}}
}

// Pending wraps an outcome delivered on ch. Only the first value is read.
func Pending[T any](ch <-chan Settled[T]) Deferred[T] {
	return Deferred[T]{pending: ch}
}

// Go runs fn on its own goroutine and returns its pending outcome.
func Go[T any](fn func() (T, error)) Deferred[T] {
	ch := make(chan Settled[T], 1)
	go func() {
		value, err := fn()
		ch <- Settled[T]{Value: value, Err: err}
	}()
	return Pending[T](ch)
}

// IsPending reports whether the outcome is delivered asynchronously
func (d Deferred[T]) IsPending() bool {
	return d.pending != nil
}

// wait blocks until d settles or ctx is done.
func (d Deferred[T]) wait(ctx context.Context) Settled[T] {
	if d.pending == nil {
		return d.settled
	}
	select {
	case s, ok := <-d.pending:
		if !ok {
			return Settled[T]{Err: ErrDeferredClosed}
		}
		return s
	case <-ctx.Done():
		return Settled[T]{Err: ctx.Err()}
	}
}

// StepValue runs body inside a step and returns the value it settles to.
// Pending bodies keep the step open until they settle or ctx is done; the
// caller must not drive the reporter from elsewhere in the meantime.
func StepValue[T any](ctx context.Context, r *Reporter, name string, body func(ctx context.Context) Deferred[T], opts ...StepOption) (value T, err error) {
	step, err := r.StartStep(name, opts...)
	if err != nil {
		return value, err
	}
	if body == nil {
		r.closeStep(step, allure.StatusPassed, nil)
		return value, nil
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Step panicked", "step", name, "panic", p)
			r.closeStep(step, allure.StatusFailed, nil)
			panic(p)
		}
	}()

	settled := body(ctx).wait(ctx)
	if settled.Err != nil {
		r.closeStep(step, allure.StatusFailed, settled.Err)
		return value, settled.Err
	}
	r.closeStep(step, allure.StatusPassed, nil)
	return settled.Value, nil
}
