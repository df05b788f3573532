package bgtask

import (
	"context"
	"fmt"
)

// Outcome is the tagged result of dispatching a task: either a value from
// a normal return or the error that stopped execution.
type Outcome struct {
	Value any
	Err   error
}

// Success builds a successful outcome carrying the function's return value.
func Success(v any) Outcome { return Outcome{Value: v} }

// Failure builds a failed outcome carrying the causing error.
func Failure(err error) Outcome { return Outcome{Err: err} }

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool { return o.Err != nil }

// Dispatch resolves and invokes the task's registered function, returning
// the outcome without touching the store; feed it to Complete to persist.
// No error escapes: unknown names, undecodable params, function errors and
// panics all become failure outcomes.
//
// Dispatch emits TaskStarted, then TaskSuccessful or TaskError, then
// TaskFinished on every path.
func (w *Worker) Dispatch(ctx context.Context, t *Task) (out Outcome) {
	w.events.TaskStarted(t)
	defer func() {
		if out.Failed() {
			w.events.TaskError(t, out.Err)
		} else {
			w.events.TaskSuccessful(t)
		}
		w.events.TaskFinished(t)
	}()

	fn, ok := w.reg.Lookup(t.Name)
	if !ok {
		return Failure(fmt.Errorf("%w: %q", ErrNotRegistered, t.Name))
	}
	args, kwargs, err := decodeParams(w.encoder, t.Params)
	if err != nil {
		return Failure(err)
	}
	return invoke(withTask(ctx, t), fn, args, kwargs)
}

// invoke runs the task function inside a recovery boundary so a panicking
// task is indistinguishable from one returning an error.
func invoke(ctx context.Context, fn Func, args []any, kwargs map[string]any) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure(fmt.Errorf("bgtask: task panicked: %v", r))
		}
	}()
	v, err := fn(ctx, args, kwargs)
	if err != nil {
		return Failure(err)
	}
	return Success(v)
}
