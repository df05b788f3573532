package bgtask

import "context"

type taskCtxKey struct{}

// withTask returns a child context carrying the task being dispatched.
func withTask(parent context.Context, t *Task) context.Context {
	return context.WithValue(parent, taskCtxKey{}, t)
}

// CurrentTask returns the Task the surrounding Dispatch call is
// executing, if any. Task functions can use it to read their own attempt
// count, verbose name or queue.
func CurrentTask(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskCtxKey{}).(*Task)
	return t, ok
}
