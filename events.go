package bgtask

// Events receives lifecycle notifications from the engine. Implementations
// must be safe for concurrent use; callbacks run inline on the scheduling
// or dispatching goroutine and should return quickly.
//
// Around every dispatch, TaskStarted is followed by exactly one of
// TaskSuccessful or TaskError and then TaskFinished, on every code path.
type Events interface {
	// TaskCreated fires after the scheduler persists a new task.
	TaskCreated(t *Task)
	// TaskStarted fires before the task function is resolved and invoked.
	TaskStarted(t *Task)
	// TaskSuccessful fires when the task function returned normally.
	TaskSuccessful(t *Task)
	// TaskError fires when dispatch produced a failure outcome.
	TaskError(t *Task, err error)
	// TaskFinished fires after every dispatch, regardless of outcome.
	TaskFinished(t *Task)
}

// NoopEvents discards all notifications. It is the default for Client and Worker.
type NoopEvents struct{}

func (NoopEvents) TaskCreated(*Task)      {}
func (NoopEvents) TaskStarted(*Task)      {}
func (NoopEvents) TaskSuccessful(*Task)   {}
func (NoopEvents) TaskError(*Task, error) {}
func (NoopEvents) TaskFinished(*Task)     {}

// LogEvents writes one log line per notification. Useful as a debugging
// subscriber or as a template for custom implementations.
type LogEvents struct{ Log Logger }

func (e LogEvents) TaskCreated(t *Task) {
	e.Log.Debugf("task created: id=%s name=%s queue=%s", t.ID, t.Name, t.Queue)
}
func (e LogEvents) TaskStarted(t *Task) {
	e.Log.Debugf("task started: id=%s name=%s attempt=%d", t.ID, t.Name, t.Attempts+1)
}
func (e LogEvents) TaskSuccessful(t *Task) {
	e.Log.Infof("task successful: id=%s name=%s", t.ID, t.Name)
}
func (e LogEvents) TaskError(t *Task, err error) {
	e.Log.Warnf("task error: id=%s name=%s err=%v", t.ID, t.Name, err)
}
func (e LogEvents) TaskFinished(t *Task) {
	e.Log.Debugf("task finished: id=%s name=%s", t.ID, t.Name)
}
