package bgtask

import (
	"errors"
	"fmt"
)

// ErrNotRegistered is returned when a task name has no function in the Registry.
var ErrNotRegistered = errors.New("bgtask: task name not registered")

// ErrEncodeParams is returned when task arguments cannot be serialized at schedule time.
var ErrEncodeParams = errors.New("bgtask: cannot encode task params")

// ErrDecodeParams is returned when stored task params cannot be deserialized at dispatch time.
var ErrDecodeParams = errors.New("bgtask: cannot decode task params")

// ErrStoreUnavailable wraps transient Redis failures during claim or poll.
// The poll boundary logs it and treats the cycle as "no work".
var ErrStoreUnavailable = errors.New("bgtask: store unavailable")

// ErrTaskNotFound is returned when a task with the specified ID is not found.
var ErrTaskNotFound = errors.New("bgtask: task not found")

// ErrTaskLocked is returned when an operation is not allowed on a task
// currently held by a worker.
var ErrTaskLocked = errors.New("bgtask: task is locked by a worker")

// ErrUnknownAction is returned when an invalid schedule action is used.
var ErrUnknownAction = errors.New("bgtask: unknown schedule action")

// wrapErr attaches a sentinel to an underlying cause so callers can match
// with errors.Is while keeping the original message.
func wrapErr(sentinel, cause error) error {
	return fmt.Errorf("%w: %v", sentinel, cause)
}
