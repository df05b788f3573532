package bgtask

import (
	"strconv"
	"time"
)

// Task represents a pending unit of work. It is persisted as a Redis hash
// with one field per struct field and indexed by the per-queue pending
// ZSET (score = RunAt) and fingerprint Set.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`
	// Name resolves to a task function through the Registry.
	Name string `json:"name"`
	// Params is the JSON-encoded positional and keyword arguments.
	Params []byte `json:"params"`
	// Fingerprint is a stable hash over (Name, Params) used for dedup
	// comparisons. It is not an identity; distinct tasks may share one.
	Fingerprint string `json:"fingerprint"`
	// Priority orders eligible tasks within a queue; larger runs earlier.
	Priority int `json:"priority"`
	// RunAt is the timestamp (ms) at which the task becomes eligible.
	RunAt int64 `json:"run_at"`
	// Repeat is the repetition interval in seconds; 0 means no repetition.
	Repeat int64 `json:"repeat,omitempty"`
	// RepeatUntil is the timestamp (ms) after which no repetition is
	// spawned; 0 means repeat forever.
	RepeatUntil int64 `json:"repeat_until,omitempty"`
	// Queue is the ordering namespace this task belongs to.
	Queue string `json:"queue"`
	// LockedBy is the identifier of the worker holding the task, if any.
	LockedBy string `json:"locked_by,omitempty"`
	// LockedAt is the timestamp (ms) the current lock was taken.
	LockedAt int64 `json:"locked_at,omitempty"`
	// Attempts counts execution attempts; it never decreases.
	Attempts int `json:"attempts"`
	// LastError is the error message from the last failed attempt.
	LastError string `json:"last_error,omitempty"`
	// VerboseName is optional display metadata, opaque to the engine.
	VerboseName string `json:"verbose_name,omitempty"`
	// Creator is optional provenance metadata, opaque to the engine.
	Creator string `json:"creator,omitempty"`
	// CreatedAt is the timestamp (ms) when the task was scheduled.
	CreatedAt int64 `json:"created_at"`
}

// CompletedTask is the append-only archive entry written when a task
// reaches a terminal outcome. It snapshots the task at terminal time.
type CompletedTask struct {
	Task
	// CompletedAt is the timestamp (ms) the terminal outcome was recorded.
	CompletedAt int64 `json:"completed_at"`
	// HasError reports whether the task failed permanently. The error text
	// is in LastError.
	HasError bool `json:"has_error"`
}

// lockExpiredAt reports whether the task's lock is held and older than ttl
// as of nowMs. An unlocked task returns false.
func (t *Task) lockExpiredAt(nowMs, ttlMs int64) bool {
	return t.LockedBy != "" && nowMs-t.LockedAt >= ttlMs
}

// claimableAt reports whether the task can be claimed at nowMs given the
// lock TTL: it is either unlocked or its lock has expired.
func (t *Task) claimableAt(nowMs, ttlMs int64) bool {
	return t.LockedBy == "" || t.lockExpiredAt(nowMs, ttlMs)
}

// nextRepetition returns the follow-up occurrence of a repeating task, or
// nil when the task does not repeat or the next occurrence would fall past
// RepeatUntil. The new task keeps name, params, priority and queue; RunAt
// advances by exactly one interval from the completed occurrence.
func (t *Task) nextRepetition(id string, nowMs int64) *Task {
	if t.Repeat <= 0 {
		return nil
	}
	next := t.RunAt + t.Repeat*1000
	if t.RepeatUntil > 0 && next > t.RepeatUntil {
		return nil
	}
	rep := *t
	rep.ID = id
	rep.RunAt = next
	rep.Attempts = 0
	rep.LastError = ""
	rep.LockedBy = ""
	rep.LockedAt = 0
	rep.CreatedAt = nowMs
	return &rep
}

// taskToFields maps a Task to its Redis hash representation.
func taskToFields(t *Task) map[string]any {
	return map[string]any{
		"id":           t.ID,
		"name":         t.Name,
		"params":       string(t.Params),
		"fingerprint":  t.Fingerprint,
		"priority":     t.Priority,
		"run_at":       t.RunAt,
		"repeat":       t.Repeat,
		"repeat_until": t.RepeatUntil,
		"queue":        t.Queue,
		"locked_by":    t.LockedBy,
		"locked_at":    t.LockedAt,
		"attempts":     t.Attempts,
		"last_error":   t.LastError,
		"verbose_name": t.VerboseName,
		"creator":      t.Creator,
		"created_at":   t.CreatedAt,
	}
}

// taskFromFields rebuilds a Task from its Redis hash representation.
func taskFromFields(m map[string]string) (*Task, error) {
	if len(m) == 0 || m["id"] == "" {
		return nil, ErrTaskNotFound
	}
	t := &Task{
		ID:          m["id"],
		Name:        m["name"],
		Params:      []byte(m["params"]),
		Fingerprint: m["fingerprint"],
		Queue:       m["queue"],
		LockedBy:    m["locked_by"],
		LastError:   m["last_error"],
		VerboseName: m["verbose_name"],
		Creator:     m["creator"],
	}
	var err error
	if t.Priority, err = atoi(m["priority"]); err != nil {
		return nil, err
	}
	if t.Attempts, err = atoi(m["attempts"]); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *int64
		key string
	}{
		{&t.RunAt, "run_at"},
		{&t.Repeat, "repeat"},
		{&t.RepeatUntil, "repeat_until"},
		{&t.LockedAt, "locked_at"},
		{&t.CreatedAt, "created_at"},
	} {
		if *f.dst, err = atoi64(m[f.key]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func atoi64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// newCompletedTask snapshots a task into its archive form.
func newCompletedTask(t *Task, completedAt time.Time, hasError bool) *CompletedTask {
	return &CompletedTask{
		Task:        *t,
		CompletedAt: completedAt.UnixMilli(),
		HasError:    hasError,
	}
}
