package bgtask

import (
	"context"
	"errors"
	"testing"
	"time"

	ikeys "github.com/bgtask/bgtask-go/internal/keys"
	"github.com/stretchr/testify/require"
)

func TestComplete_SuccessArchivesAndDeletes(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	_, err := c.Schedule(ctx, "t", []any{42}, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)
	task, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, w.Complete(ctx, task, Success("done")))

	pending, err := c.ListTasks(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, pending, 0)
	exists, _ := rdb.Exists(ctx, ikeys.Task(DefaultQueue, task.ID)).Result()
	require.Equal(t, int64(0), exists)

	archive, err := c.ListCompleted(ctx, "")
	require.NoError(t, err)
	require.Len(t, archive, 1)
	require.False(t, archive[0].HasError)
	require.Equal(t, task.ID, archive[0].ID)
	require.Equal(t, 1, archive[0].Attempts)
	require.NotZero(t, archive[0].CompletedAt)
}

func TestComplete_RepetitionSpawned(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	t0 := time.Now().Add(-time.Second).Truncate(time.Millisecond)
	orig, err := c.Schedule(ctx, "t", []any{"tick"}, nil, RunAt(t0), Repeat(time.Hour))
	require.NoError(t, err)

	task, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, w.Complete(ctx, task, Success(nil)))

	pending, err := c.ListTasks(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, pending, 1, "exactly one repetition must be spawned")
	rep := pending[0]
	require.NotEqual(t, orig.ID, rep.ID)
	require.Equal(t, orig.RunAt+time.Hour.Milliseconds(), rep.RunAt)
	require.Equal(t, orig.Name, rep.Name)
	require.Equal(t, orig.Params, rep.Params)
	require.Equal(t, orig.Repeat, rep.Repeat)
	require.Zero(t, rep.Attempts)
	require.Empty(t, rep.LockedBy)
}

func TestComplete_RepetitionSuppressedPastRepeatUntil(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	t0 := time.Now().Add(-time.Second)
	_, err := c.Schedule(ctx, "t", nil, nil,
		RunAt(t0), Repeat(time.Hour), RepeatUntil(t0.Add(30*time.Minute)))
	require.NoError(t, err)

	task, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, w.Complete(ctx, task, Success(nil)))

	pending, err := c.ListTasks(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, pending, 0, "no repetition past repeat_until")
	archive, err := c.ListCompleted(ctx, "")
	require.NoError(t, err)
	require.Len(t, archive, 1)
}

func TestComplete_FailureReschedulesWithBackoff(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{MaxAttempts: 3}, "t")
	ctx := context.Background()

	_, err := c.Schedule(ctx, "t", nil, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)
	task, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, task)
	prevRunAt := task.RunAt

	require.NoError(t, w.Complete(ctx, task, Failure(errors.New("boom"))))

	pending, err := c.ListTasks(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	got := pending[0]
	require.Equal(t, 1, got.Attempts)
	require.Greater(t, got.RunAt, prevRunAt, "backoff must move run_at strictly forward")
	require.Equal(t, "boom", got.LastError)
	require.Empty(t, got.LockedBy, "the lock must be released on reschedule")
	require.Zero(t, got.LockedAt)
}

func TestComplete_RetryProgressionToPermanentFailure(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}, "t")
	ctx := context.Background()

	_, err := c.Schedule(ctx, "t", nil, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	lastRunAt := int64(0)
	for attempt := 1; attempt <= 3; attempt++ {
		var task *Task
		require.Eventually(t, func() bool {
			var err error
			task, err = w.Claim(ctx, "")
			return err == nil && task != nil
		}, time.Second, 2*time.Millisecond)

		require.Equal(t, attempt-1, task.Attempts)
		require.Greater(t, task.RunAt, lastRunAt)
		lastRunAt = task.RunAt
		require.NoError(t, w.Complete(ctx, task, Failure(errors.New("always fails"))))
	}

	pending, err := c.ListTasks(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, pending, 0, "an exhausted task must leave the pending set")

	archive, err := c.ListCompleted(ctx, "")
	require.NoError(t, err)
	require.Len(t, archive, 1)
	require.True(t, archive[0].HasError)
	require.Equal(t, 3, archive[0].Attempts)
	require.Equal(t, "always fails", archive[0].LastError)
}

func TestDefaultBackoff(t *testing.T) {
	require.Equal(t, 5*time.Second, DefaultBackoff(1))
	require.Equal(t, 10*time.Second, DefaultBackoff(2))
	require.Equal(t, 20*time.Second, DefaultBackoff(3))
	require.Equal(t, time.Hour, DefaultBackoff(64), "delay must cap without overflowing")

	prev := time.Duration(0)
	for attempts := 1; attempts <= 30; attempts++ {
		d := DefaultBackoff(attempts)
		require.Positive(t, d)
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
}
