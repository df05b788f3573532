package bgtask

import (
	"context"
	"time"

	ikeys "github.com/bgtask/bgtask-go/internal/keys"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BackoffFunc computes the reschedule delay after the given (1-based)
// attempt count. Implementations must return strictly positive delays and
// be monotonic non-decreasing in attempts.
type BackoffFunc func(attempts int) time.Duration

// DefaultBackoff doubles a 5 second base per failed attempt, capped at
// one hour: 5s, 10s, 20s, ... 1h.
func DefaultBackoff(attempts int) time.Duration {
	const (
		base    = 5 * time.Second
		ceiling = time.Hour
	)
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// Complete applies an execution outcome to a claimed task. Every call
// increments the attempt count exactly once.
//
// Success archives the task (has_error=false), spawns the next repetition
// if one is due, and deletes the pending record. Failure either
// reschedules the task with backoff and releases the lock, or, once
// MaxAttempts is reached, archives it permanently with the error text.
func (w *Worker) Complete(ctx context.Context, t *Task, out Outcome) error {
	t.Attempts++
	k := ikeys.For(t.Queue)
	if !out.Failed() {
		return w.completeSuccess(ctx, k, t)
	}
	t.LastError = out.Err.Error()
	if t.Attempts < w.cfg.MaxAttempts {
		return w.rescheduleFailed(ctx, k, t)
	}
	w.log.Warnf("giving up on task: id=%s name=%s attempts=%d", t.ID, t.Name, t.Attempts)
	return w.archiveAndDelete(ctx, k, t, true)
}

// completeSuccess writes the archive entry, the repetition (if any) and
// the deletion in one transaction so the task cannot be observed both
// pending and completed.
func (w *Worker) completeSuccess(ctx context.Context, k ikeys.Queue, t *Task) error {
	now := time.Now()
	record := newCompletedTask(t, now, false)
	raw, err := w.encoder.Encode(record)
	if err != nil {
		return err
	}
	rep := t.nextRepetition(uuid.NewString(), now.UnixMilli())
	_, err = w.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, k.Completed, raw)
		if rep != nil {
			rk := ikeys.For(rep.Queue)
			p.HSet(ctx, rk.Task(rep.ID), taskToFields(rep))
			p.ZAdd(ctx, rk.Pending, redis.Z{Score: float64(rep.RunAt), Member: rep.ID})
			p.SAdd(ctx, rk.Fingerprint(rep.Fingerprint), rep.ID)
		}
		deleteTaskPipe(ctx, p, k, t)
		return nil
	})
	if err != nil {
		return storeErr(err)
	}
	w.log.Debugf("task done and archived: id=%s name=%s", t.ID, t.Name)
	return nil
}

// rescheduleFailed pushes the task's run time forward by the backoff
// delay and releases the lock so any worker can pick it up again.
func (w *Worker) rescheduleFailed(ctx context.Context, k ikeys.Queue, t *Task) error {
	delay := w.cfg.Backoff(t.Attempts)
	t.RunAt = time.Now().Add(delay).UnixMilli()
	t.LockedBy = ""
	t.LockedAt = 0
	_, err := w.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k.Task(t.ID), map[string]any{
			"run_at":     t.RunAt,
			"attempts":   t.Attempts,
			"last_error": t.LastError,
			"locked_by":  "",
			"locked_at":  0,
		})
		p.ZAdd(ctx, k.Pending, redis.Z{Score: float64(t.RunAt), Member: t.ID})
		return nil
	})
	if err != nil {
		return storeErr(err)
	}
	w.log.Warnf("rescheduling failed task: id=%s name=%s attempts=%d delay=%s", t.ID, t.Name, t.Attempts, delay)
	return nil
}

// archiveAndDelete writes the terminal archive entry and removes the
// pending record in one transaction.
func (w *Worker) archiveAndDelete(ctx context.Context, k ikeys.Queue, t *Task, hasError bool) error {
	record := newCompletedTask(t, time.Now(), hasError)
	raw, err := w.encoder.Encode(record)
	if err != nil {
		return err
	}
	_, err = w.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, k.Completed, raw)
		deleteTaskPipe(ctx, p, k, t)
		return nil
	})
	return storeErr(err)
}
