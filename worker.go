package bgtask

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bgtask/bgtask-go/internal/pool"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL is the lock age after which a claimed task counts as
	// abandoned and becomes claimable again.
	DefaultLockTTL = time.Hour
	// DefaultMaxAttempts is the attempt count after which a failing task
	// is archived permanently.
	DefaultMaxAttempts = 25
	// DefaultPollInterval is how long the poll loop idles after an empty
	// cycle.
	DefaultPollInterval = 5 * time.Second
)

// WorkerConfig defines the configuration for a Worker.
type WorkerConfig struct {
	// WorkerID identifies this worker in task locks. Defaults to
	// "<hostname>-<pid>".
	WorkerID string
	// Queue restricts the poll loop to one queue; empty polls all queues.
	Queue string
	// LockTTL is the stale-lock recovery threshold. A worker that crashes
	// mid-execution releases its tasks to other workers after this long,
	// which makes execution at-least-once, not exactly-once.
	LockTTL time.Duration
	// MaxAttempts bounds execution attempts per task.
	MaxAttempts int
	// Backoff computes the reschedule delay after a failed attempt.
	// Defaults to DefaultBackoff.
	Backoff BackoffFunc
	// Concurrency, when positive, dispatches claimed tasks on a pool of
	// this many goroutines (fire-and-forget). Zero means synchronous.
	Concurrency int
	// PollInterval is the idle delay of the poll loop.
	PollInterval time.Duration
	// Logger is the logger used for worker events.
	Logger Logger
	// Events is the lifecycle subscriber for dispatches.
	Events Events
}

// Worker claims tasks from Redis, dispatches them through the Registry
// and records outcomes. Any number of workers may poll the same store
// concurrently; exclusivity is enforced by the claim protocol alone.
type Worker struct {
	rdb     redis.UniversalClient
	reg     *Registry
	cfg     WorkerConfig
	encoder Encoder
	events  Events
	log     Logger
	pool    *pool.Pool

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker creates a worker bound to a registry. Zero config fields take
// the package defaults.
func NewWorker(rdb redis.UniversalClient, reg *Registry, cfg WorkerConfig) *Worker {
	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = NewFmtLogger()
	}
	if cfg.Events == nil {
		cfg.Events = NoopEvents{}
	}
	w := &Worker{
		rdb:     rdb,
		reg:     reg,
		cfg:     cfg,
		encoder: &JSONEncoder{},
		events:  cfg.Events,
		log:     cfg.Logger,
	}
	if cfg.Concurrency > 0 {
		w.pool = pool.New(cfg.Concurrency)
	}
	return w
}

// WorkerID returns the identifier this worker writes into task locks.
func (w *Worker) WorkerID() string { return w.cfg.WorkerID }

// RunNext claims one eligible task and runs it, reporting whether any work
// was done. Store failures are logged and treated as an empty cycle; the
// next poll retries. With Concurrency configured the task is handed to the
// pool and true is returned without waiting for the outcome.
func (w *Worker) RunNext(ctx context.Context, queue string) bool {
	t, err := w.Claim(ctx, queue)
	if err != nil {
		w.log.Warnf("failed to retrieve tasks, store unreachable: %v", err)
		return false
	}
	if t == nil {
		return false
	}
	w.log.Infof("running task: id=%s name=%s queue=%s attempt=%d", t.ID, t.Name, t.Queue, t.Attempts+1)
	w.mu.Lock()
	p := w.pool
	w.mu.Unlock()
	if p != nil {
		// Detached from the caller's context: once dispatched, a task runs
		// to completion.
		p.Submit(func() { _ = w.Process(context.Background(), t) })
		return true
	}
	_ = w.Process(ctx, t)
	return true
}

// Process dispatches a claimed task and records its outcome.
func (w *Worker) Process(ctx context.Context, t *Task) error {
	out := w.Dispatch(ctx, t)
	if err := w.Complete(ctx, t, out); err != nil {
		w.log.Errorf("outcome bookkeeping failed: id=%s name=%s err=%v", t.ID, t.Name, err)
		return err
	}
	return nil
}

// Start launches the poll loop. It is idempotent and non-blocking, and a
// stopped worker may be started again. The loop claims work for the
// configured Queue and idles PollInterval between empty cycles.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started {
		w.log.Warnf("worker already started; ignoring Start()")
		w.mu.Unlock()
		return
	}
	w.started = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	if w.cfg.Concurrency > 0 && w.pool == nil {
		w.pool = pool.New(w.cfg.Concurrency)
	}
	w.mu.Unlock()
	w.log.Infof("worker starting: id=%s queue=%q poll=%s concurrency=%d",
		w.cfg.WorkerID, w.cfg.Queue, w.cfg.PollInterval, w.cfg.Concurrency)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ctx.Done():
				return
			default:
			}
			if w.RunNext(w.ctx, w.cfg.Queue) {
				continue
			}
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}()
}

// Stop shuts the worker down, waiting for the poll loop to exit and for
// pooled dispatches to drain.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.log.Warnf("worker not started; ignoring Stop()")
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()
	w.log.Infof("worker stopping: id=%s", w.cfg.WorkerID)

	w.cancel()
	w.wg.Wait()
	w.mu.Lock()
	p := w.pool
	w.pool = nil
	w.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// storeErr tags transient Redis failures so the poll boundary can match
// them with errors.Is(err, ErrStoreUnavailable).
func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return wrapErr(ErrStoreUnavailable, err)
}
