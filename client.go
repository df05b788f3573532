package bgtask

import (
	"context"
	"sort"
	"time"

	"github.com/bgtask/bgtask-go/internal/fingerprint"
	ikeys "github.com/bgtask/bgtask-go/internal/keys"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the queue used when a schedule request names none.
const DefaultQueue = "default"

// Client schedules tasks into Redis and provides inspection helpers.
type Client struct {
	rdb     redis.UniversalClient
	encoder Encoder
	events  Events
	log     Logger
	lockTTL time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientEvents sets the subscriber notified on task creation.
func WithClientEvents(ev Events) ClientOption {
	return func(c *Client) { c.events = ev }
}

// WithClientLogger sets the logger used for scheduling diagnostics.
func WithClientLogger(l Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithClientLockTTL sets the lock age beyond which the dedup policies
// treat a locked task as abandoned. It should match the worker's LockTTL.
func WithClientLockTTL(d time.Duration) ClientOption {
	return func(c *Client) { c.lockTTL = d }
}

// NewClient creates a new scheduling client.
func NewClient(rdb redis.UniversalClient, opts ...ClientOption) *Client {
	c := &Client{
		rdb:     rdb,
		encoder: &JSONEncoder{},
		events:  NoopEvents{},
		log:     NewFmtLogger(),
		lockTTL: DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schedule persists a task for the named function with the given
// positional and keyword arguments. The dedup action (default
// ActionSchedule) decides whether the request inserts a new task, updates
// an existing unlocked one, or is a no-op; in the latter two cases the
// returned task is the surviving record.
//
// Arguments must round-trip through JSON; values that do not serialize
// fail fast with ErrEncodeParams.
func (c *Client) Schedule(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...Option) (*Task, error) {
	return c.schedule(ctx, name, args, kwargs, newOptions(opts))
}

func (c *Client) schedule(ctx context.Context, name string, args []any, kwargs map[string]any, cfg *options) (*Task, error) {
	params, err := encodeParams(c.encoder, args, kwargs)
	if err != nil {
		return nil, err
	}
	fp := fingerprint.Compute(name, params)
	now := time.Now()

	queue := cfg.queue
	if queue == "" {
		queue = DefaultQueue
	}
	t := &Task{
		ID:          uuid.NewString(),
		Name:        name,
		Params:      params,
		Fingerprint: fp,
		Priority:    cfg.schedule.ResolvePriority(),
		RunAt:       cfg.schedule.ResolveRunAt(now).UnixMilli(),
		Repeat:      int64(cfg.repeat.Seconds()),
		Queue:       queue,
		VerboseName: cfg.verboseName,
		Creator:     cfg.creator,
		CreatedAt:   now.UnixMilli(),
	}
	if !cfg.repeatUntil.IsZero() {
		t.RepeatUntil = cfg.repeatUntil.UnixMilli()
	}

	if cfg.remove {
		if err := c.removeExisting(ctx, fp, cfg, now); err != nil {
			return nil, err
		}
	}

	if action := cfg.schedule.ResolveAction(); action != ActionSchedule {
		existing, err := c.findExisting(ctx, fp, cfg, now)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			match := existing[0]
			switch action {
			case ActionRescheduleExisting:
				return c.rescheduleExisting(ctx, match, t.RunAt, t.Priority)
			case ActionCheckExisting:
				return match, nil
			}
		}
	}

	if err := c.insertTask(ctx, t); err != nil {
		return nil, err
	}
	c.events.TaskCreated(t)
	return t, nil
}

// insertTask writes the record hash and all indexes in one transaction.
func (c *Client) insertTask(ctx context.Context, t *Task) error {
	k := ikeys.For(t.Queue)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k.Task(t.ID), taskToFields(t))
		p.ZAdd(ctx, k.Pending, redis.Z{Score: float64(t.RunAt), Member: t.ID})
		p.SAdd(ctx, k.Fingerprint(t.Fingerprint), t.ID)
		p.SAdd(ctx, ikeys.Queues(), t.Queue)
		return nil
	})
	return err
}

// rescheduleExisting moves an unlocked duplicate to the new run time and
// priority in place (last-write-wins) and returns the updated record.
func (c *Client) rescheduleExisting(ctx context.Context, match *Task, runAt int64, priority int) (*Task, error) {
	k := ikeys.For(match.Queue)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k.Task(match.ID), map[string]any{
			"run_at":   runAt,
			"priority": priority,
		})
		p.ZAdd(ctx, k.Pending, redis.Z{Score: float64(runAt), Member: match.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	updated := *match
	updated.RunAt = runAt
	updated.Priority = priority
	return &updated, nil
}

// findExisting returns the unlocked tasks sharing a fingerprint, oldest
// first. When the request names a queue only that queue is searched;
// otherwise every known queue is.
func (c *Client) findExisting(ctx context.Context, fp string, cfg *options, now time.Time) ([]*Task, error) {
	queues, err := c.dedupQueues(ctx, cfg)
	if err != nil {
		return nil, err
	}
	nowMs := now.UnixMilli()
	ttlMs := c.lockTTL.Milliseconds()
	var out []*Task
	for _, q := range queues {
		k := ikeys.For(q)
		ids, err := c.rdb.SMembers(ctx, k.Fingerprint(fp)).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			m, err := c.rdb.HGetAll(ctx, k.Task(id)).Result()
			if err != nil {
				return nil, err
			}
			t, err := taskFromFields(m)
			if err != nil {
				// Stale index entry; drop it and move on.
				_ = c.rdb.SRem(ctx, k.Fingerprint(fp), id).Err()
				continue
			}
			if !t.claimableAt(nowMs, ttlMs) {
				continue
			}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// removeExisting deletes every unlocked task sharing the fingerprint.
func (c *Client) removeExisting(ctx context.Context, fp string, cfg *options, now time.Time) error {
	existing, err := c.findExisting(ctx, fp, cfg, now)
	if err != nil {
		return err
	}
	for _, t := range existing {
		k := ikeys.For(t.Queue)
		if _, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			deleteTaskPipe(ctx, p, k, t)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) dedupQueues(ctx context.Context, cfg *options) ([]string, error) {
	if cfg.queueSet && cfg.queue != "" {
		return []string{cfg.queue}, nil
	}
	return c.knownQueues(ctx)
}

// knownQueues lists every queue that has received a task, sorted for
// deterministic scans.
func (c *Client) knownQueues(ctx context.Context) ([]string, error) {
	queues, err := c.rdb.SMembers(ctx, ikeys.Queues()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(queues)
	return queues, nil
}

// deleteTaskPipe queues removal of a task record and its index entries.
func deleteTaskPipe(ctx context.Context, p redis.Pipeliner, k ikeys.Queue, t *Task) {
	p.Del(ctx, k.Task(t.ID))
	p.ZRem(ctx, k.Pending, t.ID)
	p.SRem(ctx, k.Fingerprint(t.Fingerprint), t.ID)
}

// TaskFilter is a function used to filter tasks during ListTasks.
type TaskFilter func(*Task) bool

// ListTasks returns the pending tasks of a queue, optionally filtered by
// any field. An empty queue name means the default queue.
func (c *Client) ListTasks(ctx context.Context, queue string, filter TaskFilter) ([]*Task, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	k := ikeys.For(queue)
	ids, err := c.rdb.ZRange(ctx, k.Pending, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		m, err := c.rdb.HGetAll(ctx, k.Task(id)).Result()
		if err != nil {
			return nil, err
		}
		t, err := taskFromFields(m)
		if err != nil {
			continue
		}
		if filter == nil || filter(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListCompleted returns the archive of a queue, most recent first.
func (c *Client) ListCompleted(ctx context.Context, queue string) ([]*CompletedTask, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	raws, err := c.rdb.LRange(ctx, ikeys.Completed(queue), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*CompletedTask, 0, len(raws))
	for _, raw := range raws {
		var ct CompletedTask
		if err := c.encoder.Decode([]byte(raw), &ct); err == nil {
			out = append(out, &ct)
		}
	}
	return out, nil
}

// DeleteTask removes a pending task by ID. It returns ErrTaskNotFound when
// the ID is unknown and ErrTaskLocked when a worker currently holds it.
func (c *Client) DeleteTask(ctx context.Context, queue, id string) error {
	if queue == "" {
		queue = DefaultQueue
	}
	k := ikeys.For(queue)
	m, err := c.rdb.HGetAll(ctx, k.Task(id)).Result()
	if err != nil {
		return err
	}
	t, err := taskFromFields(m)
	if err != nil {
		return err
	}
	if !t.claimableAt(time.Now().UnixMilli(), c.lockTTL.Milliseconds()) {
		return ErrTaskLocked
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		deleteTaskPipe(ctx, p, k, t)
		return nil
	})
	return err
}
