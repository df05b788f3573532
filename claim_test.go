package bgtask

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	ikeys "github.com/bgtask/bgtask-go/internal/keys"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func noopFunc(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return nil, nil
}

// newTestEngine wires a client, a registry with the given names and a
// worker against one miniredis.
func newTestEngine(t *testing.T, rdb *redis.Client, cfg WorkerConfig, names ...string) (*Client, *Registry, *Worker) {
	t.Helper()
	c := NewClient(rdb)
	reg := NewRegistry(c)
	for _, name := range names {
		reg.Register(name, noopFunc)
	}
	return c, reg, NewWorker(rdb, reg, cfg)
}

func TestClaim_TimeGating(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	_, err := c.Schedule(ctx, "t", nil, nil, RunIn(time.Minute))
	require.NoError(t, err)

	got, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.Nil(t, got, "a future task must not be claimable")

	due, err := c.Schedule(ctx, "t", []any{"due"}, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	got, err = w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, due.ID, got.ID)
	require.Equal(t, w.WorkerID(), got.LockedBy)
}

func TestClaim_PriorityOrdering(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	runAt := time.Now().Add(-time.Second)
	low, err := c.Schedule(ctx, "t", []any{"low"}, nil, RunAt(runAt), Priority(1))
	require.NoError(t, err)
	high, err := c.Schedule(ctx, "t", []any{"high"}, nil, RunAt(runAt), Priority(5))
	require.NoError(t, err)

	first, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, high.ID, first.ID, "larger priority runs earlier")

	second, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, low.ID, second.ID)
}

func TestClaim_PriorityOrderingUnderBacklog(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	// Enough low-priority due tasks to span several scan pages, all with
	// earlier run times than the high-priority one.
	for i := 0; i < 70; i++ {
		_, err := c.Schedule(ctx, "t", []any{i}, nil, RunAt(time.Now().Add(-time.Hour)))
		require.NoError(t, err)
	}
	high, err := c.Schedule(ctx, "t", []any{"high"}, nil,
		RunAt(time.Now().Add(-time.Second)), Priority(10))
	require.NoError(t, err)

	got, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, high.ID, got.ID, "a due high-priority task must win regardless of backlog depth")
}

func TestClaim_EarlierRunAtBreaksTies(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	later, err := c.Schedule(ctx, "t", []any{"later"}, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)
	earlier, err := c.Schedule(ctx, "t", []any{"earlier"}, nil, RunAt(time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	first, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, earlier.ID, first.ID)
	_ = later
}

func TestClaim_SkipsUnregisteredNames(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "known")
	ctx := context.Background()

	_, err := c.Schedule(ctx, "unknown", nil, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	got, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.Nil(t, got, "only names this process can run are candidates")
}

func TestClaim_QueueIsolation(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	inReports, err := c.Schedule(ctx, "t", nil, nil,
		Queue("reports"), RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	got, err := w.Claim(ctx, "billing")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = w.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, got, "empty queue scans all queues")
	require.Equal(t, inReports.ID, got.ID)
}

func TestClaim_Exclusivity(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, reg, _ := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	_, err := c.Schedule(ctx, "t", nil, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	claims := make(chan *Task, n)
	for i := 0; i < n; i++ {
		w := NewWorker(rdb, reg, WorkerConfig{WorkerID: fmt.Sprintf("w%d", i)})
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			got, err := w.Claim(ctx, "")
			if err != nil {
				t.Error(err)
				return
			}
			if got != nil {
				claims <- got
			}
		}(w)
	}
	wg.Wait()
	close(claims)

	require.Len(t, claims, 1, "exactly one of %d concurrent claims may win", n)
}

func TestClaim_StaleLockRecovery(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, reg, w1 := newTestEngine(t, rdb, WorkerConfig{WorkerID: "w1", LockTTL: 20 * time.Millisecond}, "t")
	ctx := context.Background()

	task, err := c.Schedule(ctx, "t", nil, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	got, err := w1.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, got)

	// While the lock is fresh nobody else can take the task.
	w2 := NewWorker(rdb, reg, WorkerConfig{WorkerID: "w2", LockTTL: 20 * time.Millisecond})
	stolen, err := w2.Claim(ctx, "")
	require.NoError(t, err)
	require.Nil(t, stolen)

	// Past the TTL the lock counts as abandoned and the task is offered again.
	time.Sleep(30 * time.Millisecond)
	stolen, err = w2.Claim(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, stolen)
	require.Equal(t, task.ID, stolen.ID)
	require.Equal(t, "w2", stolen.LockedBy)
}

func TestClaim_CleansDanglingIndexEntries(t *testing.T) {
	rdb, done := newMiniClient(t)
	defer done()
	c, _, w := newTestEngine(t, rdb, WorkerConfig{}, "t")
	ctx := context.Background()

	task, err := c.Schedule(ctx, "t", nil, nil, RunAt(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	// Drop the record but leave the pending index entry behind.
	require.NoError(t, rdb.Del(ctx, ikeys.Task(DefaultQueue, task.ID)).Err())

	got, err := w.Claim(ctx, "")
	require.NoError(t, err)
	require.Nil(t, got)
	nPending, _ := rdb.ZCard(ctx, ikeys.Pending(DefaultQueue)).Result()
	require.Equal(t, int64(0), nPending)
}
