package bgtask

import (
	"context"
	"sort"
	"strconv"
	"time"

	ikeys "github.com/bgtask/bgtask-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

const (
	// claimAttempts bounds how many ordered candidates one claim call
	// tries to lock before giving up.
	claimAttempts = 5
	// claimScanPage is the page size used when walking the due range of
	// a pending ZSET.
	claimScanPage = 64
)

// claimScript is the atomic conditional update at the heart of the
// locking protocol. It re-checks, inside Redis, that the task still
// exists, is still due, and is still unlocked or lock-expired, then takes
// the lock. Exactly one concurrent caller can see 1; the losers see 0 and
// move on to their next candidate.
//
// KEYS[1] = task hash; ARGV = worker id, now (ms), lock TTL (ms).
var claimScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
if redis.call('EXISTS', key) == 0 then return 0 end
local run_at = tonumber(redis.call('HGET', key, 'run_at'))
if not run_at or run_at > now then return 0 end
local locked_by = redis.call('HGET', key, 'locked_by')
if locked_by and locked_by ~= '' then
  local locked_at = tonumber(redis.call('HGET', key, 'locked_at'))
  if locked_at and now - locked_at < ttl then return 0 end
end
redis.call('HSET', key, 'locked_by', ARGV[1], 'locked_at', ARGV[2])
return 1
`)

// Claim selects and exclusively locks one eligible task, or returns
// (nil, nil) when none can be taken. Eligible means due, registered
// locally, and unlocked or past the lock TTL. Candidates are offered
// highest priority first, then earliest run time; ties break on insertion
// order. An empty queue name scans every known queue.
func (w *Worker) Claim(ctx context.Context, queue string) (*Task, error) {
	now := time.Now()
	candidates, err := w.findCandidates(ctx, queue, now)
	if err != nil {
		return nil, err
	}
	nowMs := now.UnixMilli()
	ttlMs := w.cfg.LockTTL.Milliseconds()
	for _, t := range candidates {
		res, err := claimScript.Run(ctx, w.rdb,
			[]string{ikeys.Task(t.Queue, t.ID)},
			w.cfg.WorkerID, nowMs, ttlMs,
		).Int()
		if err != nil {
			return nil, storeErr(err)
		}
		if res == 1 {
			t.LockedBy = w.cfg.WorkerID
			t.LockedAt = nowMs
			return t, nil
		}
		// Lost the race; try the next candidate.
	}
	return nil, nil
}

// findCandidates gathers every due, runnable task, orders them for
// claiming and truncates to the claim attempt budget. The full due range
// is walked before ordering; truncating first would let a backlog of
// low-priority tasks starve a due high-priority one.
func (w *Worker) findCandidates(ctx context.Context, queue string, now time.Time) ([]*Task, error) {
	queues, err := w.claimQueues(ctx, queue)
	if err != nil {
		return nil, err
	}
	nowMs := now.UnixMilli()
	ttlMs := w.cfg.LockTTL.Milliseconds()
	maxScore := strconv.FormatInt(nowMs, 10)
	var candidates []*Task
	for _, q := range queues {
		k := ikeys.For(q)
		var offset int64
		for {
			ids, err := w.rdb.ZRangeByScore(ctx, k.Pending, &redis.ZRangeBy{
				Min:    "-inf",
				Max:    maxScore,
				Offset: offset,
				Count:  claimScanPage,
			}).Result()
			if err != nil {
				return nil, storeErr(err)
			}
			for _, id := range ids {
				m, err := w.rdb.HGetAll(ctx, k.Task(id)).Result()
				if err != nil {
					return nil, storeErr(err)
				}
				t, err := taskFromFields(m)
				if err != nil {
					// Record gone but index entry left behind; clean it up.
					_ = w.rdb.ZRem(ctx, k.Pending, id).Err()
					continue
				}
				if !w.reg.Has(t.Name) {
					continue
				}
				if !t.claimableAt(nowMs, ttlMs) {
					continue
				}
				candidates = append(candidates, t)
			}
			if int64(len(ids)) < claimScanPage {
				break
			}
			offset += int64(len(ids))
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.RunAt != b.RunAt {
			return a.RunAt < b.RunAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	if len(candidates) > claimAttempts {
		candidates = candidates[:claimAttempts]
	}
	return candidates, nil
}

func (w *Worker) claimQueues(ctx context.Context, queue string) ([]string, error) {
	if queue != "" {
		return []string{queue}, nil
	}
	queues, err := w.rdb.SMembers(ctx, ikeys.Queues()).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	sort.Strings(queues)
	return queues, nil
}
