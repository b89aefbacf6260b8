package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broker is the per-project delayed task queue used by the lifecycle service.
type Broker interface {
	Enqueue(ctx context.Context, key string, task Task, opts Options) error
	Purge(ctx context.Context, key string) error
	Drain(ctx context.Context, key string) (int, error)
	Pause(ctx context.Context, key string) error
	Resume(ctx context.Context, key string) error
	IsPaused(ctx context.Context, key string) (bool, error)
	RecoverStale(ctx context.Context, key string) (int, error)
	RecoverAll(ctx context.Context, key string) (int, error)
	Counts(ctx context.Context, key string) (Counts, error)
}

// claimScript moves the earliest ready task to the active set.
// KEYS: delayed, active, tasks, paused, attempts. ARGV: now, lease deadline.
var claimScript = redis.NewScript(`
if redis.call("exists", KEYS[4]) == 1 then
  return false
end
local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call("zrem", KEYS[1], id)
local body = redis.call("hget", KEYS[3], id)
if not body then
  redis.call("hdel", KEYS[5], id)
  return false
end
redis.call("zadd", KEYS[2], ARGV[2], id)
local attempt = redis.call("hincrby", KEYS[5], id, 1)
return {body, attempt}
`)

// retryScript reschedules an active task unless it was purged meanwhile.
// KEYS: delayed, active, tasks. ARGV: id, ready-at.
var retryScript = redis.NewScript(`
redis.call("zrem", KEYS[2], ARGV[1])
if redis.call("hexists", KEYS[3], ARGV[1]) == 0 then
  return 0
end
redis.call("zadd", KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// drainScript drops every waiting task and keeps in-flight ones.
// KEYS: delayed, tasks, attempts.
var drainScript = redis.NewScript(`
local ids = redis.call("zrange", KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  redis.call("hdel", KEYS[2], id)
  redis.call("hdel", KEYS[3], id)
end
redis.call("del", KEYS[1])
return #ids
`)

// recoverScript returns leased tasks with a deadline up to ARGV[1] to the
// delayed set, ready at ARGV[2].
// KEYS: active, delayed, tasks. ARGV: max lease deadline, ready-at.
var recoverScript = redis.NewScript(`
local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1])
local n = 0
for _, id in ipairs(ids) do
  redis.call("zrem", KEYS[1], id)
  if redis.call("hexists", KEYS[3], id) == 1 then
    redis.call("zadd", KEYS[2], ARGV[2], id)
    n = n + 1
  end
end
return n
`)

// RedisBroker keeps one queue per key in Redis:
//
//	<prefix>:{key}:delayed   zset, score = ready-at (ms)
//	<prefix>:{key}:active    zset, score = lease deadline (ms)
//	<prefix>:{key}:tasks     hash, id -> envelope
//	<prefix>:{key}:attempts  hash, id -> attempts started
//	<prefix>:{key}:paused    flag
//	<prefix>:{key}:failed    capped list of exhausted tasks
type RedisBroker struct {
	rdb           *redis.Client
	prefix        string
	policy        Policy
	lease         time.Duration
	failedHistory int64
	now           func() time.Time
}

type BrokerOption func(*RedisBroker)

func WithPolicy(p Policy) BrokerOption {
	return func(b *RedisBroker) {
		if p.MaxAttempts > 0 {
			b.policy.MaxAttempts = p.MaxAttempts
		}
		if p.BackoffBase > 0 {
			b.policy.BackoffBase = p.BackoffBase
		}
	}
}

func WithLease(d time.Duration) BrokerOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.lease = d
		}
	}
}

func WithFailedHistory(n int) BrokerOption {
	return func(b *RedisBroker) {
		if n > 0 {
			b.failedHistory = int64(n)
		}
	}
}

// WithClock replaces time.Now, for tests that step through delays.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *RedisBroker) { b.now = now }
}

func NewRedisBroker(rdb *redis.Client, prefix string, opts ...BrokerOption) *RedisBroker {
	b := &RedisBroker{
		rdb:           rdb,
		prefix:        prefix,
		policy:        DefaultPolicy,
		lease:         5 * time.Minute,
		failedHistory: 50,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) Policy() Policy { return b.policy }

type queueKeys struct {
	delayed, active, tasks, attempts, paused, failed string
}

func (b *RedisBroker) keys(key string) queueKeys {
	base := fmt.Sprintf("%s:{%s}", b.prefix, key)
	return queueKeys{
		delayed:  base + ":delayed",
		active:   base + ":active",
		tasks:    base + ":tasks",
		attempts: base + ":attempts",
		paused:   base + ":paused",
		failed:   base + ":failed",
	}
}

func (b *RedisBroker) nowMS() int64 {
	return b.now().UnixMilli()
}

func (b *RedisBroker) Enqueue(ctx context.Context, key string, task Task, opts Options) error {
	if task.ID == "" {
		return errors.New("queue: task id is required")
	}
	task.MaxAttempts = opts.MaxAttempts
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = b.policy.MaxAttempts
	}
	backoff := opts.BackoffBase
	if backoff <= 0 {
		backoff = b.policy.BackoffBase
	}
	task.BackoffMS = backoff.Milliseconds()
	now := b.nowMS()
	task.EnqueuedAt = now
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encode task %s: %w", task.ID, err)
	}

	k := b.keys(key)
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k.tasks, task.ID, body)
		pipe.HDel(ctx, k.attempts, task.ID)
		pipe.ZRem(ctx, k.active, task.ID)
		pipe.ZAdd(ctx, k.delayed, redis.Z{Score: float64(now + delay.Milliseconds()), Member: task.ID})
		return nil
	})
	return err
}

// Claim leases the earliest ready task. It returns ErrEmpty when the queue
// is paused or nothing is due.
func (b *RedisBroker) Claim(ctx context.Context, key string) (*Task, error) {
	k := b.keys(key)
	now := b.nowMS()
	res, err := claimScript.Run(ctx, b.rdb,
		[]string{k.delayed, k.active, k.tasks, k.paused, k.attempts},
		now, now+b.lease.Milliseconds(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: unexpected claim reply %v", res)
	}
	body, _ := res[0].(string)
	attempt, _ := res[1].(int64)

	var task Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return nil, fmt.Errorf("queue: decode task: %w", err)
	}
	task.Attempt = int(attempt)
	return &task, nil
}

func (b *RedisBroker) Ack(ctx context.Context, key string, task Task) error {
	k := b.keys(key)
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.active, task.ID)
		pipe.HDel(ctx, k.tasks, task.ID)
		pipe.HDel(ctx, k.attempts, task.ID)
		return nil
	})
	return err
}

// Retry puts an active task back with the given delay. A task purged while
// in flight is not resurrected.
func (b *RedisBroker) Retry(ctx context.Context, key string, task Task, delay time.Duration) error {
	k := b.keys(key)
	return retryScript.Run(ctx, b.rdb,
		[]string{k.delayed, k.active, k.tasks},
		task.ID, b.nowMS()+delay.Milliseconds(),
	).Err()
}

// Fail removes an exhausted task and keeps a bounded record of it.
func (b *RedisBroker) Fail(ctx context.Context, key string, task Task, reason string) error {
	entry, err := json.Marshal(FailedEntry{
		ID:       task.ID,
		Reason:   reason,
		Attempts: task.Attempt,
		FailedAt: b.nowMS(),
	})
	if err != nil {
		return err
	}
	k := b.keys(key)
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.active, task.ID)
		pipe.HDel(ctx, k.tasks, task.ID)
		pipe.HDel(ctx, k.attempts, task.ID)
		pipe.LPush(ctx, k.failed, entry)
		pipe.LTrim(ctx, k.failed, 0, b.failedHistory-1)
		return nil
	})
	return err
}

func (b *RedisBroker) Failed(ctx context.Context, key string) ([]FailedEntry, error) {
	raw, err := b.rdb.LRange(ctx, b.keys(key).failed, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]FailedEntry, 0, len(raw))
	for _, r := range raw {
		var e FailedEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Purge deletes every trace of the queue, including in-flight leases.
func (b *RedisBroker) Purge(ctx context.Context, key string) error {
	k := b.keys(key)
	return b.rdb.Del(ctx, k.delayed, k.active, k.tasks, k.attempts, k.paused, k.failed).Err()
}

// Drain drops waiting and delayed tasks. In-flight tasks are left to finish.
func (b *RedisBroker) Drain(ctx context.Context, key string) (int, error) {
	k := b.keys(key)
	n, err := drainScript.Run(ctx, b.rdb, []string{k.delayed, k.tasks, k.attempts}).Int()
	return n, err
}

func (b *RedisBroker) Pause(ctx context.Context, key string) error {
	return b.rdb.Set(ctx, b.keys(key).paused, "1", 0).Err()
}

func (b *RedisBroker) Resume(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, b.keys(key).paused).Err()
}

func (b *RedisBroker) IsPaused(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.keys(key).paused).Result()
	return n == 1, err
}

// RecoverStale re-queues tasks whose lease expired, e.g. a worker stuck
// past its lease.
func (b *RedisBroker) RecoverStale(ctx context.Context, key string) (int, error) {
	k := b.keys(key)
	now := b.nowMS()
	return recoverScript.Run(ctx, b.rdb, []string{k.active, k.delayed, k.tasks}, now, now).Int()
}

// RecoverAll re-queues every leased task regardless of its deadline. Only
// safe while no consumer of the queue is alive, i.e. at process start.
func (b *RedisBroker) RecoverAll(ctx context.Context, key string) (int, error) {
	k := b.keys(key)
	return recoverScript.Run(ctx, b.rdb, []string{k.active, k.delayed, k.tasks}, "+inf", b.nowMS()).Int()
}

func (b *RedisBroker) Counts(ctx context.Context, key string) (Counts, error) {
	k := b.keys(key)
	var delayed, active, failed *redis.IntCmd
	var paused *redis.IntCmd
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		delayed = pipe.ZCard(ctx, k.delayed)
		active = pipe.ZCard(ctx, k.active)
		failed = pipe.LLen(ctx, k.failed)
		paused = pipe.Exists(ctx, k.paused)
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Delayed: delayed.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
		Paused:  paused.Val() == 1,
	}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
