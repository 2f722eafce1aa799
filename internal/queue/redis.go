package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"brandgen/internal/domain"
)

// Each queue owns these keys, hash-tagged so scripts touch one cluster slot:
//
//	ready     ZSET  job -> priority band * 1e12 + enqueue sequence
//	delayed   ZSET  job -> visible-at (unix ms)
//	inflight  ZSET  job -> lease deadline (unix ms)
//	scores    HASH  job -> ready score, kept until ack so redelivery keeps its place
//	leases    HASH  job -> lease token
//	attempts  HASH  job -> delivery count
//	seq       STRING enqueue counter
const bandWidth = 1_000_000_000_000

var enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  local score = redis.call('HGET', KEYS[4], id)
  if score then
    redis.call('ZADD', KEYS[1], score, id)
  end
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('HDEL', KEYS[5], id)
  local score = redis.call('HGET', KEYS[4], id)
  if score then
    redis.call('ZADD', KEYS[1], score, id)
  end
end
local limit = tonumber(ARGV[3])
if limit > 0 and redis.call('ZCARD', KEYS[3]) >= limit then
  return {2}
end
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
  return {0}
end
local id = head[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[3], ARGV[2], id)
redis.call('HSET', KEYS[5], id, ARGV[4])
local attempt = redis.call('HINCRBY', KEYS[6], id, 1)
return {1, id, attempt}
`)

var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

var nackScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if tonumber(ARGV[3]) <= tonumber(ARGV[4]) then
  local score = redis.call('HGET', KEYS[5], ARGV[1])
  if not score then
    score = ARGV[4]
  end
  redis.call('ZADD', KEYS[4], score, ARGV[1])
else
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
end
return 1
`)

var touchScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

var removeScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1])
if removed == 0 then
  return 0
end
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

// Redis implements Queue on sorted sets driven by Lua scripts, so every
// state change of a message is atomic.
type Redis struct {
	rdb        redis.UniversalClient
	prefix     string
	visibility time.Duration
	limits     map[string]int
	now        func() time.Time
}

// Option configures a Redis queue.
type Option func(*Redis)

func WithPrefix(prefix string) Option { return func(r *Redis) { r.prefix = prefix } }

func WithVisibilityTimeout(d time.Duration) Option {
	return func(r *Redis) {
		if d > 0 {
			r.visibility = d
		}
	}
}

// WithLimit overrides the in-flight ceiling of one queue. Zero disables it.
func WithLimit(queue string, limit int) Option {
	return func(r *Redis) { r.limits[queue] = limit }
}

func WithClock(now func() time.Time) Option { return func(r *Redis) { r.now = now } }

// NewRedis builds a queue whose ceilings default to the queue specs.
func NewRedis(rdb redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{
		rdb:        rdb,
		prefix:     "brandgen",
		visibility: 2 * time.Minute,
		limits:     make(map[string]int),
		now:        time.Now,
	}
	for _, s := range specs {
		r.limits[s.Name] = s.Concurrency
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VisibilityTimeout is how long a lease lasts without a Touch.
func (r *Redis) VisibilityTimeout() time.Duration { return r.visibility }

type keys struct {
	ready, delayed, inflight, scores, leases, attempts, seq string
}

func (r *Redis) keys(queue string) keys {
	base := fmt.Sprintf("%s:queue:{%s}", r.prefix, queue)
	return keys{
		ready:    base + ":ready",
		delayed:  base + ":delayed",
		inflight: base + ":inflight",
		scores:   base + ":scores",
		leases:   base + ":leases",
		attempts: base + ":attempts",
		seq:      base + ":seq",
	}
}

func (r *Redis) nowMillis() int64 { return r.now().UnixMilli() }

func (r *Redis) Enqueue(ctx context.Context, queue string, msg Message) error {
	if msg.JobID == "" {
		return fmt.Errorf("queue: job id required")
	}
	k := r.keys(queue)
	seq, err := r.rdb.Incr(ctx, k.seq).Result()
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", queue, err)
	}
	band := int64(domain.MaxPriority - domain.ClampPriority(msg.Priority))
	score := strconv.FormatInt(band*bandWidth+seq, 10)
	if err := enqueueScript.Run(ctx, r.rdb, []string{k.ready, k.scores}, msg.JobID, score).Err(); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", queue, err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context, queue string) (*Delivery, error) {
	k := r.keys(queue)
	now := r.nowMillis()
	token := uuid.NewString()
	res, err := dequeueScript.Run(ctx, r.rdb,
		[]string{k.ready, k.delayed, k.inflight, k.scores, k.leases, k.attempts},
		now, now+r.visibility.Milliseconds(), r.limits[queue], token,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue %s: %w", queue, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("queue: dequeue %s: empty script reply", queue)
	}
	switch status, _ := res[0].(int64); status {
	case 0:
		return nil, ErrEmpty
	case 2:
		return nil, ErrSaturated
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("queue: dequeue %s: malformed script reply", queue)
	}
	jobID, _ := res[1].(string)
	attempt, _ := res[2].(int64)
	return &Delivery{Queue: queue, JobID: jobID, Token: token, Attempt: int(attempt)}, nil
}

func (r *Redis) Ack(ctx context.Context, d *Delivery) error {
	k := r.keys(d.Queue)
	ok, err := ackScript.Run(ctx, r.rdb, []string{k.inflight, k.scores, k.leases, k.attempts}, d.JobID, d.Token).Int()
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", d.JobID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *Redis) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	k := r.keys(d.Queue)
	now := r.nowMillis()
	if delay < 0 {
		delay = 0
	}
	ok, err := nackScript.Run(ctx, r.rdb,
		[]string{k.inflight, k.leases, k.delayed, k.ready, k.scores},
		d.JobID, d.Token, now+delay.Milliseconds(), now,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: nack %s: %w", d.JobID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *Redis) Touch(ctx context.Context, d *Delivery) error {
	k := r.keys(d.Queue)
	deadline := r.nowMillis() + r.visibility.Milliseconds()
	ok, err := touchScript.Run(ctx, r.rdb, []string{k.inflight, k.leases}, d.JobID, d.Token, deadline).Int()
	if err != nil {
		return fmt.Errorf("queue: touch %s: %w", d.JobID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, queue, jobID string) (bool, error) {
	k := r.keys(queue)
	ok, err := removeScript.Run(ctx, r.rdb, []string{k.ready, k.delayed, k.scores, k.attempts}, jobID).Int()
	if err != nil {
		return false, fmt.Errorf("queue: remove %s: %w", jobID, err)
	}
	return ok == 1, nil
}

func (r *Redis) Stats(ctx context.Context, queue string) (Stats, error) {
	k := r.keys(queue)
	pipe := r.rdb.Pipeline()
	ready := pipe.ZCard(ctx, k.ready)
	delayed := pipe.ZCard(ctx, k.delayed)
	inflight := pipe.ZCard(ctx, k.inflight)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue: stats %s: %w", queue, err)
	}
	return Stats{Ready: ready.Val(), Delayed: delayed.Val(), InFlight: inflight.Val()}, nil
}

var _ Queue = (*Redis)(nil)
