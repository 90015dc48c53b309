// Package ratelimit hands out per-key request budgets. Replicas share a
// Redis token bucket; a single process can use the in-memory limiter.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Limit() int
}

// Config describes a bucket of Capacity tokens refilled by Refill tokens
// every Interval.
type Config struct {
	Capacity int
	Refill   int
	Interval time.Duration
	Prefix   string
}

func (c Config) ttl() time.Duration {
	if c.Refill <= 0 {
		return c.Interval
	}
	// Long enough for an empty bucket to fill up again.
	n := (c.Capacity + c.Refill - 1) / c.Refill
	return time.Duration(n+1) * c.Interval
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now_ms
end

if interval_ms > 0 and refill > 0 then
	local intervals = math.floor(math.max(0, now_ms - last) / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals * refill)
		last = last + intervals * interval_ms
	end
end

local allowed = 0
local retry_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_ms = math.max(0, interval_ms - (now_ms - last))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last)
redis.call('PEXPIRE', key, ttl_ms)
return { allowed, tokens, retry_ms }
`)

// Redis runs the token bucket as one Lua script so replicas agree.
type Redis struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

func NewRedis(client *redis.Client, cfg Config) *Redis {
	return &Redis{client: client, cfg: cfg, now: time.Now}
}

func (r *Redis) Limit() int { return r.cfg.Capacity }

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	vals, err := bucketScript.Run(ctx, r.client, []string{r.cfg.Prefix + key},
		r.now().UnixMilli(),
		r.cfg.Capacity,
		r.cfg.Refill,
		r.cfg.Interval.Milliseconds(),
		r.cfg.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit script: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("ratelimit script: unexpected result %v", vals)
	}
	return Decision{
		Allowed:    asInt64(vals[0]) == 1,
		Remaining:  asInt64(vals[1]),
		RetryAfter: time.Duration(asInt64(vals[2])) * time.Millisecond,
	}, nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Memory keeps one rate.Limiter per key. Keys idle for longer than the
// refill window of a full bucket are dropped on the next sweep.
type Memory struct {
	mu        sync.Mutex
	cfg       Config
	every     rate.Limit
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func NewMemory(cfg Config) *Memory {
	every := rate.Inf
	if cfg.Refill > 0 && cfg.Interval > 0 {
		every = rate.Limit(float64(cfg.Refill) / cfg.Interval.Seconds())
	}
	return &Memory{
		cfg:      cfg,
		every:    every,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (m *Memory) Limit() int { return m.cfg.Capacity }

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(m.every, m.cfg.Capacity)}
		m.visitors[key] = v
	}
	v.lastSeen = now

	res := v.limiter.ReserveN(now, 1)
	if !res.OK() {
		return Decision{}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	remaining := int64(v.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

func (m *Memory) sweep(now time.Time) {
	idle := m.cfg.ttl()
	if idle <= 0 || now.Sub(m.lastSweep) < idle {
		return
	}
	m.lastSweep = now
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(m.visitors, key)
		}
	}
}

// Len reports how many keys are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visitors)
}
