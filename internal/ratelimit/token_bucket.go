// Package ratelimit guards outbound API quota with token buckets: a redis bucket shared
// by every process, or an in-process one when redis is not configured. Both refill
// continuously and can be corrected with what the remote API reports about itself.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of taking one call from a quota.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Observation is the remote side's view of its own quota, usually read from response
// headers. A zero Remaining with a future ResetAt blocks the bucket until then.
type Observation struct {
	Remaining int64
	ResetAt   time.Time
}

const (
	modeTake    = "take"
	modeObserve = "observe"
)

// quotaScript keeps tokens, refilled_at and blocked_until in one hash per subject.
// "take" spends one token; "observe" lowers tokens to the remote remaining count and
// extends blocked_until when the remote quota is empty.
var quotaScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])
local mode = ARGV[5]

local state = redis.call("HMGET", key, "tokens", "refilled_at", "blocked_until")
local tokens = tonumber(state[1]) or capacity
local refilled_at = tonumber(state[2]) or now_ms
local blocked_until = tonumber(state[3]) or 0

if now_ms > refilled_at then
  tokens = math.min(capacity, tokens + (now_ms - refilled_at) * refill_per_ms)
  refilled_at = now_ms
end

local allowed = 0
local wait_ms = 0
if mode == "observe" then
  local remote_remaining = tonumber(ARGV[6])
  local remote_reset_ms = tonumber(ARGV[7])
  tokens = math.min(tokens, remote_remaining)
  if remote_remaining <= 0 and remote_reset_ms > now_ms then
    blocked_until = math.max(blocked_until, remote_reset_ms)
  end
  allowed = 1
elseif blocked_until > now_ms then
  wait_ms = blocked_until - now_ms
elseif tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) / refill_per_ms)
end

redis.call("HSET", key, "tokens", tokens, "refilled_at", refilled_at, "blocked_until", blocked_until)
redis.call("PEXPIRE", key, math.max(ttl_ms, blocked_until - now_ms))

return {allowed, math.floor(tokens), wait_ms}
`)

// RedisTokenBucket keeps quota state in redis so every api replica spends from the
// same GitHub allowance.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if err := validate(capacity, window); err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "imagetea:quota"
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(max(1, window.Milliseconds())),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

// Allow takes one call from subject's quota.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.run(ctx, subject, modeTake, 0, 0)
}

// Observe corrects subject's quota with the remote count.
func (l *RedisTokenBucket) Observe(ctx context.Context, subject string, obs Observation) error {
	resetMS := int64(0)
	if !obs.ResetAt.IsZero() {
		resetMS = obs.ResetAt.UTC().UnixMilli()
	}
	_, err := l.run(ctx, subject, modeObserve, max(0, obs.Remaining), resetMS)
	return err
}

func (l *RedisTokenBucket) run(ctx context.Context, subject, mode string, remoteRemaining, remoteResetMS int64) (Decision, error) {
	args := []any{
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		l.ttl.Milliseconds(),
		mode,
		remoteRemaining,
		remoteResetMS,
	}
	raw, err := quotaScript.Run(ctx, l.client, []string{l.key(subject)}, args...).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run quota script (%s): %w", mode, err)
	}
	return parseDecision(raw)
}

func (l *RedisTokenBucket) key(subject string) string {
	return l.keyPrefix + ":" + normalizeSubject(subject)
}

func parseDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected quota script reply %T", raw)
	}

	var fields [3]int64
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Decision{}, fmt.Errorf("quota script reply field %d: %w", i, err)
		}
		fields[i] = n
	}

	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}

func normalizeSubject(subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		return defaultSubject
	}
	return subject
}
