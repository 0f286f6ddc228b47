// Package ratelimit bounds payment initiation per calling client with a
// redis-backed sliding window.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rl:payments:"

// Limiter counts payment-initiation attempts per client. Each attempt is
// a sorted-set member scored by its nanosecond timestamp; members older
// than the window are pruned on every call.
type Limiter struct {
	Client *redis.Client
	Window time.Duration
	Max    int
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow records one attempt for the client and reports whether it fits
// in the window. A nil client or non-positive thresholds disable the
// limiter entirely.
func (l Limiter) Allow(ctx context.Context, client string) (Decision, error) {
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return Decision{Allowed: true, Remaining: l.Max, ResetAt: time.Now().Add(l.Window)}, nil
	}

	now := time.Now()
	key := keyPrefix + client
	cutoff := strconv.FormatInt(now.Add(-l.Window).UnixNano(), 10)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{ResetAt: now.Add(l.Window)}, err
	}

	seen := int(count.Val())
	remaining := l.Max - seen
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   seen <= l.Max,
		Remaining: remaining,
		ResetAt:   now.Add(l.Window),
	}, nil
}
