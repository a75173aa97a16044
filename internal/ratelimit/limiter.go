// Package ratelimit throttles repeated password-login attempts per
// requester principal, mirroring a Redis cache wrapper's
// connection-and-counter shape for the distributed variant and using
// golang.org/x/time/rate for the single-process one.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/time/rate"
)

// Limiter decides whether a login attempt for principal should proceed.
type Limiter interface {
	Allow(ctx context.Context, principal string) (bool, error)
}

// Local is a single-process Limiter backed by one golang.org/x/time/rate
// limiter per principal, suitable for a single webkdcd instance or as the
// fallback when no Redis endpoint is configured.
type Local struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewLocal builds a Local limiter allowing burst immediate attempts and
// refilling at r attempts per second thereafter, per principal.
func NewLocal(r rate.Limit, burst int) *Local {
	return &Local{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (l *Local) Allow(ctx context.Context, principal string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[principal]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[principal] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

// Distributed is a Redis-backed Limiter shared across every webkdcd
// instance, a fixed-window counter built on SetexCtx/GetCtx-style
// increment-and-expire bookkeeping.
type Distributed struct {
	client *redis.Client
	max    int64
	window time.Duration
}

// NewDistributed builds a Distributed limiter permitting at most max
// attempts per principal within a fixed window that opens at that
// principal's first counted attempt.
func NewDistributed(client *redis.Client, max int64, window time.Duration) *Distributed {
	return &Distributed{client: client, max: max, window: window}
}

func (d *Distributed) Allow(ctx context.Context, principal string) (bool, error) {
	key := fmt.Sprintf("webkdcd:login_attempts:%s", principal)
	count, err := d.client.Incr(ctx, key).Result()
	if err != nil {
		logx.WithContext(ctx).Errorf("ratelimit: redis incr failed for %s: %v", principal, err)
		return false, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := d.client.Expire(ctx, key, d.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}
	return count <= d.max, nil
}
