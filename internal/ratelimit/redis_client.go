package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient dials addr and pings it before returning, failing fast
// with a wrapped error rather than handing back a client that will only
// fail on first use.
func NewRedisClient(log *zap.Logger, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Error("failed to connect to redis", zap.String("addr", addr), zap.Error(err))
		return nil, fmt.Errorf("ratelimit: connect to redis %s: %w", addr, err)
	}
	log.Info("connected to redis", zap.String("addr", addr))
	return client, nil
}
