package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client used for the attendance event queue and
// the shared rate limiter.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to the given logical database. Timeouts are kept
// short: a recognition request must not hang on queue publication or
// rate-limit bookkeeping.
func NewRedis(addr string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
