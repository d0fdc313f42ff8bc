package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker pings the shared cache every instance is handed at
// provision time. The hub itself does not read through it, but handing
// out a dead cache endpoint breaks every tenant at once, so readiness
// covers it.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedis builds a checker over client.
func NewRedis(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string { return "cache" }

func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return result(start, false, fmt.Sprintf("ping failed: %v", err))
	}
	return result(start, true, "connected")
}
