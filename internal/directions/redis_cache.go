package directions

import (
	"context"
	"os"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"itinsync/internal/metrics"
)

// RedisCache wraps a Provider with a shared estimate cache so repeated
// reorders over the same leg do not re-query the routing service.
type RedisCache struct {
	Next Provider
	rdb  *redis.Client
	TTL  time.Duration
}

func NewRedisCache(next Provider) (*RedisCache, error) {
	opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
	if err != nil {
		return nil, err
	}
	return &RedisCache{Next: next, rdb: redis.NewClient(opt), TTL: 6 * time.Hour}, nil
}

func (c *RedisCache) Estimate(ctx context.Context, origin, destination, mode string) (int, error) {
	key := "directions:" + mode + ":" + origin + "|" + destination
	if v, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if n, err := strconv.Atoi(v); err == nil {
			metrics.DirectionsLookups.WithLabelValues("cache", "ok").Inc()
			return n, nil
		}
	}
	n, err := c.Next.Estimate(ctx, origin, destination, mode)
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Set(ctx, key, strconv.Itoa(n), c.TTL).Err()
	return n, nil
}
