package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// ErrLeaseHeld возвращается, если задачу уже выполняет другой экземпляр.
var ErrLeaseHeld = errors.New("lease is held by another runner")

// releaseLease снимает аренду, только если она всё ещё принадлежит владельцу.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache реализует domain.Cache и аренды периодических задач через Redis.
type RedisCache struct {
	client   *redis.Client
	newToken func() string
}

var _ domain.Cache = (*RedisCache)(nil)

// Connect создаёт клиента Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, newToken: uuid.NewString}
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке ключ снимается.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "cache", start, err)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(context.WithoutCancel(ctx), key).Err()
		return err
	}
	return nil
}

// Lease выполняет fn под арендой key: если аренда занята, возвращает ErrLeaseHeld.
// По завершении аренда снимается, если её за это время не перехватил другой
// экземпляр после истечения ttl.
func (c *RedisCache) Lease(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token := c.newToken()
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "lease", start, err)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseHeld
	}
	defer func() {
		_ = releaseLease.Run(context.WithoutCancel(ctx), c.client, []string{key}, token).Err()
	}()
	return fn(ctx)
}
