package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// DefaultVisibility: сколько задача может находиться в обработке, прежде
// чем Reclaim вернёт её в очередь.
const DefaultVisibility = 10 * time.Minute

// reclaimScript возвращает в очередь задачи с истёкшим сроком обработки.
// Записи processing без срока (воркер упал сразу после BLMOVE) получают
// срок ARGV[2] и будут возвращены следующим проходом.
var reclaimScript = redis.NewScript(`
local items = redis.call("LRANGE", KEYS[1], 0, -1)
for _, raw in ipairs(items) do
	if not redis.call("ZSCORE", KEYS[2], raw) then
		redis.call("ZADD", KEYS[2], ARGV[2], raw)
	end
end
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
local moved = 0
for _, raw in ipairs(expired) do
	redis.call("ZREM", KEYS[2], raw)
	if redis.call("LREM", KEYS[1], 1, raw) > 0 then
		redis.call("RPUSH", KEYS[3], raw)
		moved = moved + 1
	end
end
return moved
`)

// RedisDeliveryQueue реализует надёжную очередь на базе Redis lists:
// полученная задача переносится в список processing до подтверждения, а
// срок её обработки хранится в sorted set inflight.
type RedisDeliveryQueue struct {
	client     *redis.Client
	key        string
	processing string
	inflight   string
	block      time.Duration
	visibility time.Duration
	now        func() time.Time
}

var _ domain.DeliveryQueue = (*RedisDeliveryQueue)(nil)

// NewRedisDeliveryQueue создаёт очередь по указанному ключу.
func NewRedisDeliveryQueue(client *redis.Client, key string) *RedisDeliveryQueue {
	return &RedisDeliveryQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
		inflight:   key + ":inflight",
		block:      time.Second,
		visibility: DefaultVisibility,
		now:        time.Now,
	}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDeliveryQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisDeliveryQueue) Receive(ctx context.Context) (domain.DeliveryJob, domain.DeliveryAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DeliveryJob{}, nil, err
		}

		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.block).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DeliveryJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DeliveryJob{}, nil, err
		}

		deadline := q.now().Add(q.visibility)
		if err := q.client.ZAdd(ctx, q.inflight, redis.Z{Score: float64(deadline.UnixMilli()), Member: raw}).Err(); err != nil {
			return domain.DeliveryJob{}, nil, fmt.Errorf("track job: %w", err)
		}

		ack := func(success bool) error {
			ackCtx := context.WithoutCancel(ctx)
			pipe := q.client.TxPipeline()
			pipe.LRem(ackCtx, q.processing, 1, raw)
			pipe.ZRem(ackCtx, q.inflight, raw)
			if !success {
				pipe.LPush(ackCtx, q.key, raw)
			}
			_, err := pipe.Exec(ackCtx)
			return err
		}

		var job domain.DeliveryJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = ack(true)
			return domain.DeliveryJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, ack, nil
	}
}

// Reclaim возвращает в очередь задачи, которые находятся в обработке дольше
// срока видимости, и сообщает их число.
func (q *RedisDeliveryQueue) Reclaim(ctx context.Context) (int, error) {
	now := q.now()
	start := time.Now()
	moved, err := reclaimScript.Run(ctx, q.client,
		[]string{q.processing, q.inflight, q.key},
		now.UnixMilli(), now.Add(q.visibility).UnixMilli(),
	).Int()
	metrics.ObserveNetworkRequest("redis", "reclaim", q.key, start, err)
	if err != nil {
		return 0, fmt.Errorf("reclaim jobs: %w", err)
	}
	return moved, nil
}

// RunReclaimer периодически вызывает Reclaim до отмены ctx.
func (q *RedisDeliveryQueue) RunReclaimer(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := q.Reclaim(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error().Err(err).Str("queue", q.key).Msg("queue: не удалось вернуть зависшие задачи")
				}
				continue
			}
			if moved > 0 {
				logger.Warn().Int("jobs", moved).Str("queue", q.key).Msg("queue: зависшие задачи возвращены в очередь")
			}
		}
	}
}
