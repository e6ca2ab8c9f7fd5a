//go:build integration

package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amber-ink/internal/domain"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("AMBER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AMBER_TEST_REDIS_ADDR не задан")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueueReclaimsStaleJobs(t *testing.T) {
	client := redisClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "amber-ink:test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key, key+":processing", key+":inflight") })
	q := NewRedisDeliveryQueue(client, key)
	now := time.Now()
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, domain.DeliveryJob{ID: "j1", Kind: domain.DeliveryJobTest, UserID: "u1"}))
	job, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)

	moved, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved, "job within visibility stays in processing")

	now = now.Add(DefaultVisibility + time.Second)
	moved, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	again, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", again.ID)
	require.NoError(t, ack(true))

	n, err := client.LLen(ctx, key+":processing").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = client.ZCard(ctx, key+":inflight").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisQueueReclaimsUntrackedJobs(t *testing.T) {
	client := redisClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "amber-ink:test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key, key+":processing", key+":inflight") })
	q := NewRedisDeliveryQueue(client, key)
	now := time.Now()
	q.now = func() time.Time { return now }

	require.NoError(t, client.LPush(ctx, key+":processing", `{"job_id":"orphan","kind":"test","user_id":"u1"}`).Err())

	moved, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	now = now.Add(DefaultVisibility + time.Second)
	moved, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	job, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orphan", job.ID)
	require.NoError(t, ack(true))
}
