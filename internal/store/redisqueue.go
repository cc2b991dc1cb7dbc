package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// RedisQueue keeps pending trips in a Redis list, oldest at the head.
type RedisQueue struct {
	client redis.Cmdable
	key    string
}

func NewRedisQueue(client redis.Cmdable, key string) *RedisQueue {
	if key == "" {
		key = pendingKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Append(ctx context.Context, t trip.DetectedTrip) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("store: redis push: %w", err)
	}
	return nil
}

func (q *RedisQueue) ReadAll(ctx context.Context) ([]trip.DetectedTrip, error) {
	items, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis range: %w", err)
	}
	trips := make([]trip.DetectedTrip, 0, len(items))
	for i, item := range items {
		var t trip.DetectedTrip
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("store: redis item %d: %w", i, err)
		}
		trips = append(trips, t)
	}
	return trips, nil
}

func (q *RedisQueue) Replace(ctx context.Context, trips []trip.DetectedTrip) error {
	values := make([]any, 0, len(trips))
	for _, t := range trips {
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		values = append(values, b)
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, q.key)
		if len(values) > 0 {
			pipe.RPush(ctx, q.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis replace: %w", err)
	}
	return nil
}

func (q *RedisQueue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("store: redis clear: %w", err)
	}
	return nil
}
