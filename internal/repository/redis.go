package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisDetailCache stores one JSON document per job under detail:{job_id}.
type RedisDetailCache struct {
	client *redis.Client
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisDetailCache(client *redis.Client) *RedisDetailCache {
	return &RedisDetailCache{client: client}
}

func detailKey(jobID int64) string {
	return fmt.Sprintf("detail:%d", jobID)
}

func (r *RedisDetailCache) GetDetails(ctx context.Context, jobIDs []int64) (map[int64]models.Enrichment, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	found := make(map[int64]models.Enrichment, len(jobIDs))
	if len(jobIDs) == 0 {
		return found, nil
	}

	keys := make([]string, len(jobIDs))
	for i, id := range jobIDs {
		keys[i] = detailKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get details from redis: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e models.Enrichment
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			// a corrupt entry is a miss
			continue
		}
		found[jobIDs[i]] = e
	}
	return found, nil
}

func (r *RedisDetailCache) SetDetails(ctx context.Context, details map[int64]models.Enrichment, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(details) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for id, d := range details {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal detail %d: %w", id, err)
		}
		pipe.Set(ctx, detailKey(id), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set details in redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the client if there is one.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
