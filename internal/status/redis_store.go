package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records as JSON strings under <prefix><job_id>
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store; ttl 0 keeps records forever
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(jobID string) string {
	return s.prefix + jobID
}

// Put overwrites the record and refreshes its expiry
func (s *RedisStore) Put(ctx context.Context, jobID string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	if err := s.client.Set(ctx, s.key(jobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job record: %w", err)
	}
	return nil
}

// Get returns ErrNotFound when the key is missing
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read job record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &record, nil
}
