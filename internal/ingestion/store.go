package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists job status records.
//
// GetStatus returns (nil, nil) when no record exists: absence is a normal
// terminal condition (jobs expire), not an error. Every SetStatus refreshes
// the record's TTL.
type Store interface {
	SetStatus(ctx context.Context, jobID string, status Status) error
	GetStatus(ctx context.Context, jobID string) (*Status, error)
	DeleteStatus(ctx context.Context, jobID string) error
}

// RedisStore keeps job records in Redis as JSON values.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed job store with the standard TTL.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: StatusTTL}
}

func statusKey(jobID string) string {
	return "ingestion:" + jobID
}

// SetStatus writes the record and refreshes its TTL.
func (s *RedisStore) SetStatus(ctx context.Context, jobID string, status Status) error {
	if jobID == "" {
		return errors.New("job id required")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, statusKey(jobID), data, s.ttl).Err()
}

// GetStatus reads the record, returning (nil, nil) when absent or expired.
func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	data, err := s.client.Get(ctx, statusKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// DeleteStatus removes the record.
func (s *RedisStore) DeleteStatus(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, statusKey(jobID)).Err()
}
