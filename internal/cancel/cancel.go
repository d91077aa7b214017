// Package cancel implements the shared cancellation flag store.
//
// A flag is a presence-only record keyed by thread id. Any connection bound
// to a thread may set it; the streaming loop for that thread's active turn
// consumes it. The TTL is a safety net against orphaned flags when no turn
// is in flight to consume them.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlagTTL bounds how long an unconsumed cancellation request stays visible.
const FlagTTL = 60 * time.Second

// Store is the cancellation flag store shared by all connections.
//
// Implementations must be safe for concurrent use. IsCancelled fails open:
// when the backing store is unreachable it reports false rather than
// spuriously killing an in-flight turn.
type Store interface {
	// Request marks the thread's active turn for cancellation.
	Request(ctx context.Context, threadID string) error

	// IsCancelled reports whether a cancellation is pending for the thread.
	IsCancelled(ctx context.Context, threadID string) bool

	// Clear consumes a pending cancellation flag.
	Clear(ctx context.Context, threadID string) error
}

// RedisStore keeps cancellation flags in Redis so that cancellation works
// across processes.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed flag store.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger, ttl: FlagTTL}
}

func cancelKey(threadID string) string {
	return "cancel:" + threadID
}

// Request sets the flag with the safety-net TTL.
func (s *RedisStore) Request(ctx context.Context, threadID string) error {
	if threadID == "" {
		return errors.New("thread id required")
	}
	if err := s.client.Set(ctx, cancelKey(threadID), "1", s.ttl).Err(); err != nil {
		s.logger.Error("cancel request failed", "thread_id", threadID, "error", err)
		return err
	}
	s.logger.Info("cancellation requested", "thread_id", threadID)
	return nil
}

// IsCancelled reports a pending flag. Store errors fail open.
func (s *RedisStore) IsCancelled(ctx context.Context, threadID string) bool {
	if threadID == "" {
		return false
	}
	n, err := s.client.Exists(ctx, cancelKey(threadID)).Result()
	if err != nil {
		s.logger.Error("cancel check failed", "thread_id", threadID, "error", err)
		return false
	}
	return n == 1
}

// Clear removes the flag after it has been observed.
func (s *RedisStore) Clear(ctx context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}
	if err := s.client.Del(ctx, cancelKey(threadID)).Err(); err != nil {
		s.logger.Error("cancel clear failed", "thread_id", threadID, "error", err)
		return err
	}
	return nil
}
