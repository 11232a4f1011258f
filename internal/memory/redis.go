package memory

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	apperrors "insightpipe/internal/errors"
)

// KeyPrefix namespaces session hashes.
const KeyPrefix = "insight:memory:"

// RedisStore keeps each session as a hash whose fields hold JSON values.
// HSET overwrites only the given fields, which is the shallow merge.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid redis url", err)
	}
	return NewRedisStore(redis.NewClient(opts), logger), nil
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger.With(slog.String("component", "memory_store"))}
}

func key(session string) string { return KeyPrefix + session }

func (s *RedisStore) StoreContext(ctx context.Context, session string, values map[string]any) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			return apperrors.NewValidationError("session context value " + k + " is not JSON encodable")
		}
		fields[k] = string(encoded)
	}
	if err := s.client.HSet(ctx, key(session), fields).Err(); err != nil {
		return apperrors.NewStorageError("failed to store session context", err).WithContext("session", session)
	}
	s.logger.InfoContext(ctx, "context_stored", slog.String("session", session), slog.Int("keys", len(values)))
	return nil
}

func (s *RedisStore) RecallContext(ctx context.Context, session string) (map[string]any, error) {
	if err := ValidateSession(session); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, key(session)).Result()
	if err != nil {
		return nil, apperrors.NewStorageError("failed to recall session context", err).WithContext("session", session)
	}
	out := make(map[string]any, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, apperrors.NewCorruptionError("session context field "+k+" is not valid JSON", err)
		}
		out[k] = v
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, session string) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	if err := s.client.Del(ctx, key(session)).Err(); err != nil {
		return apperrors.NewStorageError("failed to clear session context", err).WithContext("session", session)
	}
	s.logger.InfoContext(ctx, "context_cleared", slog.String("session", session))
	return nil
}

// Close releases the redis connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
