package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_session_agent/pkg"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// StateTTLSlack keeps Redis states alive a little past their session timeout
const StateTTLSlack = 10 * time.Minute

// RedisStateStore persists conversation states in Redis as JSON.
// Saves and touches refresh the key TTL, so abandoned states expire on their own.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore connects to redisURL and verifies the connection
func NewRedisStateStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStateStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("%w: REDIS_URL is required", pkg.ErrConfiguration)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	store := NewRedisStateStoreFromClient(redis.NewClient(opts), ttl)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return store, nil
}

// NewRedisStateStoreFromClient wraps an existing client
func NewRedisStateStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultSessionTimeout
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func stateKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s", sessionID)
}

// Load reads and decodes the state stored for sessionID
func (r *RedisStateStore) Load(ctx context.Context, sessionID string) (*pkg.ConversationState, error) {
	data, err := r.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}

	var state pkg.ConversationState
	if err := sonic.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation state: %w", err)
	}
	return &state, nil
}

// Save encodes state and stores it with the configured TTL
func (r *RedisStateStore) Save(ctx context.Context, sessionID string, state *pkg.ConversationState) error {
	data, err := sonic.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}

	if err := r.client.Set(ctx, stateKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set conversation state: %w", err)
	}
	return nil
}

// Touch resets the TTL of an existing state
func (r *RedisStateStore) Touch(ctx context.Context, sessionID string) error {
	if err := r.client.Expire(ctx, stateKey(sessionID), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh conversation state ttl: %w", err)
	}
	return nil
}

// Discard deletes the state stored for sessionID
func (r *RedisStateStore) Discard(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, stateKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}

// Ping tests the Redis connection
func (r *RedisStateStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStateStore) Close() error {
	return r.client.Close()
}
