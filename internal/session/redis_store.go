// Package session provides Redis-backed storage for refresh tokens.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qasheet/api/internal/store"
)

// sessionData is what we persist per refresh token hash.
type sessionData struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps refresh sessions in Redis with TTL-based expiry so revoked
// and expired tokens disappear without a sweeper.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "refresh:"}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by callers that
// share one connection pool across packages.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "refresh:"}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores a refresh token hash with expiry matching the
// token's lifetime.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	data := sessionData{UserID: userID, CreatedAt: time.Now()}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh session already expired")
	}

	if err := s.client.Set(ctx, s.key(tokenHash), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a refresh token hash to the user it was
// issued for. Expired or revoked tokens return an error.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return store.User{}, fmt.Errorf("refresh session not found or expired")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal session: %w", err)
	}

	return store.User{ID: data.UserID}, nil
}

// RevokeRefreshSession removes a refresh token. Revoking a missing token is
// not an error.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
