// Package session provides the Redis-backed access-token revocation list.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore records revoked access-token IDs (jti) until the token
// would have expired anyway. Keys carry a TTL equal to the token's remaining
// life, so the list never grows past the set of still-valid tokens.
type RevocationStore struct {
	client *redis.Client
	prefix string
}

// NewRevocationStore connects to Redis and verifies the connection.
func NewRevocationStore(redisURL string) (*RevocationStore, error) {
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

	return &RevocationStore{
		client: client,
		prefix: "revoked:",
	}, nil
}

// NewRevocationStoreWithClient creates a store from an existing Redis client.
func NewRevocationStoreWithClient(client *redis.Client) *RevocationStore {
	return &RevocationStore{
		client: client,
		prefix: "revoked:",
	}
}

func (s *RevocationStore) key(jti string) string {
	return s.prefix + jti
}

// Revoke marks a token ID as revoked for the remainder of its lifetime.
// A non-positive ttl means the token has already expired naturally and
// nothing needs to be recorded.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token ID is on the revocation list.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (s *RevocationStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RevocationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
