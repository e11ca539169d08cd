package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore remembers logged-out session IDs until their cookie would
// have expired anyway. Without it a stolen cookie stays valid after logout;
// the store is optional and the app runs without it when Redis is not
// configured.
type RevocationStore struct {
	client *redis.Client
	prefix string
}

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

	return &RevocationStore{client: client, prefix: "revoked:"}, nil
}

// NewRevocationStoreWithClient creates a store from an existing Redis client.
func NewRevocationStoreWithClient(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client, prefix: "revoked:"}
}

func (s *RevocationStore) key(jti string) string {
	return s.prefix + jti
}

// Revoke marks a session ID as logged out until the given instant.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// IsRevoked reports whether a session ID has been logged out.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.client.Get(ctx, s.key(jti)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup revoked session: %w", err)
	}
	return true, nil
}

// Close closes the Redis connection.
func (s *RevocationStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RevocationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
