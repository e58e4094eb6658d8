package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/repository"
)

const pendingKeyPrefix = "entitlement:pending:"

// RedisPendingStore implements PendingEntitlementStore backed by Redis.
type RedisPendingStore struct {
	client redis.UniversalClient
}

var _ repository.PendingEntitlementStore = (*RedisPendingStore)(nil)

// NewRedisPendingStore constructs a Redis-backed pending entitlement store.
func NewRedisPendingStore(client redis.UniversalClient) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

// PendingKey returns the key a pending purchase for email is stored under.
// Emails are folded so a later sign-up with different casing still matches.
func PendingKey(email string) string {
	return pendingKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

// Save stores the pending purchase with TTL, replacing an earlier one for the same email.
func (s *RedisPendingStore) Save(ctx context.Context, pending domain.PendingEntitlement, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending entitlement: %w", err)
	}
	if err := s.client.Set(ctx, PendingKey(pending.Email), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist pending entitlement: %w", err)
	}
	return nil
}

// Take atomically loads and deletes the pending purchase for email.
func (s *RedisPendingStore) Take(ctx context.Context, email string) (*domain.PendingEntitlement, error) {
	bytes, err := s.client.GetDel(ctx, PendingKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("take pending entitlement: %w", err)
	}
	var pending domain.PendingEntitlement
	if err := json.Unmarshal(bytes, &pending); err != nil {
		return nil, fmt.Errorf("decode pending entitlement: %w", err)
	}
	return &pending, nil
}
