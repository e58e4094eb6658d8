package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/devhub/internal/domain"
)

var (
	// ErrNotFound is returned when no entitlement row exists for the requested id.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a concurrent insert won the race for the same id.
	ErrConflict = errors.New("repository: conflict")
)

// UserRepository exposes the entitlement rows of end users. Rows are addressed by
// identity id only.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (domain.UserRecord, error)
	// CreateDefault inserts rec unless a row already exists for rec.ID, in which
	// case the stored row is returned with created=false.
	CreateDefault(ctx context.Context, rec domain.UserRecord) (domain.UserRecord, bool, error)
	// GrantPurchase upserts the row for id with the purchased flags set.
	GrantPurchase(ctx context.Context, id, email string, at time.Time) (domain.UserRecord, bool, error)
}

// PendingEntitlementStore keeps purchases whose buyer has no identity yet.
type PendingEntitlementStore interface {
	Save(ctx context.Context, pending domain.PendingEntitlement, ttl time.Duration) error
	// Take returns and removes the pending purchase for email, or nil when none exists.
	Take(ctx context.Context, email string) (*domain.PendingEntitlement, error)
}

// NoopPendingStore drops deferred purchases. It is used when pending
// entitlements are disabled.
type NoopPendingStore struct{}

var _ PendingEntitlementStore = NoopPendingStore{}

func (NoopPendingStore) Save(context.Context, domain.PendingEntitlement, time.Duration) error {
	return nil
}

func (NoopPendingStore) Take(context.Context, string) (*domain.PendingEntitlement, error) {
	return nil, nil
}
