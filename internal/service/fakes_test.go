package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/repository"
)

var errStoreDown = errors.New("store down")

type memoryUserRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.UserRecord
	gets    int
	creates int
	grants  int

	getErr   error
	failIDs  map[string]error
	lastSeen time.Time
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{rows: map[string]domain.UserRecord{}, failIDs: map[string]error{}}
}

func (m *memoryUserRepo) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates + m.grants
}

func (m *memoryUserRepo) GetByID(ctx context.Context, id string) (domain.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return domain.UserRecord{}, m.getErr
	}
	rec, ok := m.rows[id]
	if !ok {
		return domain.UserRecord{}, repository.ErrNotFound
	}
	return rec, nil
}

func (m *memoryUserRepo) CreateDefault(ctx context.Context, rec domain.UserRecord) (domain.UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failIDs[rec.ID]; err != nil {
		return domain.UserRecord{}, false, err
	}
	if existing, ok := m.rows[rec.ID]; ok {
		return existing, false, nil
	}
	m.creates++
	m.rows[rec.ID] = rec
	return rec, true, nil
}

func (m *memoryUserRepo) GrantPurchase(ctx context.Context, id, email string, at time.Time) (domain.UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failIDs[id]; err != nil {
		return domain.UserRecord{}, false, err
	}
	m.grants++
	m.lastSeen = at
	rec, exists := m.rows[id]
	if !exists {
		rec = domain.UserRecord{ID: id, CreatedAt: at}
	}
	if rec.Email == "" {
		rec.Email = email
	}
	rec.HasPurchased = true
	rec.SubscriptionStatus = domain.SubscriptionActive
	rec.UpdatedAt = at
	m.rows[id] = rec
	return rec, !exists, nil
}

type memoryDirectory struct {
	mu         sync.Mutex
	identities []domain.Identity
	err        error
	listings   int
}

func (d *memoryDirectory) ListIdentities(ctx context.Context) ([]domain.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listings++
	if d.err != nil {
		return nil, d.err
	}
	out := make([]domain.Identity, len(d.identities))
	copy(out, d.identities)
	return out, nil
}

func (d *memoryDirectory) add(ident domain.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities = append(d.identities, ident)
}

type memoryVerifier struct {
	tokens map[string]domain.Identity
	calls  int
}

func (v *memoryVerifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	v.calls++
	ident, ok := v.tokens[token]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	return ident, nil
}

type memoryPendingStore struct {
	mu      sync.Mutex
	items   map[string]domain.PendingEntitlement
	saveErr error
}

func newMemoryPendingStore() *memoryPendingStore {
	return &memoryPendingStore{items: map[string]domain.PendingEntitlement{}}
}

func (p *memoryPendingStore) Save(ctx context.Context, pending domain.PendingEntitlement, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.items[strings.ToLower(pending.Email)] = pending
	return nil
}

func (p *memoryPendingStore) Take(ctx context.Context, email string) (*domain.PendingEntitlement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := strings.ToLower(email)
	pending, ok := p.items[key]
	if !ok {
		return nil, nil
	}
	delete(p.items, key)
	return &pending, nil
}
