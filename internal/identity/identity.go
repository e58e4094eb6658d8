package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/devhub/internal/config"
	"github.com/smallbiznis/devhub/internal/domain"
)

// Verifier validates a bearer credential and returns the identity it belongs to.
// Implementations return domain.ErrUnauthenticated for every verification failure.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// Directory enumerates all identities known to the identity provider.
type Directory interface {
	ListIdentities(ctx context.Context) ([]domain.Identity, error)
}

// EmailIndex is implemented by directories able to look an identity up by email
// without a full listing.
type EmailIndex interface {
	FindByEmail(ctx context.Context, email string, policy MatchPolicy) (domain.Identity, bool, error)
}

// MatchPolicy decides whether two emails refer to the same identity.
type MatchPolicy int

const (
	// MatchExact compares emails byte for byte.
	MatchExact MatchPolicy = iota
	// MatchFold compares emails case-insensitively.
	MatchFold
)

// PolicyFor maps the configured policy name onto a MatchPolicy.
func PolicyFor(m config.EmailMatch) MatchPolicy {
	if m == config.EmailMatchFold {
		return MatchFold
	}
	return MatchExact
}

func (p MatchPolicy) String() string {
	if p == MatchFold {
		return "fold"
	}
	return "exact"
}

// Equal reports whether a and b match under the policy.
func (p MatchPolicy) Equal(a, b string) bool {
	if p == MatchFold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Find resolves the identity owning email. It uses the directory's EmailIndex when
// available and otherwise scans a fresh listing.
func Find(ctx context.Context, dir Directory, email string, policy MatchPolicy) (domain.Identity, bool, error) {
	if idx, ok := dir.(EmailIndex); ok {
		found, ok, err := idx.FindByEmail(ctx, email, policy)
		if err != nil {
			return domain.Identity{}, false, fmt.Errorf("find identity by email: %w", err)
		}
		return found, ok, nil
	}

	snap, err := Load(ctx, dir)
	if err != nil {
		return domain.Identity{}, false, err
	}
	found, ok := snap.Match(email, policy)
	return found, ok, nil
}

// Snapshot is one identity listing that can be matched against many emails.
type Snapshot struct {
	identities []domain.Identity
}

// Load fetches the full identity listing.
func Load(ctx context.Context, dir Directory) (*Snapshot, error) {
	identities, err := dir.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return &Snapshot{identities: identities}, nil
}

// NewSnapshot wraps an already fetched listing.
func NewSnapshot(identities []domain.Identity) *Snapshot {
	return &Snapshot{identities: identities}
}

// Len returns the number of identities in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.identities)
}

// Match scans the listing for the first identity whose email matches.
func (s *Snapshot) Match(email string, policy MatchPolicy) (domain.Identity, bool) {
	if email == "" {
		return domain.Identity{}, false
	}
	for _, candidate := range s.identities {
		if candidate.Email == "" {
			continue
		}
		if policy.Equal(candidate.Email, email) {
			return candidate, true
		}
	}
	return domain.Identity{}, false
}
