package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/smallbiznis/devhub/internal/config"
	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/identity"
	"github.com/smallbiznis/devhub/internal/repository"
)

// AccessResult is the entitlement answer for the calling user. HasAccess is
// derived on every call and never stored.
type AccessResult struct {
	HasAccess          bool                      `json:"hasAccess"`
	HasPurchased       bool                      `json:"hasPurchased"`
	SubscriptionStatus domain.SubscriptionStatus `json:"subscriptionStatus"`
}

// UserData is the display subset of the caller's entitlement row.
type UserData struct {
	Email              string                    `json:"email"`
	HasPurchased       bool                      `json:"hasPurchased"`
	SubscriptionStatus domain.SubscriptionStatus `json:"subscriptionStatus"`
}

// AccessService resolves the entitlement state of authenticated users.
type AccessService struct {
	reconciler
	verifier   identity.Verifier
	pending    repository.PendingEntitlementStore
	pendingTTL time.Duration
}

// NewAccessService wires dependencies. pending may be nil.
func NewAccessService(verifier identity.Verifier, users repository.UserRepository, pending repository.PendingEntitlementStore, cfg config.Config, logger *zap.Logger) *AccessService {
	if pending == nil {
		pending = repository.NoopPendingStore{}
	}
	return &AccessService{
		reconciler: newReconciler(users, logger),
		verifier:   verifier,
		pending:    pending,
		pendingTTL: cfg.PendingEntitlementTTL,
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: bearer token required", domain.ErrUnauthenticated)
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", domain.ErrUnauthenticated)
	}
	return token, nil
}

// ResolveAccess verifies the credential and returns the caller's entitlement,
// creating an unentitled row the first time an identity is seen.
func (s *AccessService) ResolveAccess(ctx context.Context, authorization string) (AccessResult, error) {
	ctx, span := s.startSpan(ctx, "AccessService.ResolveAccess")
	defer span.End()

	ident, err := s.authenticate(ctx, authorization)
	if err != nil {
		span.RecordError(err)
		return AccessResult{}, err
	}
	span.SetAttributes(attribute.String("user.id", ident.ID))

	rec, err := s.users.GetByID(ctx, ident.ID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		rec, err = s.firstSight(ctx, ident)
		if err != nil {
			span.RecordError(err)
			return AccessResult{}, err
		}
	default:
		span.RecordError(err)
		s.log().Error("fetch entitlement failed", zap.String("user_id", ident.ID), zap.Error(err))
		return AccessResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return AccessResult{
		HasAccess:          rec.HasPurchased,
		HasPurchased:       rec.HasPurchased,
		SubscriptionStatus: rec.SubscriptionStatus.OrDefault(),
	}, nil
}

// UserData returns the caller's display data. Unlike ResolveAccess it never
// creates a row; a missing row is reported as a store failure.
func (s *AccessService) UserData(ctx context.Context, authorization string) (UserData, error) {
	ctx, span := s.startSpan(ctx, "AccessService.UserData")
	defer span.End()

	ident, err := s.authenticate(ctx, authorization)
	if err != nil {
		span.RecordError(err)
		return UserData{}, err
	}

	rec, err := s.users.GetByID(ctx, ident.ID)
	if err != nil {
		span.RecordError(err)
		s.log().Error("fetch user data failed", zap.String("user_id", ident.ID), zap.Error(err))
		return UserData{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	email := rec.Email
	if email == "" {
		email = ident.Email
	}
	return UserData{
		Email:              email,
		HasPurchased:       rec.HasPurchased,
		SubscriptionStatus: rec.SubscriptionStatus.OrDefault(),
	}, nil
}

func (s *AccessService) authenticate(ctx context.Context, authorization string) (domain.Identity, error) {
	token, err := BearerToken(authorization)
	if err != nil {
		return domain.Identity{}, err
	}
	ident, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.log().Debug("bearer verification failed", zap.Error(err))
		if errors.Is(err, domain.ErrUnauthenticated) {
			return domain.Identity{}, err
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return ident, nil
}

// firstSight creates the row for an identity that has none. A purchase parked
// for the identity's email is applied here instead of the unentitled default.
func (s *AccessService) firstSight(ctx context.Context, ident domain.Identity) (domain.UserRecord, error) {
	pending, err := s.takePending(ctx, ident.Email)
	if err != nil {
		s.log().Warn("pending entitlement lookup failed", zap.String("email", ident.Email), zap.Error(err))
	}
	if pending != nil {
		rec, _, err := s.grant(ctx, ident, ident.Email, "pending:"+pending.Provider)
		if err != nil {
			if saveErr := s.pending.Save(ctx, *pending, s.pendingTTL); saveErr != nil {
				s.log().Error("restore pending entitlement failed", zap.String("email", ident.Email), zap.Error(saveErr))
			}
			return domain.UserRecord{}, err
		}
		return rec, nil
	}

	rec, created, err := s.users.CreateDefault(ctx, domain.NewDefaultRecord(ident))
	if err != nil {
		s.log().Error("create default entitlement failed", zap.String("user_id", ident.ID), zap.Error(err))
		return domain.UserRecord{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if created {
		s.audit("entitlement.default_created", "user_id", ident.ID, "email", ident.Email)
	}
	return rec, nil
}

func (s *AccessService) takePending(ctx context.Context, email string) (*domain.PendingEntitlement, error) {
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	return s.pending.Take(ctx, email)
}
