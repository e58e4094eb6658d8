package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/smallbiznis/devhub/internal/config"
	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/identity"
	"github.com/smallbiznis/devhub/internal/repository"
	"github.com/smallbiznis/devhub/internal/webhook"
)

// Outcome is the result of reconciling one purchase notification.
type Outcome string

const (
	// OutcomeCreated means a new, entitled row was written.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means an existing row was flipped to entitled.
	OutcomeUpdated Outcome = "updated"
	// OutcomeDeferred means no identity owns the buyer email yet.
	OutcomeDeferred Outcome = "deferred"
)

// ReconcileResult describes what a webhook delivery did.
type ReconcileResult struct {
	Outcome         Outcome
	Email           string
	UserID          string
	Record          *domain.UserRecord
	PendingRecorded bool
	Event           webhook.Event
}

// WebhookService applies purchase notifications to entitlement rows.
type WebhookService struct {
	reconciler
	directory     identity.Directory
	pending       repository.PendingEntitlementStore
	policy        identity.MatchPolicy
	recordPending bool
	pendingTTL    time.Duration
}

// NewWebhookService wires dependencies. pending may be nil.
func NewWebhookService(users repository.UserRepository, directory identity.Directory, pending repository.PendingEntitlementStore, cfg config.Config, logger *zap.Logger) *WebhookService {
	if pending == nil {
		pending = repository.NoopPendingStore{}
	}
	return &WebhookService{
		reconciler:    newReconciler(users, logger),
		directory:     directory,
		pending:       pending,
		policy:        identity.PolicyFor(cfg.WebhookEmailMatch),
		recordPending: cfg.PendingEntitlements,
		pendingTTL:    cfg.PendingEntitlementTTL,
	}
}

// Reconcile parses raw, finds the identity owning the buyer email and grants
// it access. Delivering the same payload twice yields OutcomeUpdated the second
// time with an unchanged final state.
func (s *WebhookService) Reconcile(ctx context.Context, provider string, raw []byte) (ReconcileResult, error) {
	ev, err := webhook.Parse(raw)
	return s.reconcile(ctx, provider, ev, err)
}

// ReconcileForm is Reconcile for form-encoded deliveries.
func (s *WebhookService) ReconcileForm(ctx context.Context, provider string, form url.Values) (ReconcileResult, error) {
	ev, err := webhook.ParseForm(form)
	return s.reconcile(ctx, provider, ev, err)
}

func (s *WebhookService) reconcile(ctx context.Context, provider string, ev webhook.Event, err error) (ReconcileResult, error) {
	ctx, span := s.startSpan(ctx, "WebhookService.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.provider", provider))

	result := ReconcileResult{Event: ev, Email: ev.Email}
	if err != nil {
		span.RecordError(err)
		s.log().Warn("webhook without buyer email", zap.String("provider", provider), zap.ByteString("payload", ev.Raw))
		return result, err
	}

	s.log().Info("webhook received",
		zap.String("provider", provider),
		zap.String("email", ev.Email),
		zap.String("event", ev.Name),
		zap.Stringer("shape", ev.Shape),
		zap.String("product_id", ev.ProductID),
		zap.String("purchase_status", ev.PurchaseStatus),
	)

	ident, found, err := identity.Find(ctx, s.directory, ev.Email, s.policy)
	if err != nil {
		span.RecordError(err)
		s.log().Error("identity lookup failed", zap.String("provider", provider), zap.String("email", ev.Email), zap.Error(err))
		return result, fmt.Errorf("%w: %v", domain.ErrIdentityUnavailable, err)
	}

	if !found {
		result.Outcome = OutcomeDeferred
		result.PendingRecorded = s.park(ctx, provider, ev)
		s.log().Warn("webhook buyer has no identity yet",
			zap.String("provider", provider),
			zap.String("email", ev.Email),
			zap.Stringer("match_policy", s.policy),
			zap.Bool("pending_recorded", result.PendingRecorded),
		)
		return result, nil
	}

	rec, created, err := s.grant(ctx, ident, ev.Email, "webhook:"+provider)
	if err != nil {
		span.RecordError(err)
		s.log().Error("grant from webhook failed", zap.String("user_id", ident.ID), zap.String("email", ev.Email), zap.Error(err))
		return result, err
	}

	result.UserID = ident.ID
	result.Record = &rec
	result.Outcome = OutcomeUpdated
	if created {
		result.Outcome = OutcomeCreated
	}
	return result, nil
}

func (s *WebhookService) park(ctx context.Context, provider string, ev webhook.Event) bool {
	if !s.recordPending {
		return false
	}
	err := s.pending.Save(ctx, domain.PendingEntitlement{
		Email:      ev.Email,
		Provider:   provider,
		EventName:  ev.Name,
		ReceivedAt: s.now().UTC(),
	}, s.pendingTTL)
	if err != nil {
		s.log().Error("record pending entitlement failed", zap.String("email", ev.Email), zap.Error(err))
		return false
	}
	s.audit("entitlement.pending_recorded", "email", ev.Email, "provider", provider)
	return true
}
