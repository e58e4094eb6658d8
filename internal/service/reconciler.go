package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/repository"
)

const tracerName = "github.com/smallbiznis/devhub/internal/service"

// reconciler holds the write path shared by the webhook and bulk flows: once an
// identity is known, its row is upserted into the purchased state.
type reconciler struct {
	users  repository.UserRepository
	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

func newReconciler(users repository.UserRepository, logger *zap.Logger) reconciler {
	return reconciler{
		users:  users,
		now:    time.Now,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// grant sets hasPurchased=true and subscriptionStatus=active on the row for
// ident, creating it when absent. Repeated grants converge on the same state.
func (r *reconciler) grant(ctx context.Context, ident domain.Identity, email, source string) (domain.UserRecord, bool, error) {
	ctx, span := r.startSpan(ctx, "reconciler.grant")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ident.ID), attribute.String("source", source))

	if email == "" {
		email = ident.Email
	}
	rec, created, err := r.users.GrantPurchase(ctx, ident.ID, email, r.now().UTC())
	if err != nil {
		span.RecordError(err)
		return domain.UserRecord{}, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	r.audit("entitlement.granted", "user_id", ident.ID, "email", email, "source", source, "created", created)
	return rec, created, nil
}

func (r *reconciler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if r == nil || r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, name)
}

func (r *reconciler) audit(event string, attrs ...any) {
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	r.log().Info("audit", fields...)
}

func (r *reconciler) log() *zap.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return zap.L()
}
