package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/identity"
	"github.com/smallbiznis/devhub/internal/repository"
	"github.com/smallbiznis/devhub/internal/secret"
)

// BatchSummary counts the per-email outcomes of a bulk run.
type BatchSummary struct {
	Total    int `json:"total"`
	Success  int `json:"success"`
	NotFound int `json:"notFound"`
	Errors   int `json:"errors"`
}

// BatchError attributes a store failure to the email being processed.
type BatchError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// BatchResults itemises a bulk run.
type BatchResults struct {
	Success  []string     `json:"success"`
	NotFound []string     `json:"notFound"`
	Errors   []BatchError `json:"errors"`
}

// BatchResult is returned by BulkReconcile.
type BatchResult struct {
	BatchID string       `json:"batchId"`
	Summary BatchSummary `json:"summary"`
	Results BatchResults `json:"results"`
}

// BulkService grants access to many emails at once on behalf of an operator.
type BulkService struct {
	reconciler
	directory identity.Directory
	secret    *secret.Matcher
	node      *snowflake.Node
}

func NewBulkService(users repository.UserRepository, directory identity.Directory, matcher *secret.Matcher, node *snowflake.Node, logger *zap.Logger) *BulkService {
	return &BulkService{
		reconciler: newReconciler(users, logger),
		directory:  directory,
		secret:     matcher,
		node:       node,
	}
}

// BulkReconcile grants every email in order. Emails are matched
// case-insensitively against a single identity listing. Per-email failures are
// reported in the result; only a bad secret, empty input or a failed listing
// abort the run.
func (s *BulkService) BulkReconcile(ctx context.Context, sharedSecret string, emails []string) (BatchResult, error) {
	ctx, span := s.startSpan(ctx, "BulkService.BulkReconcile")
	defer span.End()

	if !s.secret.Match(sharedSecret) {
		s.log().Warn("bulk update rejected: invalid secret")
		return BatchResult{}, domain.ErrUnauthorized
	}
	if len(emails) == 0 {
		return BatchResult{}, fmt.Errorf("%w: emails must be a non-empty array", domain.ErrInvalidInput)
	}

	batchID := s.batchID()
	logger := s.log().With(zap.String("batch_id", batchID))
	span.SetAttributes(attribute.String("batch.id", batchID), attribute.Int("batch.size", len(emails)))
	logger.Info("bulk update started", zap.Int("total", len(emails)))

	snap, err := identity.Load(ctx, s.directory)
	if err != nil {
		span.RecordError(err)
		logger.Error("bulk update identity listing failed", zap.Error(err))
		return BatchResult{}, fmt.Errorf("%w: %v", domain.ErrIdentityUnavailable, err)
	}

	result := BatchResult{
		BatchID: batchID,
		Results: BatchResults{
			Success:  []string{},
			NotFound: []string{},
			Errors:   []BatchError{},
		},
	}

	for _, email := range emails {
		ident, ok := snap.Match(email, identity.MatchFold)
		if !ok {
			result.Results.NotFound = append(result.Results.NotFound, email)
			logger.Info("bulk update email not found", zap.String("email", email))
			continue
		}

		if _, _, err := s.grant(ctx, ident, email, "bulk:"+batchID); err != nil {
			result.Results.Errors = append(result.Results.Errors, BatchError{Email: email, Error: err.Error()})
			logger.Error("bulk update email failed", zap.String("email", email), zap.String("user_id", ident.ID), zap.Error(err))
			continue
		}
		result.Results.Success = append(result.Results.Success, email)
	}

	result.Summary = BatchSummary{
		Total:    len(emails),
		Success:  len(result.Results.Success),
		NotFound: len(result.Results.NotFound),
		Errors:   len(result.Results.Errors),
	}
	logger.Info("bulk update completed",
		zap.Int("success", result.Summary.Success),
		zap.Int("not_found", result.Summary.NotFound),
		zap.Int("errors", result.Summary.Errors),
	)
	return result, nil
}

func (s *BulkService) batchID() string {
	if s.node == nil {
		return ""
	}
	return s.node.Generate().String()
}
