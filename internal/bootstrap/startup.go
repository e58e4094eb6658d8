package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/devhub/internal/config"
	"github.com/smallbiznis/devhub/internal/migrations"
)

// Startup registers the startup checks with the application lifecycle. pool is
// nil when the entitlement store is reached through PostgREST.
func Startup(lc fx.Lifecycle, cfg config.Config, pool *pgxpool.Pool, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return Check(ctx, cfg, pool, migrations.Up, logger)
		},
	})
}

// Migrator applies schema migrations to pool.
type Migrator func(ctx context.Context, pool *pgxpool.Pool) error

// Check reports insecure settings and migrates the direct Postgres store.
func Check(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, migrate Migrator, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.L()
	}

	if cfg.UsesDefaultBulkSecret() {
		log := logger.Warn
		if !cfg.IsDevelopment() {
			log = logger.Error
		}
		log("bulk update secret is the built-in default; set BULK_UPDATE_SECRET or BULK_UPDATE_SECRET_HASH",
			zap.String("environment", cfg.Environment))
	}
	if cfg.HotmartHottok == "" {
		logger.Warn("webhook endpoint accepts unauthenticated deliveries; set HOTMART_HOTTOK to require the provider token")
	}
	if cfg.SupabaseJWTSecret != "" {
		logger.Warn("access tokens are verified locally; signed-out or revoked sessions keep access until the token expires")
	}
	if cfg.WebhookEmailMatch == config.EmailMatchExact {
		logger.Info("webhook email matching is case-sensitive while bulk matching is not",
			zap.String("webhook_email_match", string(cfg.WebhookEmailMatch)))
	}

	if pool == nil || migrate == nil {
		return nil
	}
	if err := migrate(ctx, pool); err != nil {
		return fmt.Errorf("bootstrap migrate: %w", err)
	}
	logger.Info("entitlement schema migrated")
	return nil
}
