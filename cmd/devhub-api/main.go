package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/devhub/internal/adapter/cache"
	"github.com/smallbiznis/devhub/internal/adapter/supabase"
	"github.com/smallbiznis/devhub/internal/bootstrap"
	"github.com/smallbiznis/devhub/internal/config"
	httptransport "github.com/smallbiznis/devhub/internal/http"
	"github.com/smallbiznis/devhub/internal/http/handler"
	"github.com/smallbiznis/devhub/internal/identity"
	"github.com/smallbiznis/devhub/internal/jwt"
	apimiddleware "github.com/smallbiznis/devhub/internal/middleware"
	"github.com/smallbiznis/devhub/internal/repository"
	"github.com/smallbiznis/devhub/internal/secret"
	"github.com/smallbiznis/devhub/internal/server"
	"github.com/smallbiznis/devhub/internal/service"
	"github.com/smallbiznis/devhub/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newHTTPClient,
			newSupabaseClient,
			newAuthClient,
			newVerifier,
			newDirectory,
			newPGXPool,
			newUserRepository,
			newRedisClient,
			newPendingStore,
			newSecretMatcher,
			newRateLimiter,
			service.NewAccessService,
			service.NewWebhookService,
			service.NewBulkService,
			handler.NewAccessHandler,
			handler.NewWebhookHandler,
			handler.NewBulkHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.Startup, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", cfg.ServiceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.StoreTimeout}
}

func newSupabaseClient(cfg config.Config, client *http.Client) *supabase.Client {
	return supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, client)
}

func newAuthClient(cfg config.Config, client *supabase.Client) *supabase.AuthClient {
	return supabase.NewAuthClient(client, cfg.IdentityPageSize)
}

// newVerifier prefers local signature checks when the project's JWT secret is known.
func newVerifier(cfg config.Config, auth *supabase.AuthClient, logger *zap.Logger) identity.Verifier {
	if cfg.SupabaseJWTSecret != "" {
		logger.Info("verifying access tokens locally")
		return jwt.NewVerifier(cfg.SupabaseJWTSecret)
	}
	return auth
}

func newDirectory(auth *supabase.AuthClient) identity.Directory {
	return auth
}

// newPGXPool returns a nil pool when DATABASE_URL is unset; entitlement rows
// then go through the REST data API.
func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool, client *supabase.Client, logger *zap.Logger) repository.UserRepository {
	if pool != nil {
		logger.Info("entitlement store: postgres")
		return repository.NewPostgresUserRepo(pool)
	}
	logger.Info("entitlement store: rest")
	return supabase.NewUserStore(client)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	if !cfg.PendingEntitlements {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newPendingStore(client redis.UniversalClient) repository.PendingEntitlementStore {
	if client == nil {
		return repository.NoopPendingStore{}
	}
	return cacheadapter.NewRedisPendingStore(client)
}

func newSecretMatcher(cfg config.Config) (*secret.Matcher, error) {
	return secret.NewMatcher(cfg.BulkSecret, cfg.BulkSecretHash)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM, "/health", "/api/webhooks")
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				logger.Info("http server listening", zap.String("addr", addr))
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
