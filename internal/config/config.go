package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultBulkSecret is used when BULK_UPDATE_SECRET is unset. Startup logs it as insecure.
const DefaultBulkSecret = "change-this-secret"

// EmailMatch names an email comparison policy.
type EmailMatch string

const (
	EmailMatchExact EmailMatch = "exact"
	EmailMatchFold  EmailMatch = "fold"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	DatabaseURL            string
	StoreTimeout           time.Duration
	IdentityPageSize       int

	BulkSecret        string
	BulkSecretHash    string
	WebhookEmailMatch EmailMatch
	HotmartHottok     string

	PendingEntitlements   bool
	PendingEntitlementTTL time.Duration
	RedisAddr             string
	RedisPassword         string
	RedisDB               int

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool
	UIDistDir         string

	CORSAllowedOrigins        []string
	CORSAllowedOriginPatterns []*regexp.Regexp
	CORSAllowedMethods        []string
	CORSAllowedHeaders        []string
	CORSAllowCredentials      bool
}

var defaultOrigins = []string{
	"https://algoritmoecafe.com",
	"https://www.algoritmoecafe.com",
	"https://devhub-szeckir.vercel.app",
	"http://localhost:5173",
	"http://localhost:3000",
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:            getEnv("APP_ENV", "development"),
		HTTPPort:               getEnv("HTTP_PORT", getEnv("PORT", "3000")),
		ServiceName:            getEnv("SERVICE_NAME", "devhub-api"),
		SupabaseURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseServiceRoleKey: strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_ROLE_KEY")),
		SupabaseJWTSecret:      os.Getenv("SUPABASE_JWT_SECRET"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		StoreTimeout:           getDuration("STORE_TIMEOUT", 10*time.Second),
		IdentityPageSize:       getInt("IDENTITY_PAGE_SIZE", 1000),
		BulkSecret:             getEnv("BULK_UPDATE_SECRET", DefaultBulkSecret),
		BulkSecretHash:         strings.TrimSpace(os.Getenv("BULK_UPDATE_SECRET_HASH")),
		WebhookEmailMatch:      EmailMatch(strings.ToLower(getEnv("WEBHOOK_EMAIL_MATCH", string(EmailMatchExact)))),
		HotmartHottok:          os.Getenv("HOTMART_HOTTOK"),
		PendingEntitlements:    getBool("PENDING_ENTITLEMENTS", false),
		PendingEntitlementTTL:  getDuration("PENDING_ENTITLEMENT_TTL", 30*24*time.Hour),
		RedisAddr:              getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0),
		RateLimitRPM:           getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:      getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		UIDistDir:              getEnv("UI_DIST_DIR", "web/dist"),
		CORSAllowedOrigins:     getList("CORS_ALLOWED_ORIGINS", defaultOrigins),
		CORSAllowedMethods:     getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:     getList("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		CORSAllowCredentials:   getBool("CORS_ALLOW_CREDENTIALS", true),
	}

	if cfg.SupabaseURL == "" {
		return Config{}, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseServiceRoleKey == "" {
		return Config{}, fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}

	switch cfg.WebhookEmailMatch {
	case EmailMatchExact, EmailMatchFold:
	default:
		return Config{}, fmt.Errorf("WEBHOOK_EMAIL_MATCH must be %q or %q", EmailMatchExact, EmailMatchFold)
	}

	patterns, err := compilePatterns(getList("CORS_ALLOWED_ORIGIN_PATTERNS", []string{`^https://devhub-.*\.vercel\.app$`}))
	if err != nil {
		return Config{}, err
	}
	cfg.CORSAllowedOriginPatterns = patterns

	if cfg.IdentityPageSize <= 0 {
		cfg.IdentityPageSize = 1000
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// UsesDefaultBulkSecret reports whether the bulk endpoint is protected only by the built-in secret.
func (c Config) UsesDefaultBulkSecret() bool {
	return c.BulkSecretHash == "" && c.BulkSecret == DefaultBulkSecret
}

func compilePatterns(raw []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("CORS_ALLOWED_ORIGIN_PATTERNS: invalid pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
