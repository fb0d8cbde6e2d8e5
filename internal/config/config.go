package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	BackendFile = "file"
	BackendGORM = "gorm"
	BackendPGX  = "pgx"

	defaultListenAddr         = ":3000"
	defaultLedgerPath         = "data/credits.json"
	defaultDatabaseURL        = "sqlite://data/aurisvoice.db"
	defaultAuditDir           = "logs"
	defaultOutputDir          = "output"
	defaultAllowedOrigin      = "http://localhost:3001"
	defaultAppURL             = "http://localhost:3001"
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	defaultHistoryCap         = 100
	defaultProcessedEventsCap = 200
	defaultLockTimeout        = 30 * time.Second
	defaultSynthesisTimeout   = 60 * time.Second
	defaultWebhookRateLimit   = 10
	defaultDubRateLimit       = 5
	defaultOpenAIMinCredit    = 1.0
	defaultDubHistoryLimit    = 50
	defaultMaxUploadBytes     = 50 << 20
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config aggregates runtime settings for aurisd.
type Config struct {
	ListenAddr         string
	LedgerBackend      string
	LedgerPath         string
	DatabaseURL        string
	AuditDir           string
	OutputDir          string
	InitialCredits     int64
	HistoryCap         int
	ProcessedEventsCap int
	LockTimeout        time.Duration
	SynthesisTimeout   time.Duration
	MaxUploadBytes     int64
	DubHistoryLimit    int

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeEnvironment   string
	AppURL              string
	AllowedOrigins      []string
	PlanCredits         map[string]int64

	OpenAIAPIKey     string
	OpenAIMinCredit  float64
	ElevenLabsAPIKey string

	AdminToken       string
	RedisURL         string
	WebhookRateLimit int
	DubRateLimit     int

	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
}

// Validate fills defaults and rejects inconsistent settings.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.LedgerBackend = strings.ToLower(defaultIfEmpty(cfg.LedgerBackend, BackendFile))
	cfg.LedgerPath = defaultIfEmpty(cfg.LedgerPath, defaultLedgerPath)
	cfg.AuditDir = defaultIfEmpty(cfg.AuditDir, defaultAuditDir)
	cfg.OutputDir = defaultIfEmpty(cfg.OutputDir, defaultOutputDir)
	cfg.AppURL = defaultIfEmpty(cfg.AppURL, defaultAppURL)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = defaultHistoryCap
	}
	if cfg.ProcessedEventsCap <= 0 {
		cfg.ProcessedEventsCap = defaultProcessedEventsCap
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = defaultSynthesisTimeout
	}
	if cfg.WebhookRateLimit <= 0 {
		cfg.WebhookRateLimit = defaultWebhookRateLimit
	}
	if cfg.DubRateLimit <= 0 {
		cfg.DubRateLimit = defaultDubRateLimit
	}
	if cfg.OpenAIMinCredit <= 0 {
		cfg.OpenAIMinCredit = defaultOpenAIMinCredit
	}
	if cfg.DubHistoryLimit <= 0 {
		cfg.DubHistoryLimit = defaultDubHistoryLimit
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	switch cfg.LedgerBackend {
	case BackendFile:
	case BackendGORM:
		cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	case BackendPGX:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("%w: database url is required for the %s backend", ErrInvalidConfig, BackendPGX)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalidConfig, cfg.LedgerBackend)
	}
	if cfg.InitialCredits < 0 {
		return fmt.Errorf("%w: initial credits must not be negative", ErrInvalidConfig)
	}
	for plan, credits := range cfg.PlanCredits {
		if credits < 0 {
			return fmt.Errorf("%w: credits for plan %s must not be negative", ErrInvalidConfig, plan)
		}
	}
	if strings.TrimSpace(cfg.StripeSecretKey) != "" && strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		return fmt.Errorf("%w: stripe webhook secret is required when a stripe key is set", ErrInvalidConfig)
	}
	return nil
}

// StripeEnabled reports whether checkout and webhooks are configured.
func (cfg Config) StripeEnabled() bool {
	return strings.TrimSpace(cfg.StripeWebhookSecret) != ""
}

// SessionsEnabled reports whether identities come from signed session cookies.
func (cfg Config) SessionsEnabled() bool {
	return cfg.SessionSigningKey != ""
}

// WebhookRate converts the per-minute webhook budget into a limiter rate.
func (cfg Config) WebhookRate() rate.Limit {
	return rate.Every(time.Minute / time.Duration(cfg.WebhookRateLimit))
}

// DubRate converts the per-minute dubbing budget into a limiter rate.
func (cfg Config) DubRate() rate.Limit {
	return rate.Every(time.Minute / time.Duration(cfg.DubRateLimit))
}

// AuditPath places an audit trail file inside the audit directory.
func (cfg Config) AuditPath(fileName string) string {
	return filepath.Join(cfg.AuditDir, fileName)
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
