package config

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.LedgerBackend != BackendFile || cfg.LedgerPath != defaultLedgerPath {
		test.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HistoryCap != 100 || cfg.ProcessedEventsCap != 200 || cfg.WebhookRateLimit != 10 {
		test.Fatalf("unexpected caps: %+v", cfg)
	}
	if cfg.LockTimeout != 30*time.Second || len(cfg.AllowedOrigins) != 1 {
		test.Fatalf("unexpected timeouts or origins: %+v", cfg)
	}
	if cfg.StripeEnabled() || cfg.SessionsEnabled() {
		test.Fatalf("expected optional integrations disabled")
	}
	if math.Abs(float64(cfg.WebhookRate())-1.0/6) > 1e-9 {
		test.Fatalf("unexpected webhook rate %v", cfg.WebhookRate())
	}
	if cfg.DubRateLimit != 5 || math.Abs(float64(cfg.DubRate())-1.0/12) > 1e-9 {
		test.Fatalf("unexpected dub rate %d %v", cfg.DubRateLimit, cfg.DubRate())
	}
}

func TestValidateRejectsInvalidSettings(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown backend", cfg: Config{LedgerBackend: "mongo"}},
		{name: "pgx without url", cfg: Config{LedgerBackend: BackendPGX}},
		{name: "negative initial credits", cfg: Config{InitialCredits: -1}},
		{name: "negative plan credits", cfg: Config{PlanCredits: map[string]int64{"pro": -5}}},
		{name: "stripe key without webhook secret", cfg: Config{StripeSecretKey: "sk_test_1"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				test.Fatalf("expected %v, got %v", ErrInvalidConfig, err)
			}
		})
	}
}

func TestValidateGORMDefaultsDatabaseURL(test *testing.T) {
	test.Parallel()
	cfg := Config{LedgerBackend: "GORM"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.LedgerBackend != BackendGORM || cfg.DatabaseURL != defaultDatabaseURL {
		test.Fatalf("unexpected database settings: %s %s", cfg.LedgerBackend, cfg.DatabaseURL)
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	origins := ParseAllowedOrigins(" https://a.example , ,https://b.example")
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		test.Fatalf("unexpected origins: %v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		test.Fatalf("expected no origins")
	}
}
