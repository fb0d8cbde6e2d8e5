package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/config"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/payments"
)

const (
	envPrefix = "AURIS"

	flagListenAddr          = "listen-addr"
	flagLedgerBackend       = "ledger-backend"
	flagLedgerPath          = "ledger-path"
	flagDatabaseURL         = "database-url"
	flagAuditDir            = "audit-dir"
	flagOutputDir           = "output-dir"
	flagInitialCredits      = "initial-credits"
	flagHistoryCap          = "history-cap"
	flagProcessedEventsCap  = "processed-events-cap"
	flagLockTimeout         = "lock-timeout"
	flagSynthesisTimeout    = "synthesis-timeout"
	flagMaxUploadBytes      = "max-upload-bytes"
	flagStripeSecretKey     = "stripe-secret-key"
	flagStripeWebhookSecret = "stripe-webhook-secret"
	flagStripeEnvironment   = "stripe-environment"
	flagAppURL              = "app-url"
	flagAllowedOrigins      = "allowed-origins"
	flagOpenAIAPIKey        = "openai-api-key"
	flagOpenAIMinCredit     = "openai-min-credit"
	flagElevenLabsAPIKey    = "elevenlabs-api-key"
	flagAdminToken          = "admin-token"
	flagRedisURL            = "redis-url"
	flagWebhookRateLimit    = "webhook-rate-limit"
	flagDubRateLimit        = "dub-rate-limit"
	flagSessionSigningKey   = "session-signing-key"
	flagSessionIssuer       = "session-issuer"
	flagSessionCookieName   = "session-cookie-name"
	flagCreditsStarter      = "credits-starter"
	flagCreditsPro          = "credits-pro"
	flagCreditsPremium      = "credits-premium"
	flagEnvFile             = "env-file"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aurisd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "aurisd",
		Short:         "AurisVoice credit ledger and dubbing API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagEnvFile, ".env", "optional dotenv file loaded before reading the environment")
	flags.String(flagListenAddr, "", "HTTP listen address (default :3000)")
	flags.String(flagLedgerBackend, "", "ledger storage backend: file, gorm or pgx (default file)")
	flags.String(flagLedgerPath, "", "JSON ledger file for the file backend")
	flags.String(flagDatabaseURL, "", "database URL for the gorm (sqlite:// or postgres://) and pgx backends")
	flags.String(flagAuditDir, "", "directory for the credit and webhook audit logs")
	flags.String(flagOutputDir, "", "directory generated audio is written to and served from")
	flags.Int64(flagInitialCredits, 0, "credits granted to an identity on first use")
	flags.Int(flagHistoryCap, 0, "transactions kept per identity (default 100)")
	flags.Int(flagProcessedEventsCap, 0, "webhook event ids remembered in memory (default 200)")
	flags.Duration(flagLockTimeout, 0, "maximum wait for an identity lock (default 30s)")
	flags.Duration(flagSynthesisTimeout, 0, "maximum duration of one speech synthesis call (default 60s)")
	flags.Int64(flagMaxUploadBytes, 0, "maximum accepted upload size in bytes")
	flags.String(flagStripeSecretKey, "", "Stripe secret key used for checkout")
	flags.String(flagStripeWebhookSecret, "", "Stripe webhook signing secret")
	flags.String(flagStripeEnvironment, "", "Stripe environment: test or live (default test)")
	flags.String(flagAppURL, "", "public frontend URL used for checkout redirects")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagOpenAIAPIKey, "", "OpenAI API key for speech synthesis")
	flags.Float64(flagOpenAIMinCredit, 0, "OpenAI balance under which placeholder audio is served (default 1.0)")
	flags.String(flagElevenLabsAPIKey, "", "ElevenLabs API key for speech synthesis")
	flags.String(flagAdminToken, "", "token required by admin routes")
	flags.String(flagRedisURL, "", "optional Redis URL for persistent webhook idempotency")
	flags.Int(flagWebhookRateLimit, 0, "webhook requests allowed per minute per client IP (default 10)")
	flags.Int(flagDubRateLimit, 0, "dubbing requests allowed per minute per client IP (default 5)")
	flags.String(flagSessionSigningKey, "", "TAuth session signing key; enables cookie identities")
	flags.String(flagSessionIssuer, "", "expected session issuer")
	flags.String(flagSessionCookieName, "", "session cookie name")
	flags.Int64(flagCreditsStarter, 0, "credit override for the starter plan")
	flags.Int64(flagCreditsPro, 0, "credit override for the pro plan")
	flags.Int64(flagCreditsPremium, 0, "credit override for the premium plan")

	cmd.AddCommand(newServeCommand(cfg), newCreditsCommand(cfg))
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(cmd, cfg)
		},
	}
}

func runServeCommand(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runServer(ctx, cfg)
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.ListenAddr = v.GetString(flagListenAddr)
	cfg.LedgerBackend = v.GetString(flagLedgerBackend)
	cfg.LedgerPath = v.GetString(flagLedgerPath)
	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	cfg.AuditDir = v.GetString(flagAuditDir)
	cfg.OutputDir = v.GetString(flagOutputDir)
	cfg.InitialCredits = v.GetInt64(flagInitialCredits)
	cfg.HistoryCap = v.GetInt(flagHistoryCap)
	cfg.ProcessedEventsCap = v.GetInt(flagProcessedEventsCap)
	cfg.LockTimeout = v.GetDuration(flagLockTimeout)
	cfg.SynthesisTimeout = v.GetDuration(flagSynthesisTimeout)
	cfg.MaxUploadBytes = v.GetInt64(flagMaxUploadBytes)
	cfg.StripeSecretKey = strings.TrimSpace(v.GetString(flagStripeSecretKey))
	cfg.StripeWebhookSecret = strings.TrimSpace(v.GetString(flagStripeWebhookSecret))
	cfg.StripeEnvironment = v.GetString(flagStripeEnvironment)
	cfg.AppURL = v.GetString(flagAppURL)
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.OpenAIAPIKey = strings.TrimSpace(v.GetString(flagOpenAIAPIKey))
	cfg.OpenAIMinCredit = v.GetFloat64(flagOpenAIMinCredit)
	cfg.ElevenLabsAPIKey = strings.TrimSpace(v.GetString(flagElevenLabsAPIKey))
	cfg.AdminToken = v.GetString(flagAdminToken)
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.WebhookRateLimit = v.GetInt(flagWebhookRateLimit)
	cfg.DubRateLimit = v.GetInt(flagDubRateLimit)
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = v.GetString(flagSessionIssuer)
	cfg.SessionCookieName = v.GetString(flagSessionCookieName)
	cfg.PlanCredits = map[string]int64{}
	for plan, flagName := range map[string]string{
		payments.PlanStarter: flagCreditsStarter,
		payments.PlanPro:     flagCreditsPro,
		payments.PlanPremium: flagCreditsPremium,
	} {
		if credits := v.GetInt64(flagName); credits != 0 {
			cfg.PlanCredits[plan] = credits
		}
	}

	return cfg.Validate()
}

func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
