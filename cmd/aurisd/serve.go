package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/audit"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/config"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/dubbing"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/httpapi"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/locks"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/metrics"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/payments"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/webhook"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

// ledgerRuntime is the credit core shared by the server and the operator commands.
type ledgerRuntime struct {
	service *ledger.Service
	storage storage
	trail   *zap.Logger
}

func (runtime *ledgerRuntime) Close() {
	_ = runtime.trail.Sync()
	_ = runtime.storage.cleanup()
}

func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger, serviceMetrics *metrics.ServiceMetrics) (*ledgerRuntime, error) {
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	trail, err := audit.NewFileLogger(cfg.AuditPath(audit.CreditLogFile))
	if err != nil {
		_ = store.cleanup()
		return nil, err
	}
	initialGrant, err := ledger.NewCredits(cfg.InitialCredits)
	if err != nil {
		_ = store.cleanup()
		return nil, err
	}
	operationLogger := ledger.CombineOperationLoggers(audit.NewCreditLog(trail, logger), serviceMetrics)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(store.ledger, clock,
		ledger.WithOperationLogger(operationLogger),
		ledger.WithInitialGrant(initialGrant),
		ledger.WithHistoryCap(cfg.HistoryCap),
	)
	if err != nil {
		_ = store.cleanup()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	return &ledgerRuntime{service: service, storage: store, trail: trail}, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serviceMetrics := metrics.NewServiceMetrics(registry)

	core, err := openLedger(ctx, cfg, logger, serviceMetrics)
	if err != nil {
		return err
	}
	defer core.Close()

	lockManager := locks.NewManager(
		locks.WithTimeout(cfg.LockTimeout),
		locks.WithWaitObserver(serviceMetrics.ObserveLockWait),
	)

	catalog, err := payments.NewCatalog(payments.DefaultPlans(), cfg.PlanCredits)
	if err != nil {
		return fmt.Errorf("plan catalog: %w", err)
	}

	deps := httpapi.Dependencies{
		Logger:           logger,
		Ledger:           core.service,
		Catalog:          catalog,
		History:          core.storage.history,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AllowedOrigins:   cfg.AllowedOrigins,
		AdminToken:       cfg.AdminToken,
		OutputDir:        cfg.OutputDir,
		WebhookRate:      cfg.WebhookRate(),
		WebhookBurst:     cfg.WebhookRateLimit,
		DubRate:          cfg.DubRate(),
		DubBurst:         cfg.DubRateLimit,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		CreditHistoryMax: 10,
	}

	orchestrator, providerCredit, err := buildOrchestrator(cfg, logger, core.service, lockManager, core.storage.history, serviceMetrics)
	if err != nil {
		return err
	}
	deps.Dubber = orchestrator
	if providerCredit != nil {
		deps.ProviderCredit = providerCredit
	}

	if cfg.StripeEnabled() {
		processor, closeEvents, err := buildWebhookProcessor(ctx, cfg, logger, core.service, serviceMetrics)
		if err != nil {
			return err
		}
		defer closeEvents()
		deps.Webhooks = processor
	} else {
		logger.Warn("stripe webhook secret not set; payment webhooks disabled")
	}
	if cfg.StripeSecretKey != "" {
		checkout, err := payments.NewCheckoutCreator(catalog, payments.CheckoutConfig{
			SecretKey:   cfg.StripeSecretKey,
			Environment: cfg.StripeEnvironment,
			AppURL:      cfg.AppURL,
		}, nil)
		if err != nil {
			return fmt.Errorf("stripe checkout: %w", err)
		}
		deps.Checkout = checkout
		deps.StripeMode = checkout.Environment()
	}

	if cfg.SessionsEnabled() {
		validator, err := sessionvalidator.New(sessionvalidator.Config{
			SigningKey: []byte(cfg.SessionSigningKey),
			Issuer:     cfg.SessionIssuer,
			CookieName: cfg.SessionCookieName,
		})
		if err != nil {
			return fmt.Errorf("session validator: %w", err)
		}
		deps.SessionValidator = validator
	}

	gin.SetMode(gin.ReleaseMode)
	server, err := httpapi.NewServer(deps)
	if err != nil {
		return err
	}
	logger.Info("aurisd starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("ledger_backend", cfg.LedgerBackend),
		zap.Bool("stripe", deps.Checkout != nil),
		zap.Bool("webhooks", deps.Webhooks != nil),
		zap.Bool("sessions", deps.SessionValidator != nil),
	)
	return httpapi.Serve(ctx, logger, cfg.ListenAddr, server.Handler())
}

func buildOrchestrator(cfg *config.Config, logger *zap.Logger, credits dubbing.CreditService, locker dubbing.Locker, history dubbing.HistoryRecorder, observer dubbing.Observer) (*dubbing.Orchestrator, *dubbing.BalanceMonitor, error) {
	output, err := dubbing.NewDirectoryOutput(cfg.OutputDir, dubbing.OutputURLPrefix)
	if err != nil {
		return nil, nil, err
	}

	var (
		providers []dubbing.Provider
		monitor   *dubbing.BalanceMonitor
	)
	if cfg.ElevenLabsAPIKey != "" {
		elevenLabs, err := dubbing.NewElevenLabsProvider(cfg.ElevenLabsAPIKey)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, elevenLabs)
	}
	if cfg.OpenAIAPIKey != "" {
		monitor, err = dubbing.NewBalanceMonitor(
			dubbing.NewOpenAIBalanceSource(cfg.OpenAIAPIKey, "", nil),
			dubbing.WithMinimumCredit(cfg.OpenAIMinCredit),
			dubbing.WithMonitorLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		openAI, err := dubbing.NewOpenAIProvider(cfg.OpenAIAPIKey, dubbing.WithBalanceMonitor(monitor))
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, openAI)
	}
	if len(providers) == 0 {
		logger.Warn("no speech provider configured; dubbing returns placeholder audio")
	}

	orchestrator, err := dubbing.NewOrchestrator(credits, locker,
		dubbing.WithProviders(providers...),
		dubbing.WithOutputStore(output),
		dubbing.WithHistory(history),
		dubbing.WithSynthesisTimeout(cfg.SynthesisTimeout),
		dubbing.WithLogger(logger),
		dubbing.WithObserver(observer),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dubbing init: %w", err)
	}
	return orchestrator, monitor, nil
}

func buildWebhookProcessor(ctx context.Context, cfg *config.Config, logger *zap.Logger, credits webhook.CreditAdder, recorder webhook.OutcomeRecorder) (*webhook.Processor, func(), error) {
	verifier, err := webhook.NewStripeVerifier(cfg.StripeWebhookSecret)
	if err != nil {
		return nil, nil, err
	}
	events, closeEvents, err := buildEventSet(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	trail, err := audit.NewFileLogger(cfg.AuditPath(audit.WebhookLogFile))
	if err != nil {
		closeEvents()
		return nil, nil, err
	}
	processor, err := webhook.NewProcessor(verifier, events, credits,
		webhook.WithAuditTrail(audit.NewWebhookLog(trail)),
		webhook.WithLogger(logger),
		webhook.WithOutcomeRecorder(recorder),
	)
	if err != nil {
		closeEvents()
		_ = trail.Sync()
		return nil, nil, fmt.Errorf("webhook processor: %w", err)
	}
	cleanup := func() {
		_ = trail.Sync()
		closeEvents()
	}
	return processor, cleanup, nil
}

func buildEventSet(ctx context.Context, cfg *config.Config, logger *zap.Logger) (webhook.EventSet, func(), error) {
	if cfg.RedisURL == "" {
		return webhook.NewMemoryEventSet(cfg.ProcessedEventsCap), func() {}, nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	events, err := webhook.NewRedisEventSet(client, webhook.DefaultEventTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("webhook idempotency backed by redis", zap.String("addr", options.Addr))
	return events, func() { _ = client.Close() }, nil
}
