// Package audit writes append-only JSON trails for credit mutations and payment webhooks.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/webhook"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	// CreditLogFile receives one line per balance mutation.
	CreditLogFile = "credits.log"
	// WebhookLogFile receives one line per webhook delivery.
	WebhookLogFile = "stripe-security.log"

	directoryMode = 0o755
	messageCredit = "credit"
	messageEvent  = "webhook"
)

// NewFileLogger builds a JSON logger appending to path.
func NewFileLogger(path string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), directoryMode); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	config := zap.NewProductionConfig()
	config.Sampling = nil
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{"stderr"}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build audit logger %s: %w", path, err)
	}
	return logger, nil
}

// CreditLog implements ledger.OperationLogger. Successful mutations go to the
// audit trail; failures go to the application logger.
type CreditLog struct {
	trail  *zap.Logger
	logger *zap.Logger
}

// NewCreditLog wires the audit trail and the application logger.
func NewCreditLog(trail *zap.Logger, logger *zap.Logger) *CreditLog {
	if trail == nil {
		trail = zap.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditLog{trail: trail, logger: logger}
}

// LogOperation records one credit operation.
func (creditLog *CreditLog) LogOperation(_ context.Context, entry ledger.OperationLog) {
	if entry.Error != nil {
		creditLog.logger.Warn("credit operation failed",
			zap.String("operation", entry.Operation),
			zap.String("identity", entry.Identity.String()),
			zap.Int64("amount", entry.Amount.Int64()),
			zap.Error(entry.Error),
		)
		return
	}
	if !entry.Mutating() {
		return
	}
	creditLog.trail.Info(messageCredit,
		zap.Time("occurred_at", time.Unix(entry.CreatedUnixUTC, 0).UTC()),
		zap.String("operation", entry.Operation),
		zap.String("identity", entry.Identity.String()),
		zap.Int64("delta", signedDelta(entry)),
		zap.Int64("balance_before", entry.BalanceBefore.Int64()),
		zap.Int64("balance", entry.BalanceAfter.Int64()),
		zap.String("description", entry.Description),
	)
}

// signedDelta is the balance movement; a reset to a lower balance is negative.
func signedDelta(entry ledger.OperationLog) int64 {
	return entry.BalanceAfter.Int64() - entry.BalanceBefore.Int64()
}

// WebhookLog implements webhook.AuditTrail.
type WebhookLog struct {
	trail *zap.Logger
}

// NewWebhookLog wires the webhook audit trail.
func NewWebhookLog(trail *zap.Logger) *WebhookLog {
	if trail == nil {
		trail = zap.NewNop()
	}
	return &WebhookLog{trail: trail}
}

// RecordWebhook writes one delivery outcome.
func (webhookLog *WebhookLog) RecordWebhook(_ context.Context, record webhook.AuditRecord) {
	webhookLog.trail.Info(messageEvent,
		zap.String("ip", record.RemoteIP),
		zap.String("event_id", record.EventID),
		zap.String("event_type", record.EventType),
		zap.Bool("signature_valid", record.SignatureValid),
		zap.Bool("replay", record.Replay),
		zap.Bool("rate_limited", record.RateLimited),
		zap.String("reason", string(record.Reason)),
	)
}
