package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/webhook"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

func TestCreditLogWritesMutationsOnly(test *testing.T) {
	test.Parallel()
	trailCore, trailLogs := observer.New(zapcore.InfoLevel)
	appCore, appLogs := observer.New(zapcore.InfoLevel)
	creditLog := NewCreditLog(zap.New(trailCore), zap.New(appCore))
	identity := mustIdentity(test, "user-1")

	creditLog.LogOperation(context.Background(), ledger.OperationLog{Operation: ledger.OperationDeduct, Identity: identity, Amount: 5, BalanceBefore: 15, BalanceAfter: 10, Description: "dub", Status: "ok", CreatedUnixUTC: 1700000000})
	creditLog.LogOperation(context.Background(), ledger.OperationLog{Operation: ledger.OperationBalance, Identity: identity, Status: "ok"})
	creditLog.LogOperation(context.Background(), ledger.OperationLog{Operation: ledger.OperationAdd, Identity: identity, Amount: 1, Status: "error", Error: errors.New("boom")})

	if trailLogs.Len() != 1 {
		test.Fatalf("expected one audit line, got %d", trailLogs.Len())
	}
	fields := trailLogs.All()[0].ContextMap()
	if fields["delta"] != int64(-5) || fields["balance_before"] != int64(15) || fields["balance"] != int64(10) || fields["description"] != "dub" || fields["identity"] != "user-1" {
		test.Fatalf("unexpected audit fields %v", fields)
	}
	if appLogs.FilterMessage("credit operation failed").Len() != 1 {
		test.Fatalf("expected failure on application log")
	}
}

func TestCreditLogResetDeltaFollowsBalances(test *testing.T) {
	test.Parallel()
	trailCore, trailLogs := observer.New(zapcore.InfoLevel)
	creditLog := NewCreditLog(zap.New(trailCore), nil)
	identity := mustIdentity(test, "user-1")
	testCases := []struct {
		name          string
		before        ledger.Credits
		after         ledger.Credits
		expectedDelta int64
	}{
		{name: "reset to zero", before: 50, after: 0, expectedDelta: -50},
		{name: "reset upward", before: 3, after: 20, expectedDelta: 17},
		{name: "reset unchanged", before: 8, after: 8, expectedDelta: 0},
	}
	for index, testCase := range testCases {
		creditLog.LogOperation(context.Background(), ledger.OperationLog{
			Operation:     ledger.OperationReset,
			Identity:      identity,
			Amount:        testCase.after,
			BalanceBefore: testCase.before,
			BalanceAfter:  testCase.after,
			Status:        "ok",
		})
		fields := trailLogs.All()[index].ContextMap()
		if fields["delta"] != testCase.expectedDelta || fields["balance"] != testCase.after.Int64() {
			test.Fatalf("%s: unexpected audit fields %v", testCase.name, fields)
		}
	}
}

func TestWebhookLogRecordsOutcome(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	webhookLog := NewWebhookLog(zap.New(core))
	webhookLog.RecordWebhook(context.Background(), webhook.AuditRecord{
		RemoteIP:       "203.0.113.7",
		EventID:        "evt_123",
		EventType:      "checkout.session.completed",
		SignatureValid: true,
		Replay:         true,
		Reason:         webhook.ReasonReplay,
	})
	if logs.Len() != 1 {
		test.Fatalf("expected one line, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["reason"] != "REPLAY_DETECTED" || fields["replay"] != true || fields["event_id"] != "evt_123" {
		test.Fatalf("unexpected fields %v", fields)
	}
}

func TestNewFileLoggerAppendsJSONLines(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), "logs", CreditLogFile)
	logger, err := NewFileLogger(path)
	if err != nil {
		test.Fatalf("file logger: %v", err)
	}
	NewCreditLog(logger, nil).LogOperation(context.Background(), ledger.OperationLog{
		Operation:      ledger.OperationAdd,
		Identity:       mustIdentity(test, "user-1"),
		Amount:         15,
		BalanceAfter:   15,
		Description:    "Purchase starter",
		Status:         "ok",
		CreatedUnixUTC: 1700000000,
	})
	_ = logger.Sync()
	data, err := os.ReadFile(path)
	if err != nil {
		test.Fatalf("read audit file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.Contains(line, `"delta":15`) || !strings.Contains(line, `"operation":"add"`) {
		test.Fatalf("unexpected audit line %q", line)
	}
}

func mustIdentity(test *testing.T, raw string) ledger.Identity {
	test.Helper()
	identity, err := ledger.NewIdentity(raw)
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	return identity
}
