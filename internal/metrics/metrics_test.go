package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const errorMismatchMessage = "expected %v, got %v"

func gatherFamilies(test *testing.T, registry *prometheus.Registry) map[string]*dto.MetricFamily {
	test.Helper()
	families, err := registry.Gather()
	if err != nil {
		test.Fatalf("gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}
	return byName
}

func counterValue(family *dto.MetricFamily, labels map[string]string) float64 {
	if family == nil {
		return 0
	}
	for _, metric := range family.GetMetric() {
		matched := 0
		for _, pair := range metric.GetLabel() {
			if labels[pair.GetName()] == pair.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestServiceMetricsRecordsDomainEvents(test *testing.T) {
	test.Parallel()
	registry := prometheus.NewRegistry()
	recorder := NewServiceMetrics(registry)

	recorder.LogOperation(context.Background(), ledger.OperationLog{Operation: "deduct", Status: "ok"})
	recorder.LogOperation(context.Background(), ledger.OperationLog{Operation: "deduct", Status: "ok"})
	recorder.LogOperation(context.Background(), ledger.OperationLog{Operation: "deduct", Status: "error", Error: errors.New("boom")})
	recorder.IncWebhookOutcome("credited")
	recorder.IncDubOutcome("")
	recorder.ObserveLockWait(20*time.Millisecond, true)
	recorder.ObserveLockWait(time.Second, false)
	recorder.ObserveSynthesis("openai", 2*time.Second)

	families := gatherFamilies(test, registry)
	if value := counterValue(families["credit_operations_total"], map[string]string{labelOperation: "deduct", labelStatus: "ok"}); value != 2 {
		test.Fatalf(errorMismatchMessage, 2, value)
	}
	if value := counterValue(families["payment_webhook_events_total"], map[string]string{labelOutcome: "credited"}); value != 1 {
		test.Fatalf(errorMismatchMessage, 1, value)
	}
	if value := counterValue(families["dubbing_requests_total"], map[string]string{labelOutcome: unknownLabel}); value != 1 {
		test.Fatalf(errorMismatchMessage, 1, value)
	}
	lockFamily := families["identity_lock_wait_seconds"]
	if lockFamily == nil || len(lockFamily.GetMetric()) != 2 {
		test.Fatalf("expected acquired and timeout series, got %v", lockFamily)
	}
	synthesisFamily := families["synthesis_duration_seconds"]
	if synthesisFamily == nil || synthesisFamily.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		test.Fatalf("expected one synthesis sample, got %v", synthesisFamily)
	}
}

func TestNilRegistererIsNoop(test *testing.T) {
	test.Parallel()
	recorder := NewServiceMetrics(nil)
	recorder.LogOperation(context.Background(), ledger.OperationLog{Operation: "add"})
	recorder.IncWebhookOutcome("credited")
	recorder.IncDubOutcome("completed")
	recorder.ObserveLockWait(time.Millisecond, true)
	recorder.ObserveSynthesis("openai", time.Millisecond)

	var missing *ServiceMetrics
	missing.IncDubOutcome("completed")
}
