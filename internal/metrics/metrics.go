// Package metrics exposes Prometheus instruments for credits, webhooks, locks and dubbing.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	labelOperation = "operation"
	labelStatus    = "status"
	labelOutcome   = "outcome"
	labelProvider  = "provider"
	labelResult    = "result"

	resultAcquired = "acquired"
	resultTimeout  = "timeout"
	unknownLabel   = "unknown"
)

// ServiceMetrics records the service's domain events.
type ServiceMetrics struct {
	creditOperations *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	dubRequests      *prometheus.CounterVec
	lockWait         *prometheus.HistogramVec
	synthesis        *prometheus.HistogramVec
}

// NewServiceMetrics registers the instruments on reg. A nil registerer yields a no-op recorder.
func NewServiceMetrics(reg prometheus.Registerer) *ServiceMetrics {
	if reg == nil {
		return &ServiceMetrics{}
	}
	creditOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_operations_total",
		Help: "Credit service operations by operation and status.",
	}, []string{labelOperation, labelStatus})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment webhook deliveries by outcome.",
	}, []string{labelOutcome})
	dubRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubbing_requests_total",
		Help: "Dubbing requests by outcome.",
	}, []string{labelOutcome})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identity_lock_wait_seconds",
		Help:    "Time spent waiting for a per-identity lock.",
		Buckets: prometheus.DefBuckets,
	}, []string{labelResult})
	synthesis := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synthesis_duration_seconds",
		Help:    "Speech synthesis latency by provider.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{labelProvider})
	reg.MustRegister(creditOperations, webhookEvents, dubRequests, lockWait, synthesis)
	return &ServiceMetrics{
		creditOperations: creditOperations,
		webhookEvents:    webhookEvents,
		dubRequests:      dubRequests,
		lockWait:         lockWait,
		synthesis:        synthesis,
	}
}

// LogOperation counts credit service operations.
func (metrics *ServiceMetrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	if metrics == nil || metrics.creditOperations == nil {
		return
	}
	metrics.creditOperations.WithLabelValues(normalizeLabel(entry.Operation), normalizeLabel(entry.Status)).Inc()
}

// IncWebhookOutcome counts a webhook delivery outcome.
func (metrics *ServiceMetrics) IncWebhookOutcome(outcome string) {
	if metrics == nil || metrics.webhookEvents == nil {
		return
	}
	metrics.webhookEvents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDubOutcome counts a dubbing request outcome.
func (metrics *ServiceMetrics) IncDubOutcome(outcome string) {
	if metrics == nil || metrics.dubRequests == nil {
		return
	}
	metrics.dubRequests.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveLockWait records a lock acquisition attempt.
func (metrics *ServiceMetrics) ObserveLockWait(waited time.Duration, acquired bool) {
	if metrics == nil || metrics.lockWait == nil {
		return
	}
	result := resultAcquired
	if !acquired {
		result = resultTimeout
	}
	metrics.lockWait.WithLabelValues(result).Observe(waited.Seconds())
}

// ObserveSynthesis records provider latency.
func (metrics *ServiceMetrics) ObserveSynthesis(provider string, duration time.Duration) {
	if metrics == nil || metrics.synthesis == nil {
		return
	}
	metrics.synthesis.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return unknownLabel
	}
	return value
}
