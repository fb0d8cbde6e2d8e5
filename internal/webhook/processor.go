package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	// DefaultRecentCapacity bounds the in-memory log of applied events.
	DefaultRecentCapacity = 10

	metadataIdentity = "identity"
	metadataCredits  = "credits"
	metadataPlan     = "plan"

	outcomeDuplicate        = "duplicate"
	outcomeIgnored          = "ignored"
	outcomeProcessed        = "processed"
	outcomeNoCredits        = "no_credits"
	outcomeFailed           = "failed"
	outcomeInvalidSignature = "invalid_signature"
	outcomeMalformed        = "malformed"
	outcomeRateLimited      = "rate_limited"
)

// CreditAdder credits an identity.
type CreditAdder interface {
	Add(ctx context.Context, identity ledger.Identity, amount ledger.PositiveCredits, description string) (ledger.Credits, error)
}

// AuditRecord is one line of the webhook audit trail.
type AuditRecord struct {
	RemoteIP       string
	EventID        string
	EventType      string
	SignatureValid bool
	Replay         bool
	RateLimited    bool
	Reason         Reason
}

// AuditTrail receives every delivery outcome.
type AuditTrail interface {
	RecordWebhook(ctx context.Context, record AuditRecord)
}

// OutcomeRecorder counts delivery outcomes.
type OutcomeRecorder interface {
	IncWebhookOutcome(outcome string)
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Payload         []byte
	SignatureHeader string
	RemoteIP        string
}

// Outcome reports how a verified delivery was handled.
type Outcome struct {
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
	Processed bool
	Identity  string
	Credits   ledger.Credits
	Balance   ledger.Credits
}

// RecentEvent is an applied purchase kept for operators.
type RecentEvent struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"type"`
	Identity   string    `json:"identity"`
	Plan       string    `json:"plan"`
	Credits    int64     `json:"credits"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithAuditTrail wires the audit trail.
func WithAuditTrail(trail AuditTrail) ProcessorOption {
	return func(processor *Processor) {
		processor.audit = trail
	}
}

// WithLogger wires the application logger.
func WithLogger(logger *zap.Logger) ProcessorOption {
	return func(processor *Processor) {
		if logger != nil {
			processor.logger = logger
		}
	}
}

// WithOutcomeRecorder wires outcome metrics.
func WithOutcomeRecorder(recorder OutcomeRecorder) ProcessorOption {
	return func(processor *Processor) {
		processor.outcomes = recorder
	}
}

// WithAllowedEventTypes replaces the default allow-list.
func WithAllowedEventTypes(eventTypes ...stripe.EventType) ProcessorOption {
	return func(processor *Processor) {
		processor.allowed = make(map[stripe.EventType]struct{}, len(eventTypes))
		for _, eventType := range eventTypes {
			processor.allowed[eventType] = struct{}{}
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ProcessorOption {
	return func(processor *Processor) {
		if now != nil {
			processor.nowFn = now
		}
	}
}

// Processor runs the duplicate check, the credit and the mark as one critical section.
type Processor struct {
	mutex    sync.Mutex
	verifier Verifier
	events   EventSet
	credits  CreditAdder
	audit    AuditTrail
	outcomes OutcomeRecorder
	logger   *zap.Logger
	allowed  map[stripe.EventType]struct{}
	nowFn    func() time.Time

	recentMutex sync.Mutex
	recent      []RecentEvent
}

// NewProcessor wires a Processor.
func NewProcessor(verifier Verifier, events EventSet, credits CreditAdder, options ...ProcessorOption) (*Processor, error) {
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier is nil", ErrInvalidConfig)
	}
	if events == nil {
		return nil, fmt.Errorf("%w: event set is nil", ErrInvalidConfig)
	}
	if credits == nil {
		return nil, fmt.Errorf("%w: credit service is nil", ErrInvalidConfig)
	}
	processor := &Processor{
		verifier: verifier,
		events:   events,
		credits:  credits,
		logger:   zap.NewNop(),
		allowed:  map[stripe.EventType]struct{}{stripe.EventTypeCheckoutSessionCompleted: {}},
		nowFn:    time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(processor)
		}
	}
	return processor, nil
}

// Process verifies and applies one delivery. Duplicates and unsupported types are
// outcomes, not errors.
func (processor *Processor) Process(ctx context.Context, delivery Delivery) (Outcome, error) {
	event, err := processor.verifier.Verify(delivery.Payload, delivery.SignatureHeader)
	if errors.Is(err, ErrMalformedEvent) {
		processor.record(ctx, AuditRecord{RemoteIP: delivery.RemoteIP, SignatureValid: true, Reason: ReasonProcessingError}, outcomeMalformed)
		return Outcome{}, err
	}
	if err != nil {
		reason := ReasonInvalidSignature
		if errors.Is(err, ErrMissingSignature) {
			reason = ReasonSignatureMissing
		}
		processor.record(ctx, AuditRecord{RemoteIP: delivery.RemoteIP, Reason: reason}, outcomeInvalidSignature)
		processor.logger.Warn("webhook signature rejected", zap.String("ip", delivery.RemoteIP), zap.Error(err))
		return Outcome{}, err
	}
	record := AuditRecord{
		RemoteIP:       delivery.RemoteIP,
		EventID:        event.ID,
		EventType:      string(event.Type),
		SignatureValid: true,
	}
	if strings.TrimSpace(event.ID) == "" {
		record.Reason = ReasonProcessingError
		processor.record(ctx, record, outcomeMalformed)
		return Outcome{}, fmt.Errorf("%w: event id is empty", ErrMalformedEvent)
	}
	outcome := Outcome{EventID: event.ID, EventType: string(event.Type)}

	processor.mutex.Lock()
	defer processor.mutex.Unlock()

	duplicate, err := processor.events.IsDuplicate(ctx, event.ID)
	if err != nil {
		record.Reason = ReasonProcessingError
		processor.record(ctx, record, outcomeFailed)
		return Outcome{}, ledger.StorageError("webhook", "duplicate_check", err)
	}
	if duplicate {
		record.Replay = true
		record.Reason = ReasonReplay
		processor.record(ctx, record, outcomeDuplicate)
		outcome.Duplicate = true
		return outcome, nil
	}
	if _, allowed := processor.allowed[event.Type]; !allowed {
		record.Reason = ReasonIgnoredType
		processor.record(ctx, record, outcomeIgnored)
		outcome.Ignored = true
		return outcome, nil
	}

	purchase, err := parsePurchase(event)
	if err != nil {
		record.Reason = ReasonProcessingError
		processor.record(ctx, record, outcomeMalformed)
		return Outcome{}, err
	}
	err = processor.events.MarkProcessed(ctx, event.ID)
	if errors.Is(err, ErrAlreadyProcessed) {
		record.Replay = true
		record.Reason = ReasonReplay
		processor.record(ctx, record, outcomeDuplicate)
		outcome.Duplicate = true
		return outcome, nil
	}
	if err != nil {
		record.Reason = ReasonProcessingError
		processor.record(ctx, record, outcomeFailed)
		return Outcome{}, ledger.StorageError("webhook", "mark_processed", err)
	}
	if !purchase.complete() {
		record.Reason = ReasonNoCredits
		processor.record(ctx, record, outcomeNoCredits)
		processor.logger.Warn("webhook event without purchasable credits", zap.String("event_id", event.ID))
		return outcome, nil
	}

	balance, err := processor.credits.Add(ctx, purchase.identity, purchase.credits, purchase.description())
	if err != nil {
		if forgetErr := processor.events.Forget(ctx, event.ID); forgetErr != nil {
			processor.logger.Error("webhook mark rollback failed", zap.String("event_id", event.ID), zap.Error(forgetErr))
		}
		record.Reason = ReasonCreditsFailed
		processor.record(ctx, record, outcomeFailed)
		processor.logger.Error("webhook credit failed", zap.String("event_id", event.ID), zap.Error(err))
		return Outcome{}, err
	}

	record.Reason = ReasonProcessed
	processor.record(ctx, record, outcomeProcessed)
	processor.remember(RecentEvent{
		EventID:    event.ID,
		EventType:  string(event.Type),
		Identity:   purchase.identity.String(),
		Plan:       purchase.plan,
		Credits:    int64(purchase.credits),
		ReceivedAt: processor.nowFn().UTC(),
	})
	processor.logger.Info("webhook credits applied",
		zap.String("event_id", event.ID),
		zap.String("identity", purchase.identity.String()),
		zap.Int64("credits", int64(purchase.credits)),
		zap.Int64("balance", balance.Int64()),
	)
	outcome.Processed = true
	outcome.Identity = purchase.identity.String()
	outcome.Credits = purchase.credits.ToCredits()
	outcome.Balance = balance
	return outcome, nil
}

// RecordRateLimited audits a delivery rejected before verification.
func (processor *Processor) RecordRateLimited(ctx context.Context, remoteIP string) {
	processor.record(ctx, AuditRecord{RemoteIP: remoteIP, RateLimited: true, Reason: ReasonRateLimitExceeded}, outcomeRateLimited)
}

// Recent returns the most recently applied events, newest first.
func (processor *Processor) Recent() []RecentEvent {
	processor.recentMutex.Lock()
	defer processor.recentMutex.Unlock()
	result := make([]RecentEvent, 0, len(processor.recent))
	for index := len(processor.recent) - 1; index >= 0; index-- {
		result = append(result, processor.recent[index])
	}
	return result
}

func (processor *Processor) remember(event RecentEvent) {
	processor.recentMutex.Lock()
	defer processor.recentMutex.Unlock()
	processor.recent = append(processor.recent, event)
	if len(processor.recent) > DefaultRecentCapacity {
		processor.recent = processor.recent[len(processor.recent)-DefaultRecentCapacity:]
	}
}

func (processor *Processor) record(ctx context.Context, record AuditRecord, outcome string) {
	if processor.audit != nil {
		processor.audit.RecordWebhook(ctx, record)
	}
	if processor.outcomes != nil {
		processor.outcomes.IncWebhookOutcome(outcome)
	}
}

type purchase struct {
	identity    ledger.Identity
	credits     ledger.PositiveCredits
	plan        string
	amountTotal int64
	currency    string
}

func (item purchase) complete() bool {
	return item.identity.String() != "" && item.credits > 0
}

func (item purchase) description() string {
	amount := decimal.New(item.amountTotal, -2).StringFixed(2)
	return fmt.Sprintf("Purchase %s (%s %s)", item.plan, amount, strings.ToUpper(item.currency))
}

func parsePurchase(event stripe.Event) (purchase, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return purchase{}, fmt.Errorf("%w: event has no data object", ErrMalformedEvent)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return purchase{}, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}
	result := purchase{
		plan:        session.Metadata[metadataPlan],
		amountTotal: session.AmountTotal,
		currency:    string(session.Currency),
	}
	rawIdentity := session.Metadata[metadataIdentity]
	if strings.TrimSpace(rawIdentity) == "" {
		rawIdentity = session.ClientReferenceID
	}
	if identity, err := ledger.NewIdentity(rawIdentity); err == nil {
		result.identity = identity
	}
	if rawCredits, found := session.Metadata[metadataCredits]; found {
		if value, err := strconv.ParseInt(strings.TrimSpace(rawCredits), 10, 64); err == nil {
			if credits, err := ledger.NewPositiveCredits(value); err == nil {
				result.credits = credits
			}
		}
	}
	return result, nil
}
