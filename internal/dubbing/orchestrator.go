package dubbing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/locks"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

// DefaultSynthesisTimeout bounds a single provider call.
const DefaultSynthesisTimeout = 60 * time.Second

const (
	OutcomeCompleted          = "completed"
	OutcomePlaceholder        = "placeholder"
	OutcomeInsufficientCredit = "insufficient_credit"
	OutcomeLockTimeout        = "lock_timeout"
	OutcomeSynthesisFailed    = "synthesis_failed"
	OutcomeCancelled          = "cancelled"
	OutcomeFailed             = "failed"
)

// CreditService is the slice of the ledger the orchestrator charges against.
type CreditService interface {
	Balance(ctx context.Context, identity ledger.Identity) (ledger.Entry, error)
	HasSufficientBalance(ctx context.Context, identity ledger.Identity, required ledger.Credits) (bool, error)
	Deduct(ctx context.Context, identity ledger.Identity, amount ledger.PositiveCredits, description string) (ledger.Credits, error)
}

// Locker serializes work per identity.
type Locker interface {
	WithLock(ctx context.Context, identity ledger.Identity, fn func(ctx context.Context) error) error
}

// Observer receives job outcomes and provider latency.
type Observer interface {
	IncDubOutcome(outcome string)
	ObserveSynthesis(provider string, duration time.Duration)
}

// Request describes one dubbing job.
type Request struct {
	Identity  ledger.Identity
	InputName string
	SizeBytes int64
	// DurationSeconds raises the size based estimate when larger; it never lowers it.
	DurationSeconds float64
	Language        string
	Voice           string
}

// Result describes a finished job.
type Result struct {
	JobID            string
	AudioLocation    string
	Provider         string
	CreditsUsed      ledger.Credits
	CreditsRemaining ledger.Credits
	DurationSeconds  float64
	Language         Language
	Voice            string
	Placeholder      bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProviders sets the providers in preference order.
func WithProviders(providers ...Provider) Option {
	return func(orchestrator *Orchestrator) {
		for _, provider := range providers {
			if provider != nil {
				orchestrator.providers = append(orchestrator.providers, provider)
			}
		}
	}
}

// WithOutputStore sets where synthesized audio is written.
func WithOutputStore(output OutputStore) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.output = output
	}
}

// WithHistory records finished jobs.
func WithHistory(history HistoryRecorder) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.history = history
	}
}

// WithSynthesisTimeout bounds each provider call.
func WithSynthesisTimeout(timeout time.Duration) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.synthesisTimeout = timeout
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(orchestrator *Orchestrator) {
		if logger != nil {
			orchestrator.logger = logger
		}
	}
}

// WithObserver reports outcomes, typically to metrics.
func WithObserver(observer Observer) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.observer = observer
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(orchestrator *Orchestrator) {
		if now != nil {
			orchestrator.now = now
		}
	}
}

// WithJobIDs overrides job id generation.
func WithJobIDs(next func() string) Option {
	return func(orchestrator *Orchestrator) {
		if next != nil {
			orchestrator.nextJobID = next
		}
	}
}

// Orchestrator charges credits for a dubbing job and runs synthesis.
type Orchestrator struct {
	credits          CreditService
	locker           Locker
	providers        []Provider
	output           OutputStore
	history          HistoryRecorder
	observer         Observer
	logger           *zap.Logger
	synthesisTimeout time.Duration
	now              func() time.Time
	nextJobID        func() string
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(credits CreditService, locker Locker, options ...Option) (*Orchestrator, error) {
	if credits == nil {
		return nil, fmt.Errorf("%w: credit service is nil", ErrInvalidConfig)
	}
	if locker == nil {
		return nil, fmt.Errorf("%w: locker is nil", ErrInvalidConfig)
	}
	orchestrator := &Orchestrator{
		credits:          credits,
		locker:           locker,
		logger:           zap.NewNop(),
		synthesisTimeout: DefaultSynthesisTimeout,
		now:              time.Now,
		nextJobID:        func() string { return uuid.NewString() },
	}
	for _, option := range options {
		if option != nil {
			option(orchestrator)
		}
	}
	if orchestrator.synthesisTimeout <= 0 {
		return nil, fmt.Errorf("%w: synthesis timeout must be positive", ErrInvalidConfig)
	}
	if len(orchestrator.providers) > 0 && orchestrator.output == nil {
		return nil, fmt.Errorf("%w: providers require an output store", ErrInvalidConfig)
	}
	return orchestrator, nil
}

// Quote returns the normalized duration and cost of a request without charging.
// The billed duration is never below the estimate derived from the upload size.
func (orchestrator *Orchestrator) Quote(request Request) (float64, ledger.Credits) {
	duration := EstimateDurationSeconds(request.SizeBytes)
	claimed := request.DurationSeconds
	if !math.IsNaN(claimed) && !math.IsInf(claimed, 0) && claimed > duration {
		duration = claimed
	}
	return duration, ledger.CostForDuration(duration)
}

// Dub charges the identity and produces audio. Credits are not refunded when
// synthesis fails after the deduction.
func (orchestrator *Orchestrator) Dub(ctx context.Context, request Request) (Result, error) {
	if request.Identity.String() == "" {
		return Result{}, &JobError{Stage: StageEstimating, Err: fmt.Errorf("%w: identity is empty", ErrInvalidRequest)}
	}
	jobID := orchestrator.nextJobID()
	lang := NormalizeLanguage(request.Language)
	voice := NormalizeVoice(request.Voice)
	duration, required := orchestrator.Quote(request)
	result := Result{JobID: jobID, CreditsUsed: required, DurationSeconds: duration, Language: lang, Voice: voice}

	remaining, err := orchestrator.reserve(ctx, request.Identity, required, chargeDescription(lang, duration))
	if err != nil {
		return Result{}, orchestrator.fail(ctx, jobID, StageCreditCheck, request.Identity, err)
	}
	result.CreditsRemaining = remaining

	provider := selectProvider(ctx, orchestrator.providers)
	if provider == nil {
		result.Provider = PlaceholderProviderName
		result.AudioLocation = PlaceholderAudioURL(lang)
		result.Placeholder = true
	} else {
		result.Provider = provider.Name()
		location, synthesisErr := orchestrator.synthesize(ctx, provider, jobID, lang, voice)
		if synthesisErr != nil {
			return Result{}, orchestrator.fail(ctx, jobID, StageSynthesizing, request.Identity, synthesisErr)
		}
		result.AudioLocation = location
	}

	orchestrator.record(ctx, request, result)
	outcome := OutcomeCompleted
	if result.Placeholder {
		outcome = OutcomePlaceholder
	}
	orchestrator.observeOutcome(outcome)
	orchestrator.logger.Info("dubbing job finished",
		zap.String("job_id", jobID),
		zap.String("identity", request.Identity.String()),
		zap.String("provider", result.Provider),
		zap.String("language", lang.Tag),
		zap.Int64("credits_used", required.Int64()),
		zap.Int64("credits_remaining", remaining.Int64()),
	)
	return result, nil
}

func (orchestrator *Orchestrator) reserve(ctx context.Context, identity ledger.Identity, required ledger.Credits, description string) (ledger.Credits, error) {
	amount, err := ledger.NewPositiveCredits(required.Int64())
	if err != nil {
		return 0, err
	}
	var remaining ledger.Credits
	err = orchestrator.locker.WithLock(ctx, identity, func(lockedCtx context.Context) error {
		sufficient, checkErr := orchestrator.credits.HasSufficientBalance(lockedCtx, identity, required)
		if checkErr != nil {
			return checkErr
		}
		if !sufficient {
			entry, balanceErr := orchestrator.credits.Balance(lockedCtx, identity)
			if balanceErr != nil {
				return balanceErr
			}
			return ledger.InsufficientBalanceError{Available: entry.Balance, Required: required}
		}
		balance, deductErr := orchestrator.credits.Deduct(lockedCtx, identity, amount, description)
		if deductErr != nil {
			return deductErr
		}
		remaining = balance
		return nil
	})
	return remaining, err
}

func (orchestrator *Orchestrator) synthesize(ctx context.Context, provider Provider, jobID string, lang Language, voice string) (string, error) {
	synthesisCtx, cancel := context.WithTimeout(ctx, orchestrator.synthesisTimeout)
	defer cancel()

	started := orchestrator.now()
	audio, err := provider.Synthesize(synthesisCtx, SynthesisRequest{Text: ScriptFor(lang), Language: lang, Voice: voice})
	if orchestrator.observer != nil {
		orchestrator.observer.ObserveSynthesis(provider.Name(), orchestrator.now().Sub(started))
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSynthesisFailed, provider.Name(), err)
	}
	location, err := orchestrator.output.Save(ctx, outputFileName(jobID), audio)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	return location, nil
}

func (orchestrator *Orchestrator) record(ctx context.Context, request Request, result Result) {
	if orchestrator.history == nil {
		return
	}
	item := HistoryItem{
		JobID:          result.JobID,
		Identity:       request.Identity,
		FileName:       outputFileName(result.JobID),
		InputName:      request.InputName,
		AudioLocation:  result.AudioLocation,
		CreditsUsed:    result.CreditsUsed,
		Language:       result.Language.Tag,
		Voice:          result.Voice,
		Provider:       result.Provider,
		CreatedUnixUTC: orchestrator.now().UTC().Unix(),
	}
	if err := orchestrator.history.Record(ctx, item); err != nil {
		orchestrator.logger.Warn("dubbing history record failed", zap.String("job_id", result.JobID), zap.Error(err))
	}
}

func (orchestrator *Orchestrator) fail(ctx context.Context, jobID string, stage Stage, identity ledger.Identity, err error) error {
	outcome := OutcomeFailed
	switch {
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		outcome = OutcomeInsufficientCredit
	case errors.Is(err, locks.ErrLockTimeout):
		outcome = OutcomeLockTimeout
	case errors.Is(err, ErrSynthesisFailed):
		outcome = OutcomeSynthesisFailed
	}
	orchestrator.observeOutcome(outcome)
	orchestrator.logger.Warn("dubbing job failed",
		zap.String("job_id", jobID),
		zap.String("identity", identity.String()),
		zap.String("stage", string(stage)),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
	return &JobError{Stage: stage, JobID: jobID, Err: err}
}

func (orchestrator *Orchestrator) observeOutcome(outcome string) {
	if orchestrator.observer != nil {
		orchestrator.observer.IncDubOutcome(outcome)
	}
}

func chargeDescription(lang Language, durationSeconds float64) string {
	return fmt.Sprintf("Doublage %s (%ds)", lang.Tag, int64(math.Ceil(durationSeconds)))
}
