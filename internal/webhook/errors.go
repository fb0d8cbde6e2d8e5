// Package webhook applies verified payment provider events to the credit ledger exactly once.
package webhook

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingSignature = errors.New("webhook signature header missing")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrInvalidConfig    = errors.New("invalid webhook config")
	ErrAlreadyProcessed = errors.New("webhook event already processed")
)

// Reason names a webhook outcome in the audit trail.
type Reason string

const (
	ReasonProcessed         Reason = "PROCESSED_SUCCESSFULLY"
	ReasonReplay            Reason = "REPLAY_DETECTED"
	ReasonIgnoredType       Reason = "IGNORED_EVENT_TYPE"
	ReasonNoCredits         Reason = "NO_CREDITS_IN_METADATA"
	ReasonCreditsFailed     Reason = "CREDITS_ADD_FAILED"
	ReasonProcessingError   Reason = "PROCESSING_ERROR"
	ReasonInvalidSignature  Reason = "INVALID_SIGNATURE"
	ReasonSignatureMissing  Reason = "SIGNATURE_HEADER_MISSING"
	ReasonRateLimitExceeded Reason = "RATE_LIMIT_EXCEEDED"
)
