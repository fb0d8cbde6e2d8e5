package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credit service.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrStorage                = errors.New("ledger storage failure")
	ErrInvalidIdentity        = errors.New("invalid identity")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidBalance         = errors.New("invalid balance")
	ErrInvalidTransactionKind = errors.New("invalid transaction kind")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// InsufficientBalanceError reports a deduction that would drive the balance negative.
type InsufficientBalanceError struct {
	Available Credits
	Required  Credits
}

// Error returns the formatted error message.
func (insufficientError InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%v: available %d, required %d", ErrInsufficientBalance, insufficientError.Available, insufficientError.Required)
}

// Unwrap returns ErrInsufficientBalance so callers can match with errors.Is.
func (insufficientError InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// StorageError marks a persistence fault so callers fail closed on ErrStorage.
func StorageError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError("store", subject, code, fmt.Errorf("%w: %w", ErrStorage, err))
}
