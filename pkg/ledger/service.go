package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Service contains the credit domain logic over a Store.
type Service struct {
	store        Store
	nowFn        func() int64
	logger       OperationLogger
	initialGrant Credits
	historyCap   int
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, historyCap: DefaultHistoryCap}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.initialGrant < 0 {
		return nil, fmt.Errorf("%w: initial grant must not be negative", ErrInvalidServiceConfig)
	}
	if service.historyCap <= 0 {
		return nil, fmt.Errorf("%w: history cap must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// CostForDuration converts a media duration into credits: one credit per started
// ten seconds, never less than one.
func CostForDuration(durationSeconds float64) Credits {
	if math.IsNaN(durationSeconds) || durationSeconds <= 0 {
		return minimumCost
	}
	cost := Credits(math.Ceil(durationSeconds / secondsPerCredit))
	if cost < minimumCost {
		return minimumCost
	}
	return cost
}

// CostForDuration converts a media duration into credits.
func (service *Service) CostForDuration(durationSeconds float64) Credits {
	return CostForDuration(durationSeconds)
}

// Balance returns the entry for an identity. Unknown identities yield the fresh
// entry without persisting it.
func (service *Service) Balance(ctx context.Context, identity Identity) (Entry, error) {
	entry, err := service.load(ctx, service.store, identity)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationBalance, Identity: identity, Error: err})
		return Entry{}, err
	}
	return entry, nil
}

// HasSufficientBalance reports whether the balance covers required credits.
func (service *Service) HasSufficientBalance(ctx context.Context, identity Identity, required Credits) (bool, error) {
	if required < 0 {
		return false, fmt.Errorf("%w: required must not be negative", ErrInvalidAmount)
	}
	entry, err := service.load(ctx, service.store, identity)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationCheck, Identity: identity, Amount: required, Error: err})
		return false, err
	}
	return entry.Balance >= required, nil
}

// Add credits an identity and returns the new balance.
func (service *Service) Add(ctx context.Context, identity Identity, amount PositiveCredits, description string) (Credits, error) {
	return service.credit(ctx, OperationAdd, TransactionAdd, identity, amount, defaultIfBlank(description, defaultAddDescription))
}

// Deduct debits an identity and returns the new balance. A deduction larger than
// the balance fails with InsufficientBalanceError and leaves the entry untouched.
func (service *Service) Deduct(ctx context.Context, identity Identity, amount PositiveCredits, description string) (Credits, error) {
	description = defaultIfBlank(description, defaultDeductDescription)
	var balanceBefore, balanceAfter Credits
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := service.load(ctx, transactionStore, identity)
		if err != nil {
			return err
		}
		balanceBefore = entry.Balance
		required := amount.ToCredits()
		if entry.Balance < required {
			return InsufficientBalanceError{Available: entry.Balance, Required: required}
		}
		transaction, err := NewTransaction(TransactionDeduct, required, entry.Balance, entry.Balance-required, service.nowFn(), description)
		if err != nil {
			return err
		}
		updated, err := service.persist(ctx, transactionStore, entry, transaction)
		if err != nil {
			return err
		}
		balanceAfter = updated.Balance
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     OperationDeduct,
		Identity:      identity,
		Amount:        amount.ToCredits(),
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Description:   description,
		Error:         operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return balanceAfter, nil
}

func (service *Service) credit(ctx context.Context, operation string, kind TransactionKind, identity Identity, amount PositiveCredits, description string) (Credits, error) {
	var balanceBefore, balanceAfter Credits
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := service.load(ctx, transactionStore, identity)
		if err != nil {
			return err
		}
		balanceBefore = entry.Balance
		transaction, err := NewTransaction(kind, amount.ToCredits(), entry.Balance, entry.Balance+amount.ToCredits(), service.nowFn(), description)
		if err != nil {
			return err
		}
		updated, err := service.persist(ctx, transactionStore, entry, transaction)
		if err != nil {
			return err
		}
		balanceAfter = updated.Balance
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operation,
		Identity:      identity,
		Amount:        amount.ToCredits(),
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Description:   description,
		Error:         operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return balanceAfter, nil
}

func (service *Service) load(ctx context.Context, store Store, identity Identity) (Entry, error) {
	if identity.String() == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidIdentity)
	}
	entry, found, err := store.Read(ctx, identity)
	if err != nil {
		return Entry{}, err
	}
	if found {
		return entry, nil
	}
	return NewEntry(identity, service.initialGrant, service.nowFn())
}

func (service *Service) persist(ctx context.Context, store Store, entry Entry, transaction Transaction) (Entry, error) {
	updated, err := entry.Apply(transaction, service.historyCap)
	if err != nil {
		return Entry{}, err
	}
	if err := store.Write(ctx, updated); err != nil {
		return Entry{}, err
	}
	return updated, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.CreatedUnixUTC == 0 {
		entry.CreatedUnixUTC = service.nowFn()
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func defaultIfBlank(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
