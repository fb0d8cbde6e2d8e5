package ledger

import (
	"context"
	"fmt"
)

// AdminAdd credits an identity outside the purchase flow.
func (service *Service) AdminAdd(ctx context.Context, identity Identity, amount PositiveCredits, description string) (Credits, error) {
	return service.credit(ctx, OperationAdminAdd, TransactionAdminAdd, identity, amount, defaultIfBlank(description, defaultAddDescription))
}

// Reset sets the balance to amount and replaces the history with a single reset record.
func (service *Service) Reset(ctx context.Context, identity Identity, amount Credits) (Entry, error) {
	var (
		updated       Entry
		balanceBefore Credits
	)
	if amount < 0 {
		return Entry{}, fmt.Errorf("%w: reset amount must not be negative", ErrInvalidAmount)
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := service.load(ctx, transactionStore, identity)
		if err != nil {
			return err
		}
		balanceBefore = entry.Balance
		transaction, err := NewTransaction(TransactionReset, amount, entry.Balance, amount, service.nowFn(), defaultResetDescription)
		if err != nil {
			return err
		}
		updated, err = service.persist(ctx, transactionStore, entry, transaction)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:     OperationReset,
		Identity:      identity,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  updated.Balance,
		Description:   defaultResetDescription,
		Error:         operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return updated, nil
}
