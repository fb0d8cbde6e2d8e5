package ledger

import (
	"context"
	"fmt"
	"strings"
)

// DefaultHistoryCap bounds the per-identity transaction history.
const DefaultHistoryCap = 100

// Credits is a whole number of dubbing credits.
type Credits int64

// Int64 returns the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewCredits validates a non-negative credit amount.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return Credits(raw), nil
}

// PositiveCredits is a strictly positive credit amount used by mutations.
type PositiveCredits int64

// NewPositiveCredits validates a strictly positive credit amount.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveCredits(raw), nil
}

// ToCredits converts to the general credit type.
func (amount PositiveCredits) ToCredits() Credits {
	return Credits(amount)
}

// Identity is the opaque key of a ledger entry.
type Identity struct {
	value string
}

// NewIdentity validates and normalizes an identity.
func NewIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("%w: empty value", ErrInvalidIdentity)
	}
	return Identity{value: trimmed}, nil
}

// String returns the normalized identity.
func (identity Identity) String() string {
	return identity.value
}

// TransactionKind enumerates history record kinds.
type TransactionKind string

const (
	TransactionInitial  TransactionKind = "initial"
	TransactionAdd      TransactionKind = "add"
	TransactionDeduct   TransactionKind = "deduct"
	TransactionReset    TransactionKind = "reset"
	TransactionAdminAdd TransactionKind = "admin_add"
)

// ParseTransactionKind validates a stored kind value.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch kind := TransactionKind(strings.TrimSpace(raw)); kind {
	case TransactionInitial, TransactionAdd, TransactionDeduct, TransactionReset, TransactionAdminAdd:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
	}
}

// Transaction is one immutable history record.
type Transaction struct {
	Kind           TransactionKind
	Amount         Credits
	BalanceBefore  Credits
	BalanceAfter   Credits
	CreatedUnixUTC int64
	Description    string
}

// NewTransaction validates the balance arithmetic of a record.
func NewTransaction(kind TransactionKind, amount Credits, balanceBefore Credits, balanceAfter Credits, createdUnixUTC int64, description string) (Transaction, error) {
	if _, err := ParseTransactionKind(string(kind)); err != nil {
		return Transaction{}, err
	}
	if amount < 0 || balanceBefore < 0 || balanceAfter < 0 {
		return Transaction{}, fmt.Errorf("%w: negative value", ErrInvalidTransaction)
	}
	if amount == 0 && kind != TransactionInitial && kind != TransactionReset {
		return Transaction{}, fmt.Errorf("%w: %s amount must be positive", ErrInvalidTransaction, kind)
	}
	var expectedAfter Credits
	switch kind {
	case TransactionAdd, TransactionAdminAdd:
		expectedAfter = balanceBefore + amount
	case TransactionDeduct:
		expectedAfter = balanceBefore - amount
	case TransactionInitial, TransactionReset:
		expectedAfter = amount
	}
	if balanceAfter != expectedAfter {
		return Transaction{}, fmt.Errorf("%w: %s balance after %d, expected %d", ErrInvalidTransaction, kind, balanceAfter, expectedAfter)
	}
	return Transaction{
		Kind:           kind,
		Amount:         amount,
		BalanceBefore:  balanceBefore,
		BalanceAfter:   balanceAfter,
		CreatedUnixUTC: createdUnixUTC,
		Description:    strings.TrimSpace(description),
	}, nil
}

// Entry is the per-identity ledger record.
type Entry struct {
	Identity Identity
	Balance  Credits
	History  []Transaction
}

// NewEntry builds the lazily created entry for an identity seen for the first time.
func NewEntry(identity Identity, initialGrant Credits, createdUnixUTC int64) (Entry, error) {
	initial, err := NewTransaction(TransactionInitial, initialGrant, 0, initialGrant, createdUnixUTC, "initial balance")
	if err != nil {
		return Entry{}, err
	}
	return Entry{Identity: identity, Balance: initialGrant, History: []Transaction{initial}}, nil
}

// Apply returns a copy of the entry with the transaction appended and the history trimmed to historyCap.
func (entry Entry) Apply(transaction Transaction, historyCap int) (Entry, error) {
	if transaction.BalanceBefore != entry.Balance {
		return Entry{}, fmt.Errorf("%w: balance before %d does not match balance %d", ErrInvalidTransaction, transaction.BalanceBefore, entry.Balance)
	}
	history := make([]Transaction, 0, len(entry.History)+1)
	if transaction.Kind != TransactionReset {
		history = append(history, entry.History...)
	}
	history = append(history, transaction)
	if historyCap > 0 && len(history) > historyCap {
		history = history[len(history)-historyCap:]
	}
	return Entry{Identity: entry.Identity, Balance: transaction.BalanceAfter, History: history}, nil
}

// RecentHistory returns up to limit most recent transactions, oldest first.
func (entry Entry) RecentHistory(limit int) []Transaction {
	if limit <= 0 || limit >= len(entry.History) {
		return append([]Transaction(nil), entry.History...)
	}
	return append([]Transaction(nil), entry.History[len(entry.History)-limit:]...)
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Read(ctx context.Context, identity Identity) (Entry, bool, error)
	Write(ctx context.Context, entry Entry) error
}
