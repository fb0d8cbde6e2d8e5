package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorSubjectAccount     = "account"
	errorSubjectTransaction = "transaction"
	errorCodeConflict       = "conflict"
	errorCodeDelete         = "delete"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// Read loads the account row (locked for update inside a transaction) and its history.
func (store *Store) Read(ctx context.Context, identity ledger.Identity) (ledger.Entry, bool, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identity = ?", identity.String()).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, ledger.StorageError(errorSubjectAccount, errorCodeLookup, err)
	}
	var rows []Transaction
	err = store.db.WithContext(ctx).
		Where("identity = ?", identity.String()).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return ledger.Entry{}, false, ledger.StorageError(errorSubjectTransaction, errorCodeList, err)
	}
	entry, err := mapEntry(identity, account, rows)
	if err != nil {
		return ledger.Entry{}, false, ledger.StorageError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return entry, true, nil
}

// Write upserts the account balance and replaces its full history.
func (store *Store) Write(ctx context.Context, entry ledger.Entry) error {
	now := time.Now().UTC()
	account := Account{Identity: entry.Identity.String(), Balance: entry.Balance.Int64(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
		}).
		Create(&account).Error
	if err != nil {
		return ledger.StorageError(errorSubjectAccount, errorCodeUpdate, err)
	}
	err = store.db.WithContext(ctx).
		Where("identity = ?", entry.Identity.String()).
		Delete(&Transaction{}).Error
	if err != nil {
		return ledger.StorageError(errorSubjectTransaction, errorCodeDelete, err)
	}
	if len(entry.History) == 0 {
		return nil
	}
	rows := make([]Transaction, 0, len(entry.History))
	for index, item := range entry.History {
		rows = append(rows, Transaction{
			Identity:      entry.Identity.String(),
			Sequence:      index,
			Kind:          string(item.Kind),
			Amount:        item.Amount.Int64(),
			BalanceBefore: item.BalanceBefore.Int64(),
			BalanceAfter:  item.BalanceAfter.Int64(),
			Description:   item.Description,
			CreatedAt:     time.Unix(item.CreatedUnixUTC, 0).UTC(),
		})
	}
	err = store.db.WithContext(ctx).Create(&rows).Error
	if isUniqueConflict(err) {
		return ledger.StorageError(errorSubjectTransaction, errorCodeConflict, err)
	}
	if err != nil {
		return ledger.StorageError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func mapEntry(identity ledger.Identity, account Account, rows []Transaction) (ledger.Entry, error) {
	balance, err := ledger.NewCredits(account.Balance)
	if err != nil {
		return ledger.Entry{}, err
	}
	history := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		kind, err := ledger.ParseTransactionKind(row.Kind)
		if err != nil {
			return ledger.Entry{}, err
		}
		history = append(history, ledger.Transaction{
			Kind:           kind,
			Amount:         ledger.Credits(row.Amount),
			BalanceBefore:  ledger.Credits(row.BalanceBefore),
			BalanceAfter:   ledger.Credits(row.BalanceAfter),
			CreatedUnixUTC: row.CreatedAt.Unix(),
			Description:    row.Description,
		})
	}
	return ledger.Entry{Identity: identity, Balance: balance, History: history}, nil
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
