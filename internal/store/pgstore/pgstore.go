package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	errorSubjectAccount     = "account"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCopy           = "copy"
	errorCodeDelete         = "delete"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeMigrate        = "migrate"
	errorCodeUpsert         = "upsert"

	tableTransactions = "ledger_transactions"

	sqlCreateSchema = `
		create table if not exists ledger_accounts (
			identity text primary key,
			balance bigint not null check (balance >= 0),
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);
		create table if not exists ledger_transactions (
			transaction_id uuid primary key default gen_random_uuid(),
			identity text not null references ledger_accounts(identity) on delete cascade,
			sequence integer not null,
			kind text not null,
			amount bigint not null,
			balance_before bigint not null,
			balance_after bigint not null,
			description text not null,
			created_at timestamptz not null,
			unique (identity, sequence)
		);
	`

	sqlSelectAccount = `
		select balance from ledger_accounts where identity = $1
	`

	sqlSelectAccountForUpdate = `
		select balance from ledger_accounts where identity = $1 for update
	`

	sqlSelectTransactions = `
		select kind, amount, balance_before, balance_after, extract(epoch from created_at)::bigint, description
		from ledger_transactions
		where identity = $1
		order by sequence asc
	`

	sqlUpsertAccount = `
		insert into ledger_accounts(identity, balance) values($1, $2)
		on conflict (identity) do update set balance = excluded.balance, updated_at = now()
	`

	sqlDeleteTransactions = `
		delete from ledger_transactions where identity = $1
	`
)

var transactionColumns = []string{"identity", "sequence", "kind", "amount", "balance_before", "balance_after", "description", "created_at"}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the ledger tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sqlCreateSchema); err != nil {
		return ledger.StorageError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.StorageError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.StorageError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) Read(ctx context.Context, identity ledger.Identity) (ledger.Entry, bool, error) {
	return readEntry(ctx, store.pool, sqlSelectAccount, identity)
}

func (store *Store) Write(ctx context.Context, entry ledger.Entry) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		return txStore.Write(ctx, entry)
	})
}

func (transactionStore *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, transactionStore)
}

func (transactionStore *TxStore) Read(ctx context.Context, identity ledger.Identity) (ledger.Entry, bool, error) {
	return readEntry(ctx, transactionStore.tx, sqlSelectAccountForUpdate, identity)
}

func (transactionStore *TxStore) Write(ctx context.Context, entry ledger.Entry) error {
	return writeEntry(ctx, transactionStore.tx, entry)
}

func readEntry(ctx context.Context, db querier, accountQuery string, identity ledger.Identity) (ledger.Entry, bool, error) {
	var balanceValue int64
	err := db.QueryRow(ctx, accountQuery, identity.String()).Scan(&balanceValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, ledger.StorageError(errorSubjectAccount, errorCodeLookup, err)
	}
	balance, err := ledger.NewCredits(balanceValue)
	if err != nil {
		return ledger.Entry{}, false, ledger.StorageError(errorSubjectAccount, errorCodeInvalid, err)
	}
	rows, err := db.Query(ctx, sqlSelectTransactions, identity.String())
	if err != nil {
		return ledger.Entry{}, false, ledger.StorageError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	history := make([]ledger.Transaction, 0)
	for rows.Next() {
		var (
			kindValue      string
			amount         int64
			balanceBefore  int64
			balanceAfter   int64
			createdUnixUTC int64
			description    string
		)
		if err := rows.Scan(&kindValue, &amount, &balanceBefore, &balanceAfter, &createdUnixUTC, &description); err != nil {
			return ledger.Entry{}, false, ledger.StorageError(errorSubjectTransaction, errorCodeList, err)
		}
		kind, err := ledger.ParseTransactionKind(kindValue)
		if err != nil {
			return ledger.Entry{}, false, ledger.StorageError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		history = append(history, ledger.Transaction{
			Kind:           kind,
			Amount:         ledger.Credits(amount),
			BalanceBefore:  ledger.Credits(balanceBefore),
			BalanceAfter:   ledger.Credits(balanceAfter),
			CreatedUnixUTC: createdUnixUTC,
			Description:    description,
		})
	}
	if err := rows.Err(); err != nil {
		return ledger.Entry{}, false, ledger.StorageError(errorSubjectTransaction, errorCodeList, err)
	}
	return ledger.Entry{Identity: identity, Balance: balance, History: history}, true, nil
}

func writeEntry(ctx context.Context, db querier, entry ledger.Entry) error {
	if _, err := db.Exec(ctx, sqlUpsertAccount, entry.Identity.String(), entry.Balance.Int64()); err != nil {
		return ledger.StorageError(errorSubjectAccount, errorCodeUpsert, err)
	}
	if _, err := db.Exec(ctx, sqlDeleteTransactions, entry.Identity.String()); err != nil {
		return ledger.StorageError(errorSubjectTransaction, errorCodeDelete, err)
	}
	rows := make([][]any, 0, len(entry.History))
	for index, item := range entry.History {
		rows = append(rows, []any{
			entry.Identity.String(),
			index,
			string(item.Kind),
			item.Amount.Int64(),
			item.BalanceBefore.Int64(),
			item.BalanceAfter.Int64(),
			item.Description,
			time.Unix(item.CreatedUnixUTC, 0).UTC(),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := db.CopyFrom(ctx, pgx.Identifier{tableTransactions}, transactionColumns, pgx.CopyFromRows(rows)); err != nil {
		return ledger.StorageError(errorSubjectTransaction, errorCodeCopy, err)
	}
	return nil
}
