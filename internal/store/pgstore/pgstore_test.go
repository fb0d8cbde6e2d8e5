package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

type recordingQuerier struct {
	statements []string
	copiedRows [][]any
	copyTable  pgx.Identifier
	execError  error
}

func (querier *recordingQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	querier.statements = append(querier.statements, sql)
	return pgconn.CommandTag{}, querier.execError
}

func (querier *recordingQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (querier *recordingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (querier *recordingQuerier) CopyFrom(_ context.Context, tableName pgx.Identifier, _ []string, rowSrc pgx.CopyFromSource) (int64, error) {
	querier.copyTable = tableName
	for rowSrc.Next() {
		values, err := rowSrc.Values()
		if err != nil {
			return 0, err
		}
		querier.copiedRows = append(querier.copiedRows, values)
	}
	return int64(len(querier.copiedRows)), rowSrc.Err()
}

func TestWriteEntryUpsertsAccountAndCopiesHistory(test *testing.T) {
	test.Parallel()
	identity, err := ledger.NewIdentity("user-1")
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	entry, err := ledger.NewEntry(identity, 0, 1700000000)
	if err != nil {
		test.Fatalf("entry: %v", err)
	}
	addition, err := ledger.NewTransaction(ledger.TransactionAdd, 15, 0, 15, 1700000001, "Starter pack")
	if err != nil {
		test.Fatalf("transaction: %v", err)
	}
	entry, err = entry.Apply(addition, ledger.DefaultHistoryCap)
	if err != nil {
		test.Fatalf("apply: %v", err)
	}

	querier := &recordingQuerier{}
	if err := writeEntry(context.Background(), querier, entry); err != nil {
		test.Fatalf("write: %v", err)
	}
	if len(querier.statements) != 2 || querier.statements[0] != sqlUpsertAccount || querier.statements[1] != sqlDeleteTransactions {
		test.Fatalf("unexpected statements %v", querier.statements)
	}
	if len(querier.copyTable) != 1 || querier.copyTable[0] != tableTransactions {
		test.Fatalf("unexpected copy table %v", querier.copyTable)
	}
	if len(querier.copiedRows) != 2 {
		test.Fatalf("expected two history rows, got %d", len(querier.copiedRows))
	}
	if querier.copiedRows[1][1] != 1 || querier.copiedRows[1][2] != "add" {
		test.Fatalf("unexpected second row %v", querier.copiedRows[1])
	}
}

func TestWriteEntryWrapsStorageErrors(test *testing.T) {
	test.Parallel()
	identity, err := ledger.NewIdentity("user-1")
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	querier := &recordingQuerier{execError: errors.New("connection reset")}
	err = writeEntry(context.Background(), querier, ledger.Entry{Identity: identity})
	if !errors.Is(err, ledger.ErrStorage) {
		test.Fatalf("expected ErrStorage, got %v", err)
	}
}
