package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const ledgerFileName = "credits.json"

func TestStorePersistsEntriesAcrossInstances(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), "data", ledgerFileName)
	service := newService(test, mustStore(test, path))
	identity := mustIdentity(test, "user-1")
	ctx := context.Background()
	if _, err := service.Add(ctx, identity, 15, "Starter pack"); err != nil {
		test.Fatalf("add: %v", err)
	}
	if _, err := service.Deduct(ctx, identity, 5, "dub"); err != nil {
		test.Fatalf("deduct: %v", err)
	}

	reopened := newService(test, mustStore(test, path))
	entry, err := reopened.Balance(ctx, identity)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if entry.Balance != 10 || len(entry.History) != 3 {
		test.Fatalf("unexpected entry after reopen: %+v", entry)
	}
	last := entry.History[2]
	if last.Kind != ledger.TransactionDeduct || last.BalanceBefore != 15 || last.BalanceAfter != 10 || last.CreatedUnixUTC != 1700000000 {
		test.Fatalf("unexpected last record %+v", last)
	}
}

func TestStoreReadOfMissingIdentity(test *testing.T) {
	test.Parallel()
	store := mustStore(test, filepath.Join(test.TempDir(), ledgerFileName))
	_, found, err := store.Read(context.Background(), mustIdentity(test, "ghost"))
	if err != nil || found {
		test.Fatalf("expected not found without error, got %v (%v)", found, err)
	}
	if _, statErr := os.Stat(store.Path()); !errors.Is(statErr, os.ErrNotExist) {
		test.Fatalf("expected no document written by a read, got %v", statErr)
	}
}

func TestStoreFailsClosedOnCorruptDocument(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), ledgerFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		test.Fatalf("write corrupt file: %v", err)
	}
	service := newService(test, mustStore(test, path))
	_, err := service.Add(context.Background(), mustIdentity(test, "user-1"), 1, "")
	if !errors.Is(err, ledger.ErrStorage) {
		test.Fatalf("expected ErrStorage, got %v", err)
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil || string(data) != "{not json" {
		test.Fatalf("expected corrupt document untouched, got %q (%v)", data, readErr)
	}
}

func TestStoreSkipsWriteWhenTransactionFails(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), ledgerFileName)
	store := mustStore(test, path)
	errAbort := errors.New("abort")
	err := store.WithTx(context.Background(), func(ctx context.Context, txStore ledger.Store) error {
		entry, err := ledger.NewEntry(mustIdentity(test, "user-1"), 3, 1)
		if err != nil {
			return err
		}
		if err := txStore.Write(ctx, entry); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		test.Fatalf("expected abort error, got %v", err)
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		test.Fatalf("expected no document after aborted transaction, got %v", statErr)
	}
}

func TestStoreSerializesConcurrentMutations(test *testing.T) {
	test.Parallel()
	service := newService(test, mustStore(test, filepath.Join(test.TempDir(), ledgerFileName)))
	ctx := context.Background()
	const (
		identities  = 4
		perIdentity = 10
	)
	var waitGroup sync.WaitGroup
	for identityIndex := 0; identityIndex < identities; identityIndex++ {
		identity := mustIdentity(test, fmt.Sprintf("user-%d", identityIndex))
		for index := 0; index < perIdentity; index++ {
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				if _, err := service.Add(ctx, identity, 1, ""); err != nil {
					test.Errorf("add: %v", err)
				}
			}()
		}
	}
	waitGroup.Wait()
	for identityIndex := 0; identityIndex < identities; identityIndex++ {
		entry, err := service.Balance(ctx, mustIdentity(test, fmt.Sprintf("user-%d", identityIndex)))
		if err != nil {
			test.Fatalf("balance: %v", err)
		}
		if entry.Balance != perIdentity {
			test.Fatalf("expected %d credits, got %d", perIdentity, entry.Balance)
		}
	}
}

func TestNewRejectsEmptyPath(test *testing.T) {
	test.Parallel()
	if _, err := New(""); !errors.Is(err, ledger.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}

func mustStore(test *testing.T, path string) *Store {
	test.Helper()
	store, err := New(path)
	if err != nil {
		test.Fatalf("new store: %v", err)
	}
	return store
}

func newService(test *testing.T, store ledger.Store) *ledger.Service {
	test.Helper()
	service, err := ledger.NewService(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustIdentity(test *testing.T, raw string) ledger.Identity {
	test.Helper()
	identity, err := ledger.NewIdentity(raw)
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	return identity
}
