// Package filestore keeps every ledger entry in a single JSON document on disk.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	lockSuffix      = ".lock"
	tempSuffix      = ".tmp"
	directoryMode   = 0o755
	fileMode        = 0o600
	subjectDocument = "document"
	subjectLock     = "lock"
)

// Store serializes all reads and writes of the document, across identities, through
// an in-process mutex and an advisory file lock.
type Store struct {
	path     string
	fileLock *flock.Flock
	mutex    sync.Mutex
}

type document struct {
	Users map[string]userRecord `json:"users"`
}

type userRecord struct {
	Credits int64               `json:"credits"`
	History []transactionRecord `json:"history"`
}

type transactionRecord struct {
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"description"`
}

type transaction struct {
	document *document
	dirty    bool
}

// New prepares a store backed by the JSON file at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty ledger path", ledger.ErrInvalidServiceConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), directoryMode); err != nil {
		return nil, ledger.StorageError(subjectDocument, "mkdir", err)
	}
	return &Store{path: path, fileLock: flock.New(path + lockSuffix)}, nil
}

// Path returns the document location.
func (store *Store) Path() string {
	return store.path
}

// WithTx loads the document, runs fn and persists the document when fn changed it.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.fileLock.Lock(); err != nil {
		return ledger.StorageError(subjectLock, "acquire", err)
	}
	defer store.fileLock.Unlock()

	loaded, err := store.load()
	if err != nil {
		return err
	}
	transactionStore := &transaction{document: loaded}
	if err := fn(ctx, transactionStore); err != nil {
		return err
	}
	if !transactionStore.dirty {
		return nil
	}
	return store.save(loaded)
}

// Read returns the stored entry for identity.
func (store *Store) Read(ctx context.Context, identity ledger.Identity) (ledger.Entry, bool, error) {
	var (
		entry ledger.Entry
		found bool
	)
	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		var readErr error
		entry, found, readErr = txStore.Read(ctx, identity)
		return readErr
	})
	return entry, found, err
}

// Write replaces the stored entry.
func (store *Store) Write(ctx context.Context, entry ledger.Entry) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		return txStore.Write(ctx, entry)
	})
}

func (store *Store) load() (*document, error) {
	data, err := os.ReadFile(store.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &document{Users: map[string]userRecord{}}, nil
		}
		return nil, ledger.StorageError(subjectDocument, "read", err)
	}
	loaded := &document{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, loaded); err != nil {
			return nil, ledger.StorageError(subjectDocument, "parse", err)
		}
	}
	if loaded.Users == nil {
		loaded.Users = map[string]userRecord{}
	}
	return loaded, nil
}

func (store *Store) save(current *document) error {
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return ledger.StorageError(subjectDocument, "marshal", err)
	}
	tempPath := store.path + tempSuffix
	if err := os.WriteFile(tempPath, data, fileMode); err != nil {
		return ledger.StorageError(subjectDocument, "write", err)
	}
	if err := os.Rename(tempPath, store.path); err != nil {
		_ = os.Remove(tempPath)
		return ledger.StorageError(subjectDocument, "rename", err)
	}
	return nil
}

func (transactionStore *transaction) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, transactionStore)
}

func (transactionStore *transaction) Read(_ context.Context, identity ledger.Identity) (ledger.Entry, bool, error) {
	record, found := transactionStore.document.Users[identity.String()]
	if !found {
		return ledger.Entry{}, false, nil
	}
	entry, err := record.toEntry(identity)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return entry, true, nil
}

func (transactionStore *transaction) Write(_ context.Context, entry ledger.Entry) error {
	transactionStore.document.Users[entry.Identity.String()] = newUserRecord(entry)
	transactionStore.dirty = true
	return nil
}

func newUserRecord(entry ledger.Entry) userRecord {
	history := make([]transactionRecord, 0, len(entry.History))
	for _, item := range entry.History {
		history = append(history, transactionRecord{
			Type:          string(item.Kind),
			Amount:        item.Amount.Int64(),
			BalanceBefore: item.BalanceBefore.Int64(),
			BalanceAfter:  item.BalanceAfter.Int64(),
			Timestamp:     time.Unix(item.CreatedUnixUTC, 0).UTC(),
			Description:   item.Description,
		})
	}
	return userRecord{Credits: entry.Balance.Int64(), History: history}
}

func (record userRecord) toEntry(identity ledger.Identity) (ledger.Entry, error) {
	balance, err := ledger.NewCredits(record.Credits)
	if err != nil {
		return ledger.Entry{}, ledger.StorageError(subjectDocument, "balance", err)
	}
	history := make([]ledger.Transaction, 0, len(record.History))
	for _, item := range record.History {
		kind, err := ledger.ParseTransactionKind(item.Type)
		if err != nil {
			return ledger.Entry{}, ledger.StorageError(subjectDocument, "history", err)
		}
		history = append(history, ledger.Transaction{
			Kind:           kind,
			Amount:         ledger.Credits(item.Amount),
			BalanceBefore:  ledger.Credits(item.BalanceBefore),
			BalanceAfter:   ledger.Credits(item.BalanceAfter),
			CreatedUnixUTC: item.Timestamp.Unix(),
			Description:    item.Description,
		})
	}
	return ledger.Entry{Identity: identity, Balance: balance, History: history}, nil
}
