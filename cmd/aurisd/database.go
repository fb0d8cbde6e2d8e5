package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/config"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/dubbing"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	defaultSQLiteFile = "aurisvoice.db"
)

// dubbingHistory is what the API and the orchestrator need from a history backend.
type dubbingHistory interface {
	dubbing.HistoryRecorder
	dubbing.HistoryFinder
}

// storage bundles the selected ledger backend and its dubbing history.
type storage struct {
	ledger  ledger.Store
	history dubbingHistory
	cleanup func() error
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage, error) {
	switch cfg.LedgerBackend {
	case config.BackendGORM:
		db, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return storage{}, fmt.Errorf("database open: %w", err)
		}
		if err := prepareSchema(db, driver); err != nil {
			_ = cleanup()
			return storage{}, err
		}
		logger.Info("ledger storage ready", zap.String("backend", cfg.LedgerBackend), zap.String("driver", driver))
		return storage{ledger: gormstore.New(db), history: gormstore.NewHistoryStore(db), cleanup: cleanup}, nil
	case config.BackendPGX:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return storage{}, fmt.Errorf("pgx pool: %w", err)
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return storage{}, err
		}
		logger.Info("ledger storage ready", zap.String("backend", cfg.LedgerBackend))
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return storage{ledger: pgstore.New(pool), history: dubbing.NewMemoryHistory(cfg.DubHistoryLimit), cleanup: cleanup}, nil
	default:
		store, err := filestore.New(cfg.LedgerPath)
		if err != nil {
			return storage{}, fmt.Errorf("ledger file: %w", err)
		}
		logger.Info("ledger storage ready", zap.String("backend", cfg.LedgerBackend), zap.String("path", store.Path()))
		return storage{ledger: store, history: dubbing.NewMemoryHistory(cfg.DubHistoryLimit), cleanup: func() error { return nil }}, nil
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		// A single connection serializes writers on the sqlite file.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Host + u.Path
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if err := gormstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate %s: %w", driver, err)
	}
	return nil
}
