package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/config"
)

const errorMismatchMessage = "expected %v, got %v"

func TestResolveDriver(test *testing.T) {
	directory := test.TempDir()
	absolute := filepath.Join(directory, "nested", "ledger.db")
	testCases := []struct {
		name       string
		dsn        string
		wantDriver string
		wantPath   string
	}{
		{name: "postgres", dsn: "postgres://user@localhost/auris", wantDriver: driverPostgres},
		{name: "postgresql", dsn: "postgresql://user@localhost/auris", wantDriver: driverPostgres},
		{name: "sqlite absolute", dsn: "sqlite://" + absolute, wantDriver: driverSQLite, wantPath: absolute},
		{name: "memory", dsn: ":memory:", wantDriver: driverSQLite, wantPath: ":memory:"},
		{name: "bare path", dsn: absolute, wantDriver: driverSQLite, wantPath: absolute},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			driver, path, err := resolveDriver(testCase.dsn)
			if err != nil {
				test.Fatalf("resolve: %v", err)
			}
			if driver != testCase.wantDriver {
				test.Fatalf(errorMismatchMessage, testCase.wantDriver, driver)
			}
			if path != testCase.wantPath {
				test.Fatalf(errorMismatchMessage, testCase.wantPath, path)
			}
		})
	}
}

func TestLoadConfigReadsEnvironment(test *testing.T) {
	test.Setenv("AURIS_LEDGER_BACKEND", "gorm")
	test.Setenv("AURIS_LISTEN_ADDR", ":4000")
	test.Setenv("AURIS_CREDITS_PRO", "75")
	test.Setenv("AURIS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := &config.Config{}
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--" + flagEnvFile, ""}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	if err := loadConfig(cmd, cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":4000" {
		test.Fatalf(errorMismatchMessage, ":4000", cfg.ListenAddr)
	}
	if cfg.LedgerBackend != config.BackendGORM {
		test.Fatalf(errorMismatchMessage, config.BackendGORM, cfg.LedgerBackend)
	}
	if !strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
		test.Fatalf("expected sqlite default url, got %s", cfg.DatabaseURL)
	}
	if cfg.PlanCredits["pro"] != 75 {
		test.Fatalf(errorMismatchMessage, 75, cfg.PlanCredits["pro"])
	}
	if len(cfg.AllowedOrigins) != 2 {
		test.Fatalf(errorMismatchMessage, 2, len(cfg.AllowedOrigins))
	}
}

func TestCreditsCommandsUseFileLedger(test *testing.T) {
	directory := test.TempDir()
	test.Setenv("AURIS_LEDGER_PATH", filepath.Join(directory, "credits.json"))
	test.Setenv("AURIS_AUDIT_DIR", filepath.Join(directory, "logs"))

	run := func(args ...string) string {
		test.Helper()
		var output bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&output)
		cmd.SetArgs(append([]string{"--env-file", ""}, args...))
		if err := cmd.ExecuteContext(context.Background()); err != nil {
			test.Fatalf("%v: %v", args, err)
		}
		return output.String()
	}

	if output := run("credits", "grant", "user-1", "15"); !strings.Contains(output, "user-1: 15 credits") {
		test.Fatalf("unexpected grant output %q", output)
	}
	if output := run("credits", "balance", "user-1"); !strings.Contains(output, "Ajout manuel (CLI)") {
		test.Fatalf("expected history line, got %q", output)
	}
	if output := run("credits", "reset", "user-1", "0"); !strings.HasPrefix(output, "user-1: 0 credits") {
		test.Fatalf("unexpected reset output %q", output)
	}
}
