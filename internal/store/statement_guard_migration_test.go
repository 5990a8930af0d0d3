package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStatementDeleteGuardMigrationUsesBlockingTriggers(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0005_statement_delete_guard.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"statements_delete_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_statements_block_delete",
		"CREATE TRIGGER trg_statements_block_undelete",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail delete guard, found silent DO INSTEAD NOTHING rule")
	}
}
