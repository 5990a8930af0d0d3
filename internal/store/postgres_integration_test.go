package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// These tests run against a real Postgres. They are skipped in short mode and
// when no test database is reachable.

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE reports, statements, refresh_sessions, revoked_access_tokens, users, politicians CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPostgresStore(db)
}

func seedAuthorAndPolitician(t *testing.T, s *PostgresStore) (string, string) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateUser(ctx, User{
		ID:           "user-1",
		DisplayName:  "Archivist One",
		Email:        "archivist@example.com",
		PasswordHash: "x",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := s.InsertPolitician(ctx, Politician{
		ID:     "pol-1",
		Name:   "Alex Stone",
		Party:  "Independent",
		Office: "Senator",
	}); err != nil {
		t.Fatalf("seed politician: %v", err)
	}
	return "user-1", "pol-1"
}

func insertTestStatement(t *testing.T, s *PostgresStore, id, politicianID, authorID string, statementTime time.Time) Statement {
	t.Helper()
	item, err := s.InsertStatement(context.Background(), Statement{
		ID:            id,
		PoliticianID:  politicianID,
		AuthorID:      authorID,
		Text:          "Statement body long enough for the archive: " + id,
		StatementTime: statementTime,
	})
	if err != nil {
		t.Fatalf("insert statement %s: %v", id, err)
	}
	return item
}

func TestListActiveStatementsTieBreakPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	authorID, politicianID := seedAuthorAndPolitician(t, s)

	// All rows share one statement_time so ordering falls entirely to the
	// id tie-break. Paging must still visit every row exactly once.
	when := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		insertTestStatement(t, s, fmt.Sprintf("st-%d", i), politicianID, authorID, when)
	}

	seen := map[string]bool{}
	for page := 0; page < 3; page++ {
		items, total, err := s.ListActiveStatements(ctx, StatementFilter{
			PoliticianID: politicianID,
			Field:        "statement_time",
			Limit:        2,
			Offset:       page * 2,
		})
		if err != nil {
			t.Fatalf("list page %d: %v", page, err)
		}
		if total != 5 {
			t.Fatalf("page %d: total = %d, want 5", page, total)
		}
		for _, item := range items {
			if seen[item.ID] {
				t.Fatalf("statement %s returned on more than one page", item.ID)
			}
			seen[item.ID] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("pages covered %d statements, want 5", len(seen))
	}

	// One page past the end keeps the metadata and returns no rows.
	items, total, err := s.ListActiveStatements(ctx, StatementFilter{
		PoliticianID: politicianID,
		Field:        "statement_time",
		Limit:        2,
		Offset:       10,
	})
	if err != nil {
		t.Fatalf("list out-of-range page: %v", err)
	}
	if total != 5 || len(items) != 0 {
		t.Fatalf("out-of-range page: total=%d len=%d, want 5 and 0", total, len(items))
	}
}

func TestListActiveStatementsExcludesSoftDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	authorID, politicianID := seedAuthorAndPolitician(t, s)

	when := time.Now().Add(-time.Hour)
	insertTestStatement(t, s, "st-keep", politicianID, authorID, when)
	insertTestStatement(t, s, "st-gone", politicianID, authorID, when)

	deleted, err := s.SoftDeleteStatement(ctx, "st-gone")
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if !deleted {
		t.Fatal("first soft delete reported no row")
	}

	items, total, err := s.ListActiveStatements(ctx, StatementFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != "st-keep" {
		t.Fatalf("expected only st-keep, got total=%d items=%v", total, items)
	}

	// The deleted row stays readable through the detail lookup.
	item, err := s.GetStatement(ctx, "st-gone")
	if err != nil {
		t.Fatalf("get deleted statement: %v", err)
	}
	if item.DeletedAt == nil {
		t.Fatal("deleted statement has nil DeletedAt")
	}

	// A second delete finds no active row.
	deleted, err = s.SoftDeleteStatement(ctx, "st-gone")
	if err != nil {
		t.Fatalf("second soft delete: %v", err)
	}
	if deleted {
		t.Fatal("second soft delete reported a row")
	}
}

func TestUpdateStatementSkipsDeletedRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	authorID, politicianID := seedAuthorAndPolitician(t, s)

	insertTestStatement(t, s, "st-1", politicianID, authorID, time.Now().Add(-time.Hour))

	newText := "Edited statement body, still comfortably within bounds."
	updated, err := s.UpdateStatement(ctx, "st-1", &newText, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated {
		t.Fatal("update on active row reported no match")
	}

	item, err := s.GetStatement(ctx, "st-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.Text != newText {
		t.Fatalf("text = %q, want %q", item.Text, newText)
	}

	if _, err := s.SoftDeleteStatement(ctx, "st-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	updated, err = s.UpdateStatement(ctx, "st-1", &newText, nil)
	if err != nil {
		t.Fatalf("update after delete: %v", err)
	}
	if updated {
		t.Fatal("update matched a soft-deleted row")
	}
}

func TestStatementDeleteGuardBlocksHardDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	authorID, politicianID := seedAuthorAndPolitician(t, s)
	insertTestStatement(t, s, "st-1", politicianID, authorID, time.Now().Add(-time.Hour))

	_, err := s.DB().ExecContext(ctx, `DELETE FROM statements WHERE id='st-1'`)
	if err == nil {
		t.Fatal("expected DELETE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}

func TestStatementDeleteGuardBlocksUndelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	authorID, politicianID := seedAuthorAndPolitician(t, s)
	insertTestStatement(t, s, "st-1", politicianID, authorID, time.Now().Add(-time.Hour))

	if _, err := s.SoftDeleteStatement(ctx, "st-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	_, err := s.DB().ExecContext(ctx, `UPDATE statements SET deleted_at=NULL WHERE id='st-1'`)
	if err == nil {
		t.Fatal("expected un-delete to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}

func TestStatementBodyLengthConstraint(t *testing.T) {
	s := openTestStore(t)
	authorID, politicianID := seedAuthorAndPolitician(t, s)

	_, err := s.InsertStatement(context.Background(), Statement{
		ID:            "st-short",
		PoliticianID:  politicianID,
		AuthorID:      authorID,
		Text:          "too short",
		StatementTime: time.Now().Add(-time.Hour),
	})
	if err == nil {
		t.Fatal("expected body length constraint to reject 9 characters")
	}
}

func TestGetStatementNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetStatement(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got: %v", err)
	}
}

// getTestDatabaseURL returns the database URL for testing. It checks the
// TEST_DATABASE_URL environment variable first, then falls back to the
// standard Postgres environment variables for CI setups.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "podium")
	pass := getenv("POSTGRES_PASSWORD", "podium")
	dbname := getenv("POSTGRES_DB", "podium_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
