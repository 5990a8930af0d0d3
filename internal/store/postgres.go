package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ---- Users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- Refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- Politicians ----

func (s *PostgresStore) GetPolitician(ctx context.Context, politicianID string) (Politician, error) {
	var item Politician
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, party, office, created_at, updated_at
		FROM politicians
		WHERE id=$1
	`, politicianID).Scan(&item.ID, &item.Name, &item.Party, &item.Office, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Politician{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListPoliticians(ctx context.Context) ([]Politician, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, party, office, created_at, updated_at
		FROM politicians
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list politicians: %w", err)
	}
	defer rows.Close()

	items := make([]Politician, 0)
	for rows.Next() {
		var item Politician
		if err := rows.Scan(&item.ID, &item.Name, &item.Party, &item.Office, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan politician: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate politicians: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) PoliticianExists(ctx context.Context, politicianID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM politicians WHERE id=$1)`, politicianID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check politician: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertPolitician(ctx context.Context, item Politician) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO politicians (id, name, party, office)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Name, item.Party, item.Office)
	if err != nil {
		return fmt.Errorf("insert politician: %w", err)
	}
	return nil
}

// ---- Statements ----

func (s *PostgresStore) InsertStatement(ctx context.Context, item Statement) (Statement, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO statements (id, politician_id, author_id, body, statement_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, item.ID, item.PoliticianID, item.AuthorID, item.Text, item.StatementTime).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Statement{}, fmt.Errorf("insert statement: %w", err)
	}
	return item, nil
}

// GetStatement returns the statement whether or not it is soft-deleted; the
// detail view must tell "deleted" apart from "never existed".
func (s *PostgresStore) GetStatement(ctx context.Context, statementID string) (Statement, error) {
	var item Statement
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.politician_id, s.author_id, COALESCE(u.display_name, ''), s.body, s.statement_time, s.created_at, s.updated_at, s.deleted_at
		FROM statements s
		LEFT JOIN users u ON u.id = s.author_id
		WHERE s.id=$1
	`, statementID).Scan(
		&item.ID,
		&item.PoliticianID,
		&item.AuthorID,
		&item.AuthorName,
		&item.Text,
		&item.StatementTime,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.DeletedAt,
	)
	if err != nil {
		return Statement{}, err
	}
	return item, nil
}

// UpdateStatement applies a partial update to an active statement. Nil fields
// keep their current value. Returns false when no active row matched: the
// statement is missing or was soft-deleted, possibly by a concurrent caller;
// the service disambiguates with GetStatement.
func (s *PostgresStore) UpdateStatement(ctx context.Context, statementID string, text *string, statementTime *time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE statements
		SET body = COALESCE($2, body),
			statement_time = COALESCE($3, statement_time),
			updated_at = NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, statementID, text, statementTime)
	if err != nil {
		return false, fmt.Errorf("update statement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update statement rows: %w", err)
	}
	return affected > 0, nil
}

// SoftDeleteStatement marks an active statement deleted. Returns false when
// the row is missing or already deleted, so a repeated delete is always
// observable as such rather than silently succeeding.
func (s *PostgresStore) SoftDeleteStatement(ctx context.Context, statementID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE statements
		SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, statementID)
	if err != nil {
		return false, fmt.Errorf("soft delete statement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete statement rows: %w", err)
	}
	return affected > 0, nil
}

const (
	listStatementsByCreatedAt = `
		SELECT s.id, s.politician_id, s.author_id, COALESCE(u.display_name, ''), s.body, s.statement_time, s.created_at, s.updated_at, s.deleted_at
		FROM statements s
		LEFT JOIN users u ON u.id = s.author_id
		WHERE s.deleted_at IS NULL
		  AND ($1 = '' OR s.politician_id = $1)
		  AND ($2::timestamptz IS NULL OR s.created_at >= $2)
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $3 OFFSET $4
	`
	countStatementsByCreatedAt = `
		SELECT COUNT(*)
		FROM statements s
		WHERE s.deleted_at IS NULL
		  AND ($1 = '' OR s.politician_id = $1)
		  AND ($2::timestamptz IS NULL OR s.created_at >= $2)
	`
	listStatementsByStatementTime = `
		SELECT s.id, s.politician_id, s.author_id, COALESCE(u.display_name, ''), s.body, s.statement_time, s.created_at, s.updated_at, s.deleted_at
		FROM statements s
		LEFT JOIN users u ON u.id = s.author_id
		WHERE s.deleted_at IS NULL
		  AND ($1 = '' OR s.politician_id = $1)
		  AND ($2::timestamptz IS NULL OR s.statement_time >= $2)
		ORDER BY s.statement_time DESC, s.id DESC
		LIMIT $3 OFFSET $4
	`
	countStatementsByStatementTime = `
		SELECT COUNT(*)
		FROM statements s
		WHERE s.deleted_at IS NULL
		  AND ($1 = '' OR s.politician_id = $1)
		  AND ($2::timestamptz IS NULL OR s.statement_time >= $2)
	`
)

// ListActiveStatements runs one feed or timeline page. Soft-deleted rows are
// always excluded. The count query shares the data query's WHERE arguments so
// total and data can never disagree on the predicate. Ordering descends on
// the filter field with the id as tie-break, keeping pages disjoint when many
// rows share one timestamp.
func (s *PostgresStore) ListActiveStatements(ctx context.Context, filter StatementFilter) ([]Statement, int, error) {
	var listQuery, countQuery string
	switch filter.Field {
	case "statement_time":
		listQuery, countQuery = listStatementsByStatementTime, countStatementsByStatementTime
	case "", "created_at":
		listQuery, countQuery = listStatementsByCreatedAt, countStatementsByCreatedAt
	default:
		return nil, 0, fmt.Errorf("unsupported statement sort field %q", filter.Field)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, filter.PoliticianID, filter.Cutoff).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count statements: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, listQuery, filter.PoliticianID, filter.Cutoff, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()

	items := make([]Statement, 0)
	for rows.Next() {
		var item Statement
		if err := rows.Scan(
			&item.ID,
			&item.PoliticianID,
			&item.AuthorID,
			&item.AuthorName,
			&item.Text,
			&item.StatementTime,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.DeletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan statement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate statements: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) CountStatements(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM statements`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count all statements: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountPoliticians(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM politicians`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count politicians: %w", err)
	}
	return count, nil
}

// ---- Reports ----

func (s *PostgresStore) InsertReport(ctx context.Context, report Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, statement_id, reporter_id, reason)
		VALUES ($1, $2, $3, $4)
	`, report.ID, report.StatementID, report.ReporterID, report.Reason)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsNotFound reports whether err is the store's row-missing signal.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
