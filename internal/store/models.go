package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Politician struct {
	ID        string
	Name      string
	Party     string
	Office    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Statement is a timestamped political statement contributed by a user.
// DeletedAt is nil while the statement is active; once set the statement is
// terminal: excluded from feeds and timelines but retained for audit.
type Statement struct {
	ID           string
	PoliticianID string
	AuthorID     string
	AuthorName   string
	Text         string
	// StatementTime is when the statement was actually made, supplied by the
	// contributor. Never after CreatedAt.
	StatementTime time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type Report struct {
	ID          string
	StatementID string
	ReporterID  string
	Reason      string
	CreatedAt   time.Time
}

// StatementFilter describes one feed or timeline query. Field selects the
// timestamp column both the cutoff and the sort apply to; the count and data
// queries always share the same predicate.
type StatementFilter struct {
	PoliticianID string
	Field        string // "created_at" or "statement_time"
	Cutoff       *time.Time
	Limit        int
	Offset       int
}
