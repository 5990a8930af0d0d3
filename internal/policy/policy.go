// Package policy holds the pure time and permission rules for statements:
// the post-creation edit window, symbolic time ranges for timeline queries,
// and the derived per-viewer permission flags.
package policy

import (
	"fmt"
	"time"
)

// DefaultEditWindow is how long after creation an author may still edit or
// delete a statement. Deployments tune this through configuration.
const DefaultEditWindow = 15 * time.Minute

// WithinEditWindow reports whether a statement created at createdAt is still
// editable at now. The window is half-open: editable on [createdAt,
// createdAt+window), immutable from createdAt+window onward.
func WithinEditWindow(createdAt, now time.Time, window time.Duration) bool {
	return now.Sub(createdAt) < window
}

type TimeRange string

const (
	Range7d   TimeRange = "7d"
	Range30d  TimeRange = "30d"
	Range365d TimeRange = "365d"
	RangeAll  TimeRange = "all"
)

// ParseTimeRange validates a caller-supplied range value. Unknown values are
// rejected rather than defaulted.
func ParseTimeRange(value string) (TimeRange, error) {
	switch TimeRange(value) {
	case Range7d, Range30d, Range365d, RangeAll:
		return TimeRange(value), nil
	case "":
		return RangeAll, nil
	default:
		return "", fmt.Errorf("unknown time range %q", value)
	}
}

// Cutoff returns the inclusive lower bound for the range relative to now.
// The second return is false for RangeAll, which applies no cutoff.
func (r TimeRange) Cutoff(now time.Time) (time.Time, bool) {
	switch r {
	case Range7d:
		return now.AddDate(0, 0, -7), true
	case Range30d:
		return now.AddDate(0, 0, -30), true
	case Range365d:
		return now.AddDate(0, 0, -365), true
	default:
		return time.Time{}, false
	}
}

type SortField string

const (
	SortCreatedAt     SortField = "created_at"
	SortStatementTime SortField = "statement_time"
)

// ParseSortField validates a caller-supplied sort field.
func ParseSortField(value string) (SortField, error) {
	switch SortField(value) {
	case SortCreatedAt, SortStatementTime:
		return SortField(value), nil
	case "":
		return SortCreatedAt, nil
	default:
		return "", fmt.Errorf("unknown sort field %q", value)
	}
}

// State is the derived lifecycle state of a statement.
type State string

const (
	StateMutable   State = "mutable"
	StateImmutable State = "immutable"
	StateDeleted   State = "deleted"
)

// StateOf derives the lifecycle state from the statement's timestamps. A
// deleted statement is terminal regardless of the window.
func StateOf(createdAt time.Time, deletedAt *time.Time, now time.Time, window time.Duration) State {
	if deletedAt != nil {
		return StateDeleted
	}
	if WithinEditWindow(createdAt, now, window) {
		return StateMutable
	}
	return StateImmutable
}

// Flags are the per-viewer permission flags attached to every statement
// projection. They are derived per read, never stored.
type Flags struct {
	CanEdit   bool
	CanDelete bool
}

// Evaluate computes the permission flags for one (statement, viewer) pair at
// a single reference instant. viewerID is empty for anonymous viewers. Both
// flags come from the same predicate and never diverge.
func Evaluate(authorID string, createdAt time.Time, deletedAt *time.Time, viewerID string, now time.Time, window time.Duration) Flags {
	if viewerID == "" || viewerID != authorID {
		return Flags{}
	}
	if StateOf(createdAt, deletedAt, now, window) != StateMutable {
		return Flags{}
	}
	return Flags{CanEdit: true, CanDelete: true}
}
