/*
store.go - Persistence interfaces for projections and expiration snapshots

PURPOSE:
  Defines the boundary between the engine and the database. Implementations
  exist for SQLite (production) and memory (tests/dev).

CONDITIONAL WRITES:
  Every state mutation names the status it expects the row to be in. The
  implementation must apply the write only if the row still holds that
  status (UPDATE ... WHERE id = ? AND status = ?) and return
  ErrConcurrentModification when zero rows are affected but the row exists.
  This is what lets the matcher, the scanner, and manual operators run
  concurrently without trampling each other's transitions.

LOOKUPS:
  Get* methods return (nil, nil) when the row does not exist; callers decide
  whether that is ErrNotFound.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production store
  - projection/store/memory.go: in-memory store for tests

SEE ALSO:
  - matcher.go, expiration.go, verification.go: the writers
  - report.go: the read side
*/
package projection

import "context"

// Filter narrows read queries to the slice a dashboard is looking at.
// Nil fields match everything.
type Filter struct {
	VendorID   *int64
	Brand      *string
	Year       *int
	Month      *int
	Statuses   []MatchStatus
	OrderTypes []OrderType
}

// Matches reports whether a projection passes the filter. Implementations
// may push parts of this into SQL but must agree with it.
func (f Filter) Matches(p Projection) bool {
	if f.VendorID != nil && p.VendorID != *f.VendorID {
		return false
	}
	if f.Brand != nil && p.Brand != *f.Brand {
		return false
	}
	if f.Year != nil && p.Year != *f.Year {
		return false
	}
	if f.Month != nil && p.Month != *f.Month {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, p.Status) {
		return false
	}
	if len(f.OrderTypes) > 0 && !containsOrderType(f.OrderTypes, p.OrderType) {
		return false
	}
	return true
}

func containsStatus(ss []MatchStatus, s MatchStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func containsOrderType(ots []OrderType, ot OrderType) bool {
	for _, v := range ots {
		if v == ot {
			return true
		}
	}
	return false
}

// =============================================================================
// STORE - Row-level persistence with conditional state writes
// =============================================================================

type Store interface {
	// InsertProjection creates a new forecast row.
	InsertProjection(ctx context.Context, p Projection) error

	// GetProjection returns a projection by id, or (nil, nil) if absent.
	GetProjection(ctx context.Context, id string) (*Projection, error)

	// GetOpenByKey returns the open (unmatched or partial) row sharing the
	// logical forecast key, if one exists. Used by import to supersede
	// instead of duplicate.
	GetOpenByKey(ctx context.Context, key string) (*Projection, error)

	// ListProjections returns all projections passing the filter.
	ListProjections(ctx context.Context, f Filter) ([]Projection, error)

	// OpenProjections returns the matching pool (unmatched + partial).
	OpenProjections(ctx context.Context) ([]Projection, error)

	// ProjectionByPONumber returns the projection currently carrying the PO
	// number, or (nil, nil). Enforces the one-PO-one-active-match rule.
	ProjectionByPONumber(ctx context.Context, poNumber string) (*Projection, error)

	// UpdateProjection writes all mutable fields of p, conditional on the
	// row still holding the expected status. Returns ErrNotFound if the row
	// is absent, ErrConcurrentModification if it moved.
	UpdateProjection(ctx context.Context, p Projection, expected MatchStatus) error

	// InsertExpired creates an expiration snapshot.
	InsertExpired(ctx context.Context, e ExpiredProjection) error

	// GetExpired returns a snapshot by id, or (nil, nil).
	GetExpired(ctx context.Context, id string) (*ExpiredProjection, error)

	// ListExpired returns snapshots, optionally restricted to one
	// verification status, newest first.
	ListExpired(ctx context.Context, status *VerificationStatus) ([]ExpiredProjection, error)

	// UpdateExpired writes the verification fields of e, conditional on the
	// snapshot still holding the expected verification status.
	UpdateExpired(ctx context.Context, e ExpiredProjection, expected VerificationStatus) error

	// UpsertPOFact retains an imported PO fact for later lookup. Facts are
	// external read-only data; re-imports overwrite in place.
	UpsertPOFact(ctx context.Context, f POFact) error

	// GetPOFact returns a PO fact by number, or (nil, nil).
	GetPOFact(ctx context.Context, poNumber string) (*POFact, error)

	// InsertRun records a batch run for the audit trail.
	InsertRun(ctx context.Context, r RunRecord) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-row transitions
// =============================================================================

// TxStore wraps Store with transaction support. Transitions that touch a
// projection and its expiration snapshot together (expire, restore, verify)
// run inside WithTx so a crash cannot leave the pair inconsistent.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
