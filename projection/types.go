/*
Package projection is the core of the reconciliation and lifecycle engine
for vendor demand forecasts.

PURPOSE:
  A vendor submits a forecast ("projection") of how much of a SKU it expects
  to be ordered in a given month. Purchase orders then arrive over weeks or
  months. This package reconciles the incoming PO stream against the open
  forecast pool, computes forecast-vs-actual variance, and manages the
  expiration/verification lifecycle for forecasts whose order window has
  passed with nothing (or not enough) ordered against them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Projection: a single forecast line and its current lifecycle status
  - ExpiredProjection: an immutable snapshot taken when the order window lapses
  - POFact: a read-only purchase order fact consumed by matching
  - MatchStatus / VerificationStatus: the two lifecycles

LIFECYCLE:
  unmatched <-> partial/matched   (matching, manual unmatch)
  unmatched/partial -> removed    (terminal, manual, reason required)
  unmatched/partial -> expired    (automatic scan; snapshot created)
  expired -> unmatched            (restore of the snapshot)
  expired -> verified_unmatched   (verified disposition of the snapshot)

DESIGN PRINCIPLES:
  1. Projections are never physically deleted; terminal states are logical.
  2. All money is integer minor-currency units (cents).
  3. Dates carry no time-of-day significance for month/threshold arithmetic.
  4. Every state mutation is conditional on the expected current status.

SEE ALSO:
  - window.go:       Order-type expiration thresholds and month arithmetic
  - variance.go:     Forecast-vs-actual variance math
  - matcher.go:      Automatic PO-to-projection matching
  - expiration.go:   Overdue scan producing ExpiredProjection snapshots
  - verification.go: Human disposition of expired snapshots
*/
package projection

import (
	"fmt"
	"time"
)

// =============================================================================
// ORDER TYPE - Determines the reconciliation window
// =============================================================================

type OrderType string

const (
	OrderRegular OrderType = "regular" // Stock order, 90-day window
	OrderMTO     OrderType = "mto"     // Made-to-order, 30-day window
	OrderSPO     OrderType = "spo"     // Special purchase order, 30-day window
)

// ValidOrderType reports whether s is a known order type.
func ValidOrderType(s string) bool {
	switch OrderType(s) {
	case OrderRegular, OrderMTO, OrderSPO:
		return true
	}
	return false
}

// IsSpecial reports whether the order type uses the short (MTO/SPO) window.
func (ot OrderType) IsSpecial() bool {
	return ot == OrderMTO || ot == OrderSPO
}

// =============================================================================
// MATCH STATUS - Projection lifecycle
// =============================================================================

type MatchStatus string

const (
	StatusUnmatched         MatchStatus = "unmatched"
	StatusPartial           MatchStatus = "partial"
	StatusMatched           MatchStatus = "matched"
	StatusRemoved           MatchStatus = "removed"
	StatusExpired           MatchStatus = "expired"
	StatusVerifiedUnmatched MatchStatus = "verified_unmatched"
)

// IsOpen reports whether the status keeps the projection in the matching pool.
func (s MatchStatus) IsOpen() bool {
	return s == StatusUnmatched || s == StatusPartial
}

// IsTerminal reports whether no further lifecycle operations apply.
func (s MatchStatus) IsTerminal() bool {
	return s == StatusRemoved || s == StatusVerifiedUnmatched
}

// =============================================================================
// PROJECTION - A vendor's forecast for (vendor, sku, brand, month, order type)
// =============================================================================

type Projection struct {
	ID             string
	VendorID       int64
	SKU            string
	SKUDescription string
	Collection     string
	Brand          string
	Year           int
	Month          int // 1-12
	OrderType      OrderType

	Quantity        int64 // forecast units, >= 0
	ProjectionValue int64 // forecast value in minor currency units, >= 0

	ImportBatchID     string
	ProjectionRunDate time.Time // when the vendor produced the forecast
	SourceFile        string

	// Match attributes. Nil until the projection is matched; cleared on unmatch.
	MatchedPONumber  *string
	ActualQuantity   *int64
	ActualValue      *int64
	QuantityVariance *int64
	ValueVariance    *int64
	VariancePct      *int64
	MatchedAt        *time.Time

	Status    MatchStatus
	RemovalReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the logical identity of the forecast line. Re-imports supersede
// the open row with the same key instead of inserting a duplicate.
func (p Projection) Key() string {
	return fmt.Sprintf("%d|%s|%s|%d|%02d|%s", p.VendorID, p.SKU, p.Brand, p.Year, p.Month, p.OrderType)
}

// ClearMatch removes all match residue, returning the projection to the
// state it had before any PO was applied.
func (p *Projection) ClearMatch() {
	p.MatchedPONumber = nil
	p.ActualQuantity = nil
	p.ActualValue = nil
	p.QuantityVariance = nil
	p.ValueVariance = nil
	p.VariancePct = nil
	p.MatchedAt = nil
}

// =============================================================================
// VERIFICATION STATUS - ExpiredProjection sub-lifecycle
// =============================================================================

type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationVerified  VerificationStatus = "verified"
	VerificationCancelled VerificationStatus = "cancelled"
	VerificationRestored  VerificationStatus = "restored"
)

// IsTerminal reports whether the verification decision is final.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationVerified || s == VerificationCancelled || s == VerificationRestored
}

// =============================================================================
// EXPIRED PROJECTION - Immutable snapshot of a lapsed forecast
// =============================================================================

// ExpiredProjection is created exactly once per expiration event. The
// originating Projection remains authoritative for audit; the snapshot owns
// the verification sub-lifecycle.
type ExpiredProjection struct {
	ID                   string
	OriginalProjectionID string

	// Field snapshot at expiration time.
	VendorID        int64
	SKU             string
	SKUDescription  string
	Collection      string
	Brand           string
	Year            int
	Month           int
	OrderType       OrderType
	Quantity        int64
	ProjectionValue int64
	StatusAtExpiry  MatchStatus

	ExpiredAt        time.Time
	ExpirationReason string
	ThresholdDays    int
	DaysOverdue      int

	VerificationStatus VerificationStatus
	VerifiedAt         *time.Time
	VerifiedBy         string
	RestoredBy         string
	VerificationNotes  string

	CreatedAt time.Time
}

// =============================================================================
// PO FACT - External purchase order data, read-only to this engine
// =============================================================================

// POFact is a line from the purchase order import. The engine never writes
// to PO state; facts are retained verbatim so manual matching can look a PO
// up by number after the batch run.
type POFact struct {
	PONumber           string
	Vendor             string // vendor number as exported (numeric string)
	SKU                string
	OrderQuantity      int64
	TotalValue         int64 // minor currency units
	PODate             time.Time
	OriginalShipDate   time.Time // HOD; zero when the export had no ship date
	ProgramDescription string
}

// EffectiveShipDate is the date used to place the PO inside a target month.
// Falls back to the PO date when the export carried no ship date.
func (f POFact) EffectiveShipDate() time.Time {
	if !f.OriginalShipDate.IsZero() {
		return f.OriginalShipDate
	}
	return f.PODate
}

// =============================================================================
// RUN RECORDS - Audit trail for batch operations
// =============================================================================

type RunKind string

const (
	RunMatching   RunKind = "matching"
	RunExpiration RunKind = "expiration"
)

// RunRecord is one row per batch run (matching or expiration scan), kept for
// the operations dashboard.
type RunRecord struct {
	ID          string
	Kind        RunKind
	BatchSize   int
	Matched     int
	Variances   int
	Expired     int
	ErrorCount  int
	StartedAt   time.Time
	CompletedAt time.Time
}

// MatchRunSummary is returned by a matching run. Errors hold per-row
// failures; the run itself always completes.
type MatchRunSummary struct {
	Matched   int
	Partial   int
	Variances int
	Skipped   int
	Errors    []string
}

// ExpirationRunSummary is returned by an expiration scan, bucketed the way
// the validation dashboard displays it.
type ExpirationRunSummary struct {
	RegularExpired int
	SpoExpired     int // mto + spo
	Errors         []string
}
