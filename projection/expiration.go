/*
expiration.go - Sweep that converts overdue open projections into snapshots

PURPOSE:
  Walks the open pool and, for every projection whose order window has
  lapsed (window.go), freezes the row at status "expired" and creates an
  ExpiredProjection snapshot awaiting human disposition.

IDEMPOTENCY:
  The scan only considers unmatched/partial rows. Expiring a row moves it
  to "expired", so a second scan skips it structurally; no bookkeeping
  table is needed. A restored projection returns to "unmatched" and may
  legitimately expire again, producing a new snapshot.

CONCURRENCY:
  Each row is expired inside its own transaction with a conditional status
  write, so overlapping scans (or a scan racing a manual operation) lose
  the race on that one row and move on.
*/
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ExpirationReasonDefault is recorded on snapshots produced by the scan.
const ExpirationReasonDefault = "order window passed with no matching PO"

// Scanner expires overdue open projections.
type Scanner struct {
	Store TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// NewScanner creates a scanner with the given store.
func NewScanner(store TxStore, log logrus.FieldLogger) *Scanner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scanner{Store: store, Log: log, Now: time.Now}
}

// Scan expires every open projection whose window has lapsed. Safe to
// invoke repeatedly and concurrently; per-row conflicts are collected, not
// fatal.
func (s *Scanner) Scan(ctx context.Context) (ExpirationRunSummary, error) {
	started := s.Now()
	var summary ExpirationRunSummary

	pool, err := s.Store.OpenProjections(ctx)
	if err != nil {
		return summary, fmt.Errorf("load open projections: %w", err)
	}

	now := s.Now()
	for _, p := range pool {
		if !p.ExpirationEligible(now) {
			continue
		}
		if err := s.expireOne(ctx, p, now); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("projection %s: %v", p.ID, err))
			continue
		}
		if p.OrderType.IsSpecial() {
			summary.SpoExpired++
		} else {
			summary.RegularExpired++
		}
	}

	run := RunRecord{
		ID:          uuid.NewString(),
		Kind:        RunExpiration,
		BatchSize:   len(pool),
		Expired:     summary.RegularExpired + summary.SpoExpired,
		ErrorCount:  len(summary.Errors),
		StartedAt:   started,
		CompletedAt: s.Now(),
	}
	if err := s.Store.InsertRun(ctx, run); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("record run: %v", err))
	}

	s.Log.WithFields(logrus.Fields{
		"scanned": len(pool),
		"regular": summary.RegularExpired,
		"spo":     summary.SpoExpired,
		"errors":  len(summary.Errors),
	}).Info("expiration scan complete")

	return summary, nil
}

// expireOne freezes the projection and creates its snapshot atomically.
func (s *Scanner) expireOne(ctx context.Context, p Projection, now time.Time) error {
	snap := SnapshotOf(p, now)

	return s.Store.WithTx(ctx, func(store Store) error {
		expected := p.Status
		frozen := p
		frozen.Status = StatusExpired
		frozen.UpdatedAt = now
		if err := store.UpdateProjection(ctx, frozen, expected); err != nil {
			return err
		}
		return store.InsertExpired(ctx, snap)
	})
}

// SnapshotOf copies the projection's fields into a pending expiration
// snapshot.
func SnapshotOf(p Projection, now time.Time) ExpiredProjection {
	return ExpiredProjection{
		ID:                   uuid.NewString(),
		OriginalProjectionID: p.ID,
		VendorID:             p.VendorID,
		SKU:                  p.SKU,
		SKUDescription:       p.SKUDescription,
		Collection:           p.Collection,
		Brand:                p.Brand,
		Year:                 p.Year,
		Month:                p.Month,
		OrderType:            p.OrderType,
		Quantity:             p.Quantity,
		ProjectionValue:      p.ProjectionValue,
		StatusAtExpiry:       p.Status,
		ExpiredAt:            now,
		ExpirationReason:     ExpirationReasonDefault,
		ThresholdDays:        ThresholdDays(p.OrderType),
		DaysOverdue:          p.DaysOverdue(now),
		VerificationStatus:   VerificationPending,
		CreatedAt:            now,
	}
}
