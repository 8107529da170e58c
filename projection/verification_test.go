package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/merchops/projection-engine/projection"
	memstore "github.com/merchops/projection-engine/projection/store"
)

// expireFixture seeds one June forecast and runs it through an expiration
// scan, returning the store and the pending snapshot's id.
func expireFixture(t *testing.T) (projection.TxStore, string) {
	t.Helper()
	store := memstore.NewMemory()
	seedProjection(t, store, projection.Projection{
		ID: "p-1", VendorID: 7, SKU: "ABC-100", Year: 2025, Month: 6,
		OrderType: projection.OrderRegular, Quantity: 1000, ProjectionValue: 500000,
	})
	scanTime := time.Date(2025, time.October, 8, 9, 0, 0, 0, time.UTC)
	if _, err := newTestScanner(store, scanTime).Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	snaps := pendingSnapshots(t, store)
	if len(snaps) != 1 {
		t.Fatalf("fixture expected one pending snapshot, got %d", len(snaps))
	}
	return store, snaps[0].ID
}

func TestVerify_Verified_ClosesProjectionPermanently(t *testing.T) {
	// GIVEN: A pending expiration snapshot
	// WHEN: A reviewer confirms the order is no longer needed
	// THEN: Snapshot verified with audit fields; projection terminal at
	//       verified_unmatched

	store, snapID := expireFixture(t)
	v := projection.NewVerifier(store)

	e, err := v.Verify(context.Background(), snapID, projection.VerificationVerified, "jortega", "vendor confirmed on call")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if e.VerificationStatus != projection.VerificationVerified {
		t.Errorf("expected verified, got %s", e.VerificationStatus)
	}
	if e.VerifiedBy != "jortega" || e.VerificationNotes != "vendor confirmed on call" || e.VerifiedAt == nil {
		t.Errorf("audit fields not recorded: %+v", e)
	}

	if p := mustGet(t, store, "p-1"); p.Status != projection.StatusVerifiedUnmatched {
		t.Errorf("expected projection closed as verified_unmatched, got %s", p.Status)
	}
}

func TestVerify_Cancelled_LeavesProjectionExpired(t *testing.T) {
	store, snapID := expireFixture(t)
	v := projection.NewVerifier(store)

	e, err := v.Verify(context.Background(), snapID, projection.VerificationCancelled, "jortega", "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if e.VerificationStatus != projection.VerificationCancelled {
		t.Errorf("expected cancelled, got %s", e.VerificationStatus)
	}

	if p := mustGet(t, store, "p-1"); p.Status != projection.StatusExpired {
		t.Errorf("cancellation must leave the projection frozen, got %s", p.Status)
	}
}

func TestVerify_InputValidation(t *testing.T) {
	store, snapID := expireFixture(t)
	v := projection.NewVerifier(store)
	ctx := context.Background()

	// Only verified and cancelled are acceptable dispositions here.
	if _, err := v.Verify(ctx, snapID, projection.VerificationRestored, "jortega", ""); !errors.Is(err, projection.ErrValidation) {
		t.Errorf("expected validation error for restored via verify, got %v", err)
	}
	if _, err := v.Verify(ctx, snapID, "approved", "jortega", ""); !errors.Is(err, projection.ErrValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
	if _, err := v.Verify(ctx, snapID, projection.VerificationVerified, "  ", ""); !errors.Is(err, projection.ErrValidation) {
		t.Errorf("expected validation error for blank reviewer, got %v", err)
	}
	if _, err := v.Verify(ctx, "missing", projection.VerificationVerified, "jortega", ""); !errors.Is(err, projection.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestVerify_SecondDispositionRejected(t *testing.T) {
	// Verified and cancelled are terminal; nothing moves out of them.

	store, snapID := expireFixture(t)
	v := projection.NewVerifier(store)
	ctx := context.Background()

	if _, err := v.Verify(ctx, snapID, projection.VerificationVerified, "jortega", ""); err != nil {
		t.Fatalf("first disposition: %v", err)
	}

	if _, err := v.Verify(ctx, snapID, projection.VerificationCancelled, "mnguyen", ""); !errors.Is(err, projection.ErrInvalidTransition) {
		t.Errorf("expected invalid transition on a decided snapshot, got %v", err)
	}
	if _, err := v.Restore(ctx, snapID, "mnguyen"); !errors.Is(err, projection.ErrInvalidTransition) {
		t.Errorf("expected invalid transition restoring a decided snapshot, got %v", err)
	}
}

func TestRestore_ReturnsProjectionToOpenPool(t *testing.T) {
	// GIVEN: A pending snapshot for an expired projection
	// WHEN: Restored
	// THEN: Snapshot closes as restored; projection is unmatched again and a
	//       later scan may expire it a second time

	store, snapID := expireFixture(t)
	v := projection.NewVerifier(store)
	ctx := context.Background()

	e, err := v.Restore(ctx, snapID, "jortega")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if e.VerificationStatus != projection.VerificationRestored || e.RestoredBy != "jortega" {
		t.Errorf("expected restored by jortega, got %+v", e)
	}

	p := mustGet(t, store, "p-1")
	if p.Status != projection.StatusUnmatched {
		t.Errorf("expected unmatched after restore, got %s", p.Status)
	}
	if p.MatchedPONumber != nil || p.ActualQuantity != nil {
		t.Error("restore must clear match residue")
	}

	// The restored row is live again: a rerun produces a fresh snapshot.
	scanTime := time.Date(2025, time.October, 9, 9, 0, 0, 0, time.UTC)
	if _, err := newTestScanner(store, scanTime).Scan(ctx); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if n := len(pendingSnapshots(t, store)); n != 1 {
		t.Errorf("expected one new pending snapshot after re-expiry, got %d", n)
	}
}

func TestRestore_RequiresActor(t *testing.T) {
	store, snapID := expireFixture(t)
	v := projection.NewVerifier(store)

	if _, err := v.Restore(context.Background(), snapID, ""); !errors.Is(err, projection.ErrValidation) {
		t.Errorf("expected validation error for blank actor, got %v", err)
	}
	if _, err := v.Restore(context.Background(), "missing", "jortega"); !errors.Is(err, projection.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
