package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/merchops/projection-engine/projection"
	memstore "github.com/merchops/projection-engine/projection/store"
)

func newTestScanner(store projection.TxStore, now time.Time) *projection.Scanner {
	s := projection.NewScanner(store, nil)
	s.Now = func() time.Time { return now }
	return s
}

func pendingSnapshots(t *testing.T, store projection.TxStore) []projection.ExpiredProjection {
	t.Helper()
	pending := projection.VerificationPending
	snaps, err := store.ListExpired(context.Background(), &pending)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	return snaps
}

func TestScan_ExpiresLapsedWindowsByOrderType(t *testing.T) {
	// GIVEN: June 2025 forecasts across all three order types, plus a current
	//        one that is still inside its window
	// WHEN: Scanned on October 1st (past the 90-day regular window and far
	//       past the 30-day made-to-order window)
	// THEN: The June rows expire into the right buckets; the current row stays

	store := memstore.NewMemory()
	seedProjection(t, store, projection.Projection{
		ID: "p-reg", VendorID: 7, SKU: "REG-1", Year: 2025, Month: 6,
		OrderType: projection.OrderRegular, Quantity: 100, ProjectionValue: 50000,
	})
	seedProjection(t, store, projection.Projection{
		ID: "p-mto", VendorID: 7, SKU: "MTO-1", Year: 2025, Month: 6,
		OrderType: projection.OrderMTO, Quantity: 100, ProjectionValue: 50000,
	})
	seedProjection(t, store, projection.Projection{
		ID: "p-spo", VendorID: 7, SKU: "SPO-1", Year: 2025, Month: 6,
		OrderType: projection.OrderSPO, Quantity: 100, ProjectionValue: 50000,
	})
	seedProjection(t, store, projection.Projection{
		ID: "p-current", VendorID: 7, SKU: "CUR-1", Year: 2025, Month: 9,
		OrderType: projection.OrderRegular, Quantity: 100, ProjectionValue: 50000,
	})

	scanTime := time.Date(2025, time.October, 1, 9, 0, 0, 0, time.UTC)
	summary, err := newTestScanner(store, scanTime).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if summary.RegularExpired != 1 || summary.SpoExpired != 2 {
		t.Errorf("expected 1 regular and 2 special expirations, got %+v", summary)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected row errors: %v", summary.Errors)
	}

	for _, id := range []string{"p-reg", "p-mto", "p-spo"} {
		if p := mustGet(t, store, id); p.Status != projection.StatusExpired {
			t.Errorf("%s: expected expired, got %s", id, p.Status)
		}
	}
	if p := mustGet(t, store, "p-current"); p.Status != projection.StatusUnmatched {
		t.Errorf("in-window forecast must not expire, got %s", p.Status)
	}
}

func TestScan_SnapshotCarriesOverdueDetail(t *testing.T) {
	// GIVEN: An expired-eligible regular June forecast
	// WHEN: Scanned on October 8th (10 days past the September 28th expiry)
	// THEN: The pending snapshot records the threshold and days overdue

	store := memstore.NewMemory()
	seedProjection(t, store, projection.Projection{
		ID: "p-1", VendorID: 7, SKU: "ABC-100", Brand: "Keter",
		Year: 2025, Month: 6, OrderType: projection.OrderRegular,
		Quantity: 1000, ProjectionValue: 500000,
	})

	scanTime := time.Date(2025, time.October, 8, 9, 0, 0, 0, time.UTC)
	if _, err := newTestScanner(store, scanTime).Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	snaps := pendingSnapshots(t, store)
	if len(snaps) != 1 {
		t.Fatalf("expected one pending snapshot, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.OriginalProjectionID != "p-1" || snap.SKU != "ABC-100" || snap.Brand != "Keter" {
		t.Errorf("snapshot must copy the projection's fields, got %+v", snap)
	}
	if snap.ThresholdDays != 90 || snap.DaysOverdue != 10 {
		t.Errorf("expected threshold 90 and 10 days overdue, got %d/%d",
			snap.ThresholdDays, snap.DaysOverdue)
	}
	if snap.StatusAtExpiry != projection.StatusUnmatched {
		t.Errorf("expected status at expiry recorded, got %s", snap.StatusAtExpiry)
	}
	if snap.ExpirationReason == "" {
		t.Error("expected an expiration reason")
	}
}

func TestScan_SecondPassIsIdempotent(t *testing.T) {
	// Expired rows leave the open pool, so a rerun finds nothing to do.

	store := memstore.NewMemory()
	seedProjection(t, store, projection.Projection{
		ID: "p-1", VendorID: 7, SKU: "ABC-100", Year: 2025, Month: 6,
		OrderType: projection.OrderRegular, Quantity: 100, ProjectionValue: 50000,
	})

	scanTime := time.Date(2025, time.October, 8, 9, 0, 0, 0, time.UTC)
	s := newTestScanner(store, scanTime)
	ctx := context.Background()
	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	summary, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if summary.RegularExpired != 0 || summary.SpoExpired != 0 {
		t.Errorf("second scan must expire nothing, got %+v", summary)
	}
	if n := len(pendingSnapshots(t, store)); n != 1 {
		t.Errorf("expected a single snapshot after the rerun, got %d", n)
	}
}

func TestScan_PartialExpiresToo(t *testing.T) {
	// A partially covered forecast past its window still expires; the
	// snapshot keeps the partial status for the reviewer.

	store := memstore.NewMemory()
	p := seedProjection(t, store, projection.Projection{
		ID: "p-1", VendorID: 7, SKU: "ABC-100", Year: 2025, Month: 6,
		OrderType: projection.OrderRegular, Quantity: 1000, ProjectionValue: 500000,
	})
	po := "PO-1"
	qty, val := int64(400), int64(200000)
	p.Status = projection.StatusPartial
	p.MatchedPONumber = &po
	p.ActualQuantity = &qty
	p.ActualValue = &val
	if err := store.UpdateProjection(context.Background(), p, projection.StatusUnmatched); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	scanTime := time.Date(2025, time.October, 8, 9, 0, 0, 0, time.UTC)
	if _, err := newTestScanner(store, scanTime).Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	snaps := pendingSnapshots(t, store)
	if len(snaps) != 1 || snaps[0].StatusAtExpiry != projection.StatusPartial {
		t.Fatalf("expected one snapshot frozen from partial, got %+v", snaps)
	}
}

func TestScan_RecordsRun(t *testing.T) {
	store := memstore.NewMemory()
	seedProjection(t, store, projection.Projection{
		ID: "p-1", VendorID: 7, SKU: "ABC-100", Year: 2025, Month: 6,
		OrderType: projection.OrderRegular, Quantity: 100, ProjectionValue: 50000,
	})

	scanTime := time.Date(2025, time.October, 8, 9, 0, 0, 0, time.UTC)
	if _, err := newTestScanner(store, scanTime).Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != projection.RunExpiration || runs[0].Expired != 1 {
		t.Errorf("expected one expiration run with 1 expiry, got %+v", runs)
	}
}
