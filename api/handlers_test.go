/*
handlers_test.go - HTTP tests for the reconciliation API

Tests run against the full chi router backed by an in-memory SQLite
store, exercising the JSON contract and the domain error mapping.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/merchops/projection-engine/projection"
	"github.com/merchops/projection-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store, nil))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// forecastLine is January 2024, far enough back that its window has
// always lapsed by the time the test runs.
func forecastLine(sku string, orderType string) ProjectionLineDTO {
	return ProjectionLineDTO{
		VendorID: 7, SKU: sku, SKUDescription: "DECK BOX 120GAL",
		Brand: "Keter", Year: 2024, Month: 1, OrderType: orderType,
		Quantity: 1000, ProjectionValue: 500000,
	}
}

func importLines(t *testing.T, router http.Handler, lines ...ProjectionLineDTO) ImportSummaryDTO {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/projections/import",
		ImportProjectionsRequest{SourceFile: "test.xlsx", Lines: lines})
	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary ImportSummaryDTO
	decodeInto(t, rec, &summary)
	return summary
}

func listProjections(t *testing.T, router http.Handler, query string) []ProjectionDTO {
	t.Helper()
	rec := doJSON(t, router, http.MethodGet, "/api/projections"+query, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var rows []ProjectionDTO
	decodeInto(t, rec, &rows)
	return rows
}

// =============================================================================
// PROJECTION ENDPOINTS
// =============================================================================

func TestImportAndListProjections(t *testing.T) {
	router := newTestRouter(t)

	summary := importLines(t, router,
		forecastLine("ABC-100", "regular"), forecastLine("XYZ-200", "mto"))
	if summary.Created != 2 || len(summary.Errors) != 0 {
		t.Fatalf("expected 2 created, got %+v", summary)
	}

	rows := listProjections(t, router, "")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, p := range rows {
		if p.MatchStatus != "unmatched" {
			t.Errorf("expected unmatched, got %s", p.MatchStatus)
		}
	}

	if rows := listProjections(t, router, "?order_type=mto"); len(rows) != 1 || rows[0].SKU != "XYZ-200" {
		t.Errorf("order_type filter failed: %+v", rows)
	}
	if rows := listProjections(t, router, "?vendor_id=999"); len(rows) != 0 {
		t.Errorf("vendor filter failed: %+v", rows)
	}
}

func TestImportProjections_BadRequests(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/projections/import",
		ImportProjectionsRequest{Lines: nil})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/projections/import",
		bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestGetProjection_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/projections/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	var er ErrorResponse
	decodeInto(t, rec, &er)
	if er.Error == "" {
		t.Error("expected an error message body")
	}
}

// =============================================================================
// PO IMPORT AND MATCHING
// =============================================================================

func TestImportPOFacts_RunsMatching(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))

	rec := doJSON(t, router, http.MethodPost, "/api/po-imports", ImportPORequest{
		Facts: []POFactDTO{{
			PONumber: "PO-1", Vendor: "7", SKU: "ABC-100",
			OrderQuantity: 850, TotalValue: 420000,
			PODate: "2024-01-05", OriginalShipDate: "2024-01-15",
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary MatchRunSummaryDTO
	decodeInto(t, rec, &summary)
	if summary.Partial != 1 || summary.Variances != 1 {
		t.Fatalf("expected 1 partial with variance, got %+v", summary)
	}

	rows := listProjections(t, router, "?status=partial")
	if len(rows) != 1 {
		t.Fatalf("expected 1 partial row, got %d", len(rows))
	}
	p := rows[0]
	if p.VariancePct == nil || *p.VariancePct != -16 {
		t.Errorf("expected -16%% variance, got %v", p.VariancePct)
	}
	if p.MatchedPONumber == nil || *p.MatchedPONumber != "PO-1" {
		t.Errorf("expected PO-1 recorded, got %v", p.MatchedPONumber)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/po-facts/PO-1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected the fact retained, got %d", rec.Code)
	}
}

func TestManualMatch_ErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))
	id := listProjections(t, router, "")[0].ID

	// The PO must have been ingested first.
	rec := doJSON(t, router, http.MethodPost, "/api/projections/"+id+"/match",
		ManualMatchRequest{PONumber: "PO-ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown PO: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/projections/"+id+"/match",
		ManualMatchRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing po_number: expected 400, got %d", rec.Code)
	}
}

func TestRemoveProjection_LifecycleErrors(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))
	id := listProjections(t, router, "")[0].ID

	rec := doJSON(t, router, http.MethodPost, "/api/projections/"+id+"/remove",
		RemoveRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank reason: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/projections/"+id+"/remove",
		RemoveRequest{Reason: "discontinued"})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Removed is terminal.
	rec = doJSON(t, router, http.MethodPost, "/api/projections/"+id+"/remove",
		RemoveRequest{Reason: "again"})
	if rec.Code != http.StatusConflict {
		t.Errorf("second remove: expected 409, got %d", rec.Code)
	}
}

func TestUpdateOrderType(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))
	id := listProjections(t, router, "")[0].ID

	rec := doJSON(t, router, http.MethodPost, "/api/projections/"+id+"/order-type",
		OrderTypeRequest{OrderType: "rush"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/projections/"+id+"/order-type",
		OrderTypeRequest{OrderType: "spo"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p ProjectionDTO
	decodeInto(t, rec, &p)
	if p.OrderType != "spo" {
		t.Errorf("expected spo, got %s", p.OrderType)
	}
}

// =============================================================================
// EXPIRATION LIFECYCLE OVER HTTP
// =============================================================================

func TestExpirationLifecycle(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))

	// The January 2024 window lapsed long ago.
	rec := doJSON(t, router, http.MethodPost, "/api/expirations/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var scan ExpirationRunSummaryDTO
	decodeInto(t, rec, &scan)
	if scan.RegularExpired != 1 {
		t.Fatalf("expected 1 regular expiry, got %+v", scan)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/expirations?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var snaps []ExpiredProjectionDTO
	decodeInto(t, rec, &snaps)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 pending snapshot, got %d", len(snaps))
	}
	snapID := snaps[0].ID

	// Missing reviewer is rejected before anything changes.
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/expirations/%s/verify", snapID),
		VerifyRequest{Status: "verified"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank reviewer: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/expirations/%s/verify", snapID),
		VerifyRequest{Status: "verified", VerifiedBy: "jortega", Notes: "vendor confirmed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap ExpiredProjectionDTO
	decodeInto(t, rec, &snap)
	if snap.VerificationStatus != "verified" || snap.VerifiedBy != "jortega" {
		t.Errorf("verify not recorded: %+v", snap)
	}

	// The projection is closed out as verified_unmatched.
	rows := listProjections(t, router, "?status="+string(projection.StatusVerifiedUnmatched))
	if len(rows) != 1 {
		t.Errorf("expected the projection closed, got %d rows", len(rows))
	}

	// Terminal snapshots accept no further dispositions.
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/expirations/%s/restore", snapID),
		RestoreRequest{RestoredBy: "mnguyen"})
	if rec.Code != http.StatusConflict {
		t.Errorf("restore after verify: expected 409, got %d", rec.Code)
	}
}

func TestRestoreExpiration_ReopensProjection(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))

	doJSON(t, router, http.MethodPost, "/api/expirations/check", nil)

	rec := doJSON(t, router, http.MethodGet, "/api/expirations", nil)
	var snaps []ExpiredProjectionDTO
	decodeInto(t, rec, &snaps)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}

	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/expirations/%s/restore", snaps[0].ID),
		RestoreRequest{RestoredBy: "jortega"})
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rows := listProjections(t, router, "?status=unmatched")
	if len(rows) != 1 {
		t.Errorf("expected the projection back in the pool, got %d rows", len(rows))
	}
}

// =============================================================================
// REPORTS AND OPERATIONS
// =============================================================================

func TestValidationSummaryEndpoint(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"), forecastLine("XYZ-200", "spo"))

	rec := doJSON(t, router, http.MethodGet, "/api/reports/validation-summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var s projection.ValidationSummary
	decodeInto(t, rec, &s)
	if s.TotalProjections != 2 || s.Unmatched != 2 || s.SpoTotal != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.OverdueCount != 2 {
		t.Errorf("January 2024 rows are overdue, got %d", s.OverdueCount)
	}
}

func TestListRuns_RecordsBatchActivity(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))
	doJSON(t, router, http.MethodPost, "/api/expirations/check", nil)

	rec := doJSON(t, router, http.MethodGet, "/api/runs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var runs []RunDTO
	decodeInto(t, rec, &runs)
	if len(runs) != 1 || runs[0].Kind != "expiration" || runs[0].Expired != 1 {
		t.Errorf("expected one expiration run, got %+v", runs)
	}
}

func TestReset_ClearsState(t *testing.T) {
	router := newTestRouter(t)
	importLines(t, router, forecastLine("ABC-100", "regular"))

	rec := doJSON(t, router, http.MethodPost, "/api/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	if rows := listProjections(t, router, ""); len(rows) != 0 {
		t.Errorf("expected an empty pool after reset, got %d rows", len(rows))
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
