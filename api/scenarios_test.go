/*
scenarios_test.go - Tests for the demo scenario loaders

Each scenario seeds the state its walkthrough needs: loading one must
reset whatever came before, and the seeded pool must show the lifecycle
stage the scenario describes regardless of the date the test runs.
*/
package api

import (
	"net/http"
	"testing"
)

func loadScenario(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: id})
	if rec.Code != http.StatusOK {
		t.Fatalf("load %s: expected 200, got %d: %s", id, rec.Code, rec.Body.String())
	}
}

func TestListScenarios(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/scenarios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []ScenarioDTO
	decodeInto(t, rec, &list)
	if len(list) != 4 {
		t.Fatalf("expected 4 scenarios, got %d", len(list))
	}
	for _, s := range list {
		if s.ID == "" || s.Name == "" || s.Description == "" {
			t.Errorf("scenario missing metadata: %+v", s)
		}
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestLoadScenario_QuarterClose_MatchesCleanly(t *testing.T) {
	router := newTestRouter(t)
	loadScenario(t, router, "quarter-close")

	rows := listProjections(t, router, "")
	if len(rows) == 0 {
		t.Fatal("expected seeded projections")
	}

	matched := 0
	for _, p := range rows {
		if p.MatchStatus == "matched" {
			matched++
		}
	}
	if matched == 0 {
		t.Error("quarter-close should arrive with clean matches in place")
	}
}

func TestLoadScenario_VarianceReview_ShowsVariance(t *testing.T) {
	router := newTestRouter(t)
	loadScenario(t, router, "variance-review")

	rec := doJSON(t, router, http.MethodGet, "/api/reports/variance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rows []ProjectionDTO
	decodeInto(t, rec, &rows)
	if len(rows) == 0 {
		t.Fatal("variance-review should surface at least one row on the variance report")
	}
	for _, p := range rows {
		if p.VariancePct == nil {
			t.Errorf("variance row without pct: %+v", p)
		}
	}
}

func TestLoadScenario_OverdueBacklog_ShowsOverdue(t *testing.T) {
	router := newTestRouter(t)
	loadScenario(t, router, "overdue-backlog")

	rec := doJSON(t, router, http.MethodGet, "/api/reports/overdue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rows []ProjectionDTO
	decodeInto(t, rec, &rows)
	if len(rows) == 0 {
		t.Fatal("overdue-backlog should surface overdue rows")
	}
	for _, p := range rows {
		if p.MatchStatus != "unmatched" {
			t.Errorf("overdue rows must be unmatched, got %s", p.MatchStatus)
		}
	}
}

func TestLoadScenario_ExpiredMto_ScanFindsLapsedWindows(t *testing.T) {
	router := newTestRouter(t)
	loadScenario(t, router, "expired-mto")

	rec := doJSON(t, router, http.MethodPost, "/api/expirations/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", rec.Code)
	}
	var scan ExpirationRunSummaryDTO
	decodeInto(t, rec, &scan)
	if scan.SpoExpired == 0 {
		t.Error("expired-mto should have lapsed mto/spo windows for the scan to find")
	}
}

func TestLoadScenario_ReplacesPreviousState(t *testing.T) {
	// GIVEN: One scenario loaded
	// WHEN: Another is loaded
	// THEN: The first scenario's rows are gone and /current reflects the new one

	router := newTestRouter(t)
	loadScenario(t, router, "overdue-backlog")
	before := listProjections(t, router, "")

	loadScenario(t, router, "variance-review")
	after := listProjections(t, router, "")

	for _, p := range after {
		for _, q := range before {
			if p.ID == q.ID {
				t.Fatalf("row %s survived the reload", p.ID)
			}
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/scenarios/current", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("current: expected 200, got %d", rec.Code)
	}
	var current ScenarioDTO
	decodeInto(t, rec, &current)
	if current.ID != "variance-review" {
		t.Errorf("expected variance-review current, got %q", current.ID)
	}
}
