/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario imports forecast lines and PO
	facts that demonstrate specific parts of the reconciliation lifecycle.

AVAILABLE SCENARIOS:

	quarter-close:    Recent forecasts, POs arrive, clean matches
	variance-review:  Matches whose value variance exceeds the 10% threshold
	overdue-backlog:  Unmatched forecasts past their target month
	expired-mto:      Stale MTO/SPO forecasts ready for an expiration scan

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import a forecast batch via the Importer
 3. Optionally import PO facts and run the matcher
 4. Expiration scenarios leave the scan to the operator so the demo can
    show the before/after

DATE HANDLING:

	Scenarios place target months relative to time.Now so that each
	scenario shows the intended lifecycle state on any day it is loaded.

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - projection/importer.go: Forecast ingestion
  - projection/matcher.go: PO matching
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/merchops/projection-engine/projection"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "quarter-close",
		Name:        "Quarter Close",
		Description: "Current-quarter forecasts with POs that match cleanly",
	},
	{
		ID:          "variance-review",
		Name:        "Variance Review",
		Description: "POs land but the value variance exceeds the review threshold",
	},
	{
		ID:          "overdue-backlog",
		Name:        "Overdue Backlog",
		Description: "Unmatched forecasts past their target month, not yet expired",
	},
	{
		ID:          "expired-mto",
		Name:        "Expired MTO",
		Description: "Stale make-to-order forecasts; run an expiration scan to see them move",
	},
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "quarter-close":
		err = h.loadQuarterCloseScenario(ctx)
	case "variance-review":
		err = h.loadVarianceReviewScenario(ctx)
	case "overdue-backlog":
		err = h.loadOverdueBacklogScenario(ctx)
	case "expired-mto":
		err = h.loadExpiredMtoScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadQuarterCloseScenario(ctx context.Context) error {
	now := time.Now()
	year, month := now.Year(), int(now.Month())

	lines := []projection.ProjectionLine{
		{
			VendorID: 1001, SKU: "KT-2401", SKUDescription: "Keter Outdoor Bench",
			Collection: "Patio", Brand: "Keter",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 1200, ProjectionValue: 3600000,
		},
		{
			VendorID: 1001, SKU: "KT-2415", SKUDescription: "Keter Deck Box 120G",
			Collection: "Patio", Brand: "Keter",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 800, ProjectionValue: 5200000,
		},
		{
			VendorID: 2044, SKU: "LZ-0088", SKUDescription: "Lifetime Folding Table 6ft",
			Collection: "Folding", Brand: "Lifetime",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 500, ProjectionValue: 2250000,
		},
	}
	if _, err := h.Importer.Import(ctx, lines, "demo/quarter-close.xlsx"); err != nil {
		return err
	}

	// POs covering the first two lines in full
	facts := []projection.POFact{
		{
			PONumber: "PO-77011", Vendor: "1001", SKU: "KT-2401",
			OrderQuantity: 1200, TotalValue: 3600000,
			PODate:             now.AddDate(0, 0, -3),
			OriginalShipDate:   monthMid(year, month),
			ProgramDescription: "KETER OUTDOOR BENCH SPRING SET",
		},
		{
			PONumber: "PO-77012", Vendor: "1001", SKU: "KT-2415",
			OrderQuantity: 800, TotalValue: 5200000,
			PODate:             now.AddDate(0, 0, -3),
			OriginalShipDate:   monthMid(year, month),
			ProgramDescription: "KETER DECK BOX 120G",
		},
	}
	_, err := h.Matcher.MatchBatch(ctx, facts)
	return err
}

func (h *Handler) loadVarianceReviewScenario(ctx context.Context) error {
	now := time.Now()
	year, month := now.Year(), int(now.Month())

	lines := []projection.ProjectionLine{
		{
			VendorID: 3310, SKU: "SU-4420", SKUDescription: "Suncast Resin Shed 7x7",
			Collection: "Storage", Brand: "Suncast",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 1000, ProjectionValue: 50000000,
		},
		{
			VendorID: 3310, SKU: "SU-4431", SKUDescription: "Suncast Hose Reel Cart",
			Collection: "Garden", Brand: "Suncast",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 600, ProjectionValue: 1800000,
		},
	}
	if _, err := h.Importer.Import(ctx, lines, "demo/variance-review.xlsx"); err != nil {
		return err
	}

	// PO covers quantity enough to match but the value is 16% under forecast
	facts := []projection.POFact{
		{
			PONumber: "PO-88045", Vendor: "3310", SKU: "SU-4420",
			OrderQuantity: 950, TotalValue: 42000000,
			PODate:             now.AddDate(0, 0, -1),
			OriginalShipDate:   monthMid(year, month),
			ProgramDescription: "SUNCAST RESIN SHED 7X7 PROMO",
		},
		{
			PONumber: "PO-88046", Vendor: "3310", SKU: "SU-4431",
			OrderQuantity: 600, TotalValue: 2200000,
			PODate:             now.AddDate(0, 0, -1),
			OriginalShipDate:   monthMid(year, month),
			ProgramDescription: "SUNCAST HOSE REEL CART",
		},
	}
	_, err := h.Matcher.MatchBatch(ctx, facts)
	return err
}

func (h *Handler) loadOverdueBacklogScenario(ctx context.Context) error {
	now := time.Now()
	// Two months back: past the target month but inside the 90 day window
	target := now.AddDate(0, -2, 0)
	year, month := target.Year(), int(target.Month())

	lines := []projection.ProjectionLine{
		{
			VendorID: 1001, SKU: "KT-2430", SKUDescription: "Keter Storage Cabinet",
			Collection: "Garage", Brand: "Keter",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 400, ProjectionValue: 4800000,
		},
		{
			VendorID: 2044, SKU: "LZ-0105", SKUDescription: "Lifetime Picnic Table",
			Collection: "Outdoor", Brand: "Lifetime",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 250, ProjectionValue: 3750000,
		},
		{
			VendorID: 5120, SKU: "RM-7701", SKUDescription: "Rubbermaid Tote 50L 6pk",
			Collection: "Storage", Brand: "Rubbermaid",
			Year: year, Month: month, OrderType: projection.OrderRegular,
			Quantity: 2000, ProjectionValue: 6000000,
		},
	}
	_, err := h.Importer.Import(ctx, lines, "demo/overdue-backlog.xlsx")
	return err
}

func (h *Handler) loadExpiredMtoScenario(ctx context.Context) error {
	now := time.Now()
	// Four months back: well past the 30 day MTO window
	target := now.AddDate(0, -4, 0)
	year, month := target.Year(), int(target.Month())

	lines := []projection.ProjectionLine{
		{
			VendorID: 4205, SKU: "HW-3301-MTO", SKUDescription: "Custom Gazebo 12x14",
			Collection: "Structures", Brand: "Yardistry",
			Year: year, Month: month, OrderType: projection.OrderMTO,
			Quantity: 60, ProjectionValue: 9000000,
		},
		{
			VendorID: 4205, SKU: "HW-3318-SPO", SKUDescription: "Custom Pergola Cedar",
			Collection: "Structures", Brand: "Yardistry",
			Year: year, Month: month, OrderType: projection.OrderSPO,
			Quantity: 40, ProjectionValue: 7200000,
		},
		{
			// Regular line in the same batch stays inside its 90 day window
			VendorID: 4205, SKU: "HW-3350", SKUDescription: "Gazebo Accessory Kit",
			Collection: "Structures", Brand: "Yardistry",
			Year: now.Year(), Month: int(now.Month()), OrderType: projection.OrderRegular,
			Quantity: 300, ProjectionValue: 1500000,
		},
	}
	_, err := h.Importer.Import(ctx, lines, "demo/expired-mto.xlsx")
	return err
}

// monthMid returns the 15th of a month, a ship date safely inside it.
func monthMid(year, month int) time.Time {
	return time.Date(year, time.Month(month), 15, 0, 0, 0, 0, time.UTC)
}
