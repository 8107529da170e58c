/*
handlers.go - HTTP API handlers for the projection reconciliation engine

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Projections:
    POST   /api/projections/import       Import a forecast batch
    GET    /api/projections              List projections (filterable)
    GET    /api/projections/{id}         Get one projection
    POST   /api/projections/{id}/match   Manually link to a PO
    POST   /api/projections/{id}/unmatch Undo a match
    POST   /api/projections/{id}/remove  Remove with a reason
    POST   /api/projections/{id}/order-type Reclassify order type

  PO import:
    POST   /api/po-imports               Import PO facts and run matching
    GET    /api/po-facts/{poNumber}      Get one imported PO fact

  Expiration:
    POST   /api/expirations/check        Run an expiration scan
    GET    /api/expirations              List expiration snapshots
    GET    /api/expirations/{id}         Get one snapshot
    POST   /api/expirations/{id}/verify  Verify or cancel
    POST   /api/expirations/{id}/restore Restore to the active pool

  Reports:
    GET    /api/reports/validation-summary
    GET    /api/reports/overdue
    GET    /api/reports/variance
    GET    /api/reports/spo

  Operations:
    GET    /api/runs                     Recent batch runs
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario
    POST   /api/reset                    Clear all data (dev only)

ERROR HANDLING:
  Domain errors map to HTTP status via errors.Is:
  - 400: validation errors, invalid input
  - 404: projection / snapshot / PO not found
  - 409: invalid lifecycle transition, concurrent modification
  - 500: everything else
  Batch imports return 200 with per-row errors in the summary body.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/merchops/projection-engine/projection"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    projection.TxStore
	Importer *projection.Importer
	Matcher  *projection.Matcher
	Scanner  *projection.Scanner
	Verifier *projection.Verifier
	Reporter *projection.Reporter
	Log      logrus.FieldLogger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store projection.TxStore, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:    store,
		Importer: projection.NewImporter(store, log),
		Matcher:  projection.NewMatcher(store, log),
		Scanner:  projection.NewScanner(store, log),
		Verifier: projection.NewVerifier(store),
		Reporter: projection.NewReporter(store),
		Log:      log,
	}
}

// =============================================================================
// PROJECTION HANDLERS
// =============================================================================

// ImportProjections ingests a forecast batch.
func (h *Handler) ImportProjections(w http.ResponseWriter, r *http.Request) {
	var req ImportProjectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "At least one line is required", nil)
		return
	}

	lines := make([]projection.ProjectionLine, 0, len(req.Lines))
	for _, dto := range req.Lines {
		lines = append(lines, projection.ProjectionLine{
			VendorID:          dto.VendorID,
			SKU:               dto.SKU,
			SKUDescription:    dto.SKUDescription,
			Collection:        dto.Collection,
			Brand:             dto.Brand,
			Year:              dto.Year,
			Month:             dto.Month,
			OrderType:         projection.OrderType(dto.OrderType),
			Quantity:          dto.Quantity,
			ProjectionValue:   dto.ProjectionValue,
			ProjectionRunDate: parseDate(dto.ProjectionRunDate),
		})
	}

	summary, err := h.Importer.Import(r.Context(), lines, req.SourceFile)
	if err != nil {
		writeDomainError(w, "Failed to import projections", err)
		return
	}

	writeJSON(w, http.StatusOK, ImportSummaryDTO{
		BatchID:    summary.BatchID,
		Created:    summary.Created,
		Superseded: summary.Superseded,
		Errors:     nonNil(summary.Errors),
	})
}

// ListProjections returns projections passing the query filters.
func (h *Handler) ListProjections(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	rows, err := h.Store.ListProjections(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projections", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTOs(rows))
}

// GetProjection returns one projection by id.
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetProjection(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get projection", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Projection not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTO(*p))
}

// ManualMatch links a projection to a PO by hand.
func (h *Handler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ManualMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PONumber == "" {
		writeError(w, http.StatusBadRequest, "po_number is required", nil)
		return
	}

	p, err := h.Matcher.ManualMatch(r.Context(), id, req.PONumber)
	if err != nil {
		writeDomainError(w, "Failed to match projection", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTO(*p))
}

// Unmatch undoes a match and returns the projection to the open pool.
func (h *Handler) Unmatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Matcher.Unmatch(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to unmatch projection", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTO(*p))
}

// RemoveProjection marks a projection removed with an operator reason.
func (h *Handler) RemoveProjection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Matcher.MarkRemoved(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to remove projection", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTO(*p))
}

// UpdateOrderType reclassifies a projection, which changes its
// expiration window.
func (h *Handler) UpdateOrderType(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req OrderTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Matcher.UpdateOrderType(r.Context(), id, projection.OrderType(req.OrderType))
	if err != nil {
		writeDomainError(w, "Failed to update order type", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTO(*p))
}

// =============================================================================
// PO IMPORT HANDLERS
// =============================================================================

// ImportPOFacts ingests PO facts and runs the matching pass over them.
func (h *Handler) ImportPOFacts(w http.ResponseWriter, r *http.Request) {
	var req ImportPORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Facts) == 0 {
		writeError(w, http.StatusBadRequest, "At least one PO fact is required", nil)
		return
	}

	facts := make([]projection.POFact, 0, len(req.Facts))
	for _, dto := range req.Facts {
		facts = append(facts, fromPOFactDTO(dto))
	}

	summary, err := h.Matcher.MatchBatch(r.Context(), facts)
	if err != nil {
		writeDomainError(w, "Failed to run matching", err)
		return
	}

	writeJSON(w, http.StatusOK, MatchRunSummaryDTO{
		Matched:   summary.Matched,
		Partial:   summary.Partial,
		Variances: summary.Variances,
		Skipped:   summary.Skipped,
		Errors:    nonNil(summary.Errors),
	})
}

// GetPOFact returns one imported PO fact.
func (h *Handler) GetPOFact(w http.ResponseWriter, r *http.Request) {
	poNumber := chi.URLParam(r, "poNumber")

	f, err := h.Store.GetPOFact(r.Context(), poNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get PO fact", err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "PO fact not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPOFactDTO(*f))
}

// =============================================================================
// EXPIRATION HANDLERS
// =============================================================================

// CheckExpirations runs an expiration scan over the open pool.
func (h *Handler) CheckExpirations(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Scanner.Scan(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to run expiration scan", err)
		return
	}

	writeJSON(w, http.StatusOK, ExpirationRunSummaryDTO{
		RegularExpired: summary.RegularExpired,
		SpoExpired:     summary.SpoExpired,
		Errors:         nonNil(summary.Errors),
	})
}

// ListExpirations returns expiration snapshots, optionally filtered by
// verification status.
func (h *Handler) ListExpirations(w http.ResponseWriter, r *http.Request) {
	var status *projection.VerificationStatus
	if q := r.URL.Query().Get("status"); q != "" {
		v := projection.VerificationStatus(q)
		status = &v
	}

	rows, err := h.Store.ListExpired(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list expirations", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpiredDTOs(rows))
}

// GetExpiration returns one expiration snapshot.
func (h *Handler) GetExpiration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := h.Store.GetExpired(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get expiration", err)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "Expiration not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toExpiredDTO(*e))
}

// VerifyExpiration resolves a pending snapshot as verified or cancelled.
func (h *Handler) VerifyExpiration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := h.Verifier.Verify(r.Context(), id,
		projection.VerificationStatus(req.Status), req.VerifiedBy, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to verify expiration", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpiredDTO(*e))
}

// RestoreExpiration returns an expired projection to the active pool.
func (h *Handler) RestoreExpiration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := h.Verifier.Restore(r.Context(), id, req.RestoredBy)
	if err != nil {
		writeDomainError(w, "Failed to restore expiration", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpiredDTO(*e))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ValidationSummary returns the dashboard counts.
func (h *Handler) ValidationSummary(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	summary, err := h.Reporter.Summary(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// OverdueReport returns unmatched projections past their target month.
func (h *Handler) OverdueReport(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	var minDays *int
	if q := r.URL.Query().Get("min_days"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid min_days", err)
			return
		}
		minDays = &v
	}

	rows, err := h.Reporter.Overdue(r.Context(), minDays, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build overdue report", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTOs(rows))
}

// VarianceReport returns matched projections whose variance exceeds the
// review threshold. min_pct, when given, is an inclusive floor on the
// absolute variance percentage.
func (h *Handler) VarianceReport(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	var minPct *int64
	if q := r.URL.Query().Get("min_pct"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid min_pct", err)
			return
		}
		minPct = &v
	}

	rows, err := h.Reporter.WithVariance(r.Context(), minPct, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build variance report", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTOs(rows))
}

// SpoReport returns special order projections for the MTO/SPO review.
func (h *Handler) SpoReport(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	rows, err := h.Reporter.Spo(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build SPO report", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTOs(rows))
}

// =============================================================================
// OPERATIONS HANDLERS
// =============================================================================

// ListRuns returns the most recent batch runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = v
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// resetter is implemented by stores that can clear all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// Reset clears all data. Dev and demo environments only.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// filterFromQuery builds a projection filter from query parameters.
// Supported: vendor_id, brand, year, month, status, order_type
// (status and order_type accept comma-separated lists).
func filterFromQuery(r *http.Request) (projection.Filter, error) {
	var f projection.Filter
	q := r.URL.Query()

	if v := q.Get("vendor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, err
		}
		f.VendorID = &id
	}
	if v := q.Get("brand"); v != "" {
		f.Brand = &v
	}
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Year = &year
	}
	if v := q.Get("month"); v != "" {
		month, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Month = &month
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.Statuses = append(f.Statuses, projection.MatchStatus(strings.TrimSpace(s)))
		}
	}
	if v := q.Get("order_type"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.OrderTypes = append(f.OrderTypes, projection.OrderType(strings.TrimSpace(s)))
		}
	}
	return f, nil
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, projection.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, projection.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, projection.ErrInvalidTransition):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, projection.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func nonNil(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}
