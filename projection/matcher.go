/*
matcher.go - Reconciles imported purchase orders against open projections

PURPOSE:
  The matching engine. Takes a batch of PO facts from an import run, finds
  the open projection each PO most plausibly fulfils, applies actuals, and
  computes variance. Batch runs never abort: a PO that cannot be resolved
  is skipped with a message and the run returns a partial summary.

CANDIDATE SELECTION:
  A projection is a candidate for a PO fact when all of:
    - same vendor number
    - same SKU, or (fallback) the PO program description equals the
      projection's SKU description
    - the projection's target month is the PO's effective ship month or an
      adjacent month
  When the program description mentions one of the candidate brands, the
  candidate set is narrowed to those brands before tie-breaking.

TIE-BREAK (deterministic):
  1. exact target-month match beats adjacent-month match
  2. oldest projectionRunDate first (older commitments consumed first)
  3. smallest absolute quantity delta
  4. lowest id

TOP-UPS:
  A partial projection stays in the pool. A later PO with a different
  number accumulates quantity/value on top of the recorded actuals; the
  projection then carries the most recent contributing PO number. A PO
  number already recorded anywhere is skipped, so re-importing the same
  file is idempotent.

MANUAL OVERRIDES:
  ManualMatch, Unmatch, MarkRemoved and UpdateOrderType bypass the
  algorithm and fail fast with a specific error instead of collecting.

SEE ALSO:
  - variance.go: the shared variance/coverage math
  - window.go:   ship-window month arithmetic
*/
package projection

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Matcher reconciles PO facts against the open projection pool.
type Matcher struct {
	Store TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// NewMatcher creates a matcher with the given store.
func NewMatcher(store TxStore, log logrus.FieldLogger) *Matcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Matcher{Store: store, Log: log, Now: time.Now}
}

// =============================================================================
// BATCH MATCHING
// =============================================================================

// MatchBatch reconciles a batch of imported PO facts. Each fact is processed
// independently; row-level failures land in the summary's error list and the
// run always completes.
func (m *Matcher) MatchBatch(ctx context.Context, facts []POFact) (MatchRunSummary, error) {
	started := m.Now()
	var summary MatchRunSummary

	pool, err := m.Store.OpenProjections(ctx)
	if err != nil {
		return summary, fmt.Errorf("load open projections: %w", err)
	}

	for i := range facts {
		fact := facts[i]
		if err := m.applyFact(ctx, pool, fact, &summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("PO %s: %v", fact.PONumber, err))
		}
	}

	run := RunRecord{
		ID:          uuid.NewString(),
		Kind:        RunMatching,
		BatchSize:   len(facts),
		Matched:     summary.Matched,
		Variances:   summary.Variances,
		ErrorCount:  len(summary.Errors),
		StartedAt:   started,
		CompletedAt: m.Now(),
	}
	if err := m.Store.InsertRun(ctx, run); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("record run: %v", err))
	}

	m.Log.WithFields(logrus.Fields{
		"batch":     len(facts),
		"matched":   summary.Matched,
		"partial":   summary.Partial,
		"variances": summary.Variances,
		"skipped":   summary.Skipped,
		"errors":    len(summary.Errors),
	}).Info("matching run complete")

	return summary, nil
}

// applyFact matches one PO fact against the in-memory pool view and persists
// the result. The pool slice is updated in place so later facts in the same
// batch see earlier matches.
func (m *Matcher) applyFact(ctx context.Context, pool []Projection, fact POFact, summary *MatchRunSummary) error {
	if err := validateFact(fact); err != nil {
		return err
	}

	// Retain the fact so manual matching can find it by number later.
	if err := m.Store.UpsertPOFact(ctx, fact); err != nil {
		return fmt.Errorf("retain PO fact: %w", err)
	}

	// One PO satisfies at most one projection. A number already recorded
	// means this fact was applied by an earlier run; skip silently.
	if existing, err := m.Store.ProjectionByPONumber(ctx, fact.PONumber); err != nil {
		return err
	} else if existing != nil {
		summary.Skipped++
		return nil
	}

	vendorID, _ := strconv.ParseInt(strings.TrimSpace(fact.Vendor), 10, 64)

	idx := m.pickCandidate(pool, fact, vendorID)
	if idx < 0 {
		return fmt.Errorf("no open projection for vendor %d sku %q ship month %s",
			vendorID, fact.SKU, fact.EffectiveShipDate().Format("2006-01"))
	}

	p := pool[idx]
	expected := p.Status

	// Top up a partial: quantities accumulate rather than overwrite.
	actualQty := fact.OrderQuantity
	actualVal := fact.TotalValue
	if p.Status == StatusPartial && p.ActualQuantity != nil {
		actualQty += *p.ActualQuantity
		actualVal += *p.ActualValue
	}

	v := ComputeVariance(p.Quantity, p.ProjectionValue, actualQty, actualVal)
	v.Apply(&p, fact.PONumber, actualQty, actualVal)
	now := m.Now()
	p.MatchedAt = &now
	p.UpdatedAt = now

	if err := m.Store.UpdateProjection(ctx, p, expected); err != nil {
		return err
	}
	pool[idx] = p

	if p.Status == StatusMatched {
		summary.Matched++
	} else {
		summary.Partial++
	}
	if v.Exceeds(VarianceThresholdPct) {
		summary.Variances++
	}
	return nil
}

func validateFact(fact POFact) error {
	if strings.TrimSpace(fact.PONumber) == "" {
		return &ValidationError{Field: "poNumber", Message: "required"}
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(fact.Vendor), 10, 64); err != nil {
		return &ValidationError{Field: "vendor", Message: fmt.Sprintf("not a vendor number: %q", fact.Vendor)}
	}
	if fact.OrderQuantity <= 0 {
		return &ValidationError{Field: "orderQuantity", Message: "must be positive"}
	}
	if fact.EffectiveShipDate().IsZero() {
		return &ValidationError{Field: "poDate", Message: "no usable date on PO"}
	}
	return nil
}

// pickCandidate returns the index of the best open candidate in the pool,
// or -1 when none qualifies.
func (m *Matcher) pickCandidate(pool []Projection, fact POFact, vendorID int64) int {
	ship := fact.EffectiveShipDate()
	var candidates []int
	for i := range pool {
		if candidateFor(pool[i], fact, vendorID, ship) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}

	// The PO export carries no brand column; when the program description
	// names one of the candidate brands, restrict to those candidates.
	var branded []int
	for _, i := range candidates {
		if brandMentioned(pool[i], fact) {
			branded = append(branded, i)
		}
	}
	if len(branded) > 0 {
		candidates = branded
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		pa, pb := pool[candidates[a]], pool[candidates[b]]
		ea, eb := exactMonth(pa, ship), exactMonth(pb, ship)
		if ea != eb {
			return ea
		}
		if !pa.ProjectionRunDate.Equal(pb.ProjectionRunDate) {
			return pa.ProjectionRunDate.Before(pb.ProjectionRunDate)
		}
		da, db := qtyDelta(pa, fact.OrderQuantity), qtyDelta(pb, fact.OrderQuantity)
		if da != db {
			return da < db
		}
		return pa.ID < pb.ID
	})
	return candidates[0]
}

func candidateFor(p Projection, fact POFact, vendorID int64, ship time.Time) bool {
	if !p.Status.IsOpen() || p.VendorID != vendorID {
		return false
	}
	skuMatch := strings.EqualFold(p.SKU, fact.SKU)
	descMatch := p.SKUDescription != "" &&
		strings.EqualFold(strings.TrimSpace(p.SKUDescription), strings.TrimSpace(fact.ProgramDescription))
	if !skuMatch && !descMatch {
		return false
	}
	return monthDistance(p, ship) <= 1
}

func brandMentioned(p Projection, fact POFact) bool {
	return p.Brand != "" &&
		strings.Contains(strings.ToLower(fact.ProgramDescription), strings.ToLower(p.Brand))
}

func exactMonth(p Projection, ship time.Time) bool {
	return p.Year == ship.Year() && p.Month == int(ship.Month())
}

// monthDistance returns how many calendar months separate the projection's
// target month from the ship date's month.
func monthDistance(p Projection, ship time.Time) int {
	d := (p.Year-ship.Year())*12 + p.Month - int(ship.Month())
	if d < 0 {
		d = -d
	}
	return d
}

func qtyDelta(p Projection, orderQty int64) int64 {
	d := p.Quantity - orderQty
	if d < 0 {
		d = -d
	}
	return d
}

// =============================================================================
// MANUAL OVERRIDES
// =============================================================================

// ManualMatch associates a projection with a PO by number, applying the same
// variance computation and status assignment as an automatic match. The PO
// must have been ingested by a previous import and must not already be
// carried by a different projection.
func (m *Matcher) ManualMatch(ctx context.Context, projectionID, poNumber string) (*Projection, error) {
	p, err := m.getProjection(ctx, projectionID)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsOpen() {
		return nil, &TransitionError{Entity: "projection", ID: p.ID, From: string(p.Status), Attempt: "match"}
	}

	fact, err := m.Store.GetPOFact(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	if fact == nil {
		return nil, &NotFoundError{Entity: "po", ID: poNumber}
	}

	// One PO satisfies at most one projection, manual or not. Re-applying
	// the PO to the projection already carrying it is allowed.
	if holder, err := m.Store.ProjectionByPONumber(ctx, poNumber); err != nil {
		return nil, err
	} else if holder != nil && holder.ID != p.ID {
		return nil, &ValidationError{Field: "poNumber",
			Message: fmt.Sprintf("PO %s is already matched to projection %s", poNumber, holder.ID)}
	}

	expected := p.Status
	v := ComputeVariance(p.Quantity, p.ProjectionValue, fact.OrderQuantity, fact.TotalValue)
	v.Apply(p, fact.PONumber, fact.OrderQuantity, fact.TotalValue)
	now := m.Now()
	p.MatchedAt = &now
	p.UpdatedAt = now

	if err := m.Store.UpdateProjection(ctx, *p, expected); err != nil {
		return nil, err
	}
	return p, nil
}

// Unmatch clears all match residue and returns the projection to the open
// pool. Not permitted once the projection is removed or expired.
func (m *Matcher) Unmatch(ctx context.Context, projectionID string) (*Projection, error) {
	p, err := m.getProjection(ctx, projectionID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case StatusMatched, StatusPartial, StatusUnmatched:
	default:
		return nil, &TransitionError{Entity: "projection", ID: p.ID, From: string(p.Status), Attempt: "unmatch"}
	}

	expected := p.Status
	p.ClearMatch()
	p.Status = StatusUnmatched
	p.UpdatedAt = m.Now()

	if err := m.Store.UpdateProjection(ctx, *p, expected); err != nil {
		return nil, err
	}
	return p, nil
}

// MarkRemoved takes an open projection out of play permanently. The reason
// is mandatory and stored for audit.
func (m *Matcher) MarkRemoved(ctx context.Context, projectionID, reason string) (*Projection, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "removal reason is required"}
	}
	p, err := m.getProjection(ctx, projectionID)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsOpen() {
		return nil, &TransitionError{Entity: "projection", ID: p.ID, From: string(p.Status), Attempt: "remove"}
	}

	expected := p.Status
	p.Status = StatusRemoved
	p.RemovalReason = reason
	p.UpdatedAt = m.Now()

	if err := m.Store.UpdateProjection(ctx, *p, expected); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateOrderType corrects a mis-imported classification. Match state is
// untouched; the projection's expiration threshold changes from here on.
func (m *Matcher) UpdateOrderType(ctx context.Context, projectionID string, orderType OrderType) (*Projection, error) {
	if !ValidOrderType(string(orderType)) {
		return nil, &ValidationError{Field: "orderType", Message: fmt.Sprintf("unknown order type %q", orderType)}
	}
	p, err := m.getProjection(ctx, projectionID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, &TransitionError{Entity: "projection", ID: p.ID, From: string(p.Status), Attempt: "reclassify"}
	}

	expected := p.Status
	p.OrderType = orderType
	p.UpdatedAt = m.Now()

	if err := m.Store.UpdateProjection(ctx, *p, expected); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Matcher) getProjection(ctx context.Context, id string) (*Projection, error) {
	p, err := m.Store.GetProjection(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Entity: "projection", ID: id}
	}
	return p, nil
}
