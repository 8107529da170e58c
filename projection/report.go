/*
report.go - Read-side aggregation for the validation dashboards

PURPOSE:
  Builds the summary counts and drill-down lists the UI consumes. This side
  only reads; all lifecycle mutation happens in matcher.go, expiration.go
  and verification.go.
*/
package projection

import (
	"context"
	"sort"
	"time"
)

// ValidationSummary is the dashboard headline for a filtered slice of the
// projection pool.
type ValidationSummary struct {
	TotalProjections int `json:"total_projections"`
	Unmatched        int `json:"unmatched"`
	Partial          int `json:"partial"`
	Matched          int `json:"matched"`
	Removed          int `json:"removed"`
	Expired          int `json:"expired"`

	// Open projections already past their target month with no PO, but not
	// yet formally expired.
	OverdueCount int `json:"overdue_count"`

	// Open projections inside the threshold window with half or less of it
	// remaining; Critical is the subset with a third or less.
	AtRiskCount    int `json:"at_risk_count"`
	AtRiskCritical int `json:"at_risk_critical"`

	// Matched projections whose |variancePct| exceeds the dashboard
	// threshold.
	WithVariance int `json:"with_variance"`

	// Same breakdown restricted to the short-window order types.
	SpoTotal     int `json:"spo_total"`
	SpoMatched   int `json:"spo_matched"`
	SpoUnmatched int `json:"spo_unmatched"`
}

// Reporter aggregates projection state for UI consumption.
type Reporter struct {
	Store Store
	Now   func() time.Time
}

// NewReporter creates a reporter with the given store.
func NewReporter(store Store) *Reporter {
	return &Reporter{Store: store, Now: time.Now}
}

// Summary computes the validation headline for the filtered pool.
func (r *Reporter) Summary(ctx context.Context, f Filter) (ValidationSummary, error) {
	var s ValidationSummary
	rows, err := r.Store.ListProjections(ctx, f)
	if err != nil {
		return s, err
	}

	now := r.Now()
	for _, p := range rows {
		s.TotalProjections++
		switch p.Status {
		case StatusUnmatched:
			s.Unmatched++
		case StatusPartial:
			s.Partial++
		case StatusMatched:
			s.Matched++
		case StatusRemoved:
			s.Removed++
		case StatusExpired:
			s.Expired++
		}

		if p.Status == StatusUnmatched && p.PastTargetMonth(now) {
			s.OverdueCount++
		}
		if p.Status.IsOpen() {
			switch p.Risk(now) {
			case RiskCritical:
				s.AtRiskCount++
				s.AtRiskCritical++
			case RiskWarning:
				s.AtRiskCount++
			}
		}
		if p.Status == StatusMatched && exceedsVariance(p, VarianceThresholdPct) {
			s.WithVariance++
		}

		if p.OrderType.IsSpecial() {
			s.SpoTotal++
			switch p.Status {
			case StatusMatched:
				s.SpoMatched++
			case StatusUnmatched:
				s.SpoUnmatched++
			}
		}
	}
	return s, nil
}

// Overdue returns unmatched projections past their target month. When
// thresholdDays is non-nil it narrows to rows at least that many days past
// month end, letting the UI page through severity bands.
func (r *Reporter) Overdue(ctx context.Context, thresholdDays *int, f Filter) ([]Projection, error) {
	f.Statuses = []MatchStatus{StatusUnmatched}
	rows, err := r.Store.ListProjections(ctx, f)
	if err != nil {
		return nil, err
	}

	now := r.Now()
	var out []Projection
	for _, p := range rows {
		if !p.PastTargetMonth(now) {
			continue
		}
		if thresholdDays != nil && DaysBetween(p.TargetMonthEnd(), now) < *thresholdDays {
			continue
		}
		out = append(out, p)
	}
	sortByTargetMonth(out)
	return out, nil
}

// WithVariance returns matched projections whose |variancePct| is at least
// minVariancePct. When nil, the dashboard threshold applies and, matching
// the run summaries, must be strictly exceeded.
func (r *Reporter) WithVariance(ctx context.Context, minVariancePct *int64, f Filter) ([]Projection, error) {
	f.Statuses = []MatchStatus{StatusMatched}
	rows, err := r.Store.ListProjections(ctx, f)
	if err != nil {
		return nil, err
	}

	keep := func(p Projection) bool { return exceedsVariance(p, VarianceThresholdPct) }
	if minVariancePct != nil {
		min := *minVariancePct
		keep = func(p Projection) bool {
			pct, ok := absVariancePct(p)
			return ok && pct >= min
		}
	}
	var out []Projection
	for _, p := range rows {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortByTargetMonth(out)
	return out, nil
}

// Spo returns the MTO/SPO slice of the pool.
func (r *Reporter) Spo(ctx context.Context, f Filter) ([]Projection, error) {
	f.OrderTypes = []OrderType{OrderMTO, OrderSPO}
	rows, err := r.Store.ListProjections(ctx, f)
	if err != nil {
		return nil, err
	}
	sortByTargetMonth(rows)
	return rows, nil
}

func exceedsVariance(p Projection, thresholdPct int64) bool {
	pct, ok := absVariancePct(p)
	return ok && pct > thresholdPct
}

func absVariancePct(p Projection) (int64, bool) {
	if p.VariancePct == nil {
		return 0, false
	}
	pct := *p.VariancePct
	if pct < 0 {
		pct = -pct
	}
	return pct, true
}

func sortByTargetMonth(rows []Projection) {
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Year != rows[b].Year {
			return rows[a].Year < rows[b].Year
		}
		if rows[a].Month != rows[b].Month {
			return rows[a].Month < rows[b].Month
		}
		return rows[a].ID < rows[b].ID
	})
}
