/*
window.go - Order windows and expiration thresholds

PURPOSE:
  The single home for the order-type expiration constants and the calendar
  arithmetic built on them. The dashboard help text, the validation report,
  and the expiration scanner all read the same numbers from here.

THRESHOLDS:
  regular  -> 90 days past the end of the target month
  mto, spo -> 30 days past the end of the target month

ELIGIBILITY:
  A projection is expiration-eligible when monthEnd + threshold is strictly
  before today (day granularity). A regular projection targeting June 2025
  becomes eligible on 2025-09-29; an MTO one on 2025-07-31.
*/
package projection

import "time"

const (
	// RegularThresholdDays is the reconciliation window for stock orders.
	RegularThresholdDays = 90

	// SpecialThresholdDays is the shorter window for MTO/SPO orders.
	SpecialThresholdDays = 30
)

// ThresholdDays returns the expiration threshold for an order type.
func ThresholdDays(ot OrderType) int {
	if ot.IsSpecial() {
		return SpecialThresholdDays
	}
	return RegularThresholdDays
}

// MonthEnd returns the last day of the given month at midnight UTC.
func MonthEnd(year, month int) time.Time {
	return time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// MonthStart returns the first day of the given month at midnight UTC.
func MonthStart(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// DateOnly truncates a timestamp to midnight UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole days from a to b at day granularity.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// ExpiryDate returns the last day a projection may remain open. The
// projection becomes expiration-eligible the day after.
func (p Projection) ExpiryDate() time.Time {
	return MonthEnd(p.Year, p.Month).AddDate(0, 0, ThresholdDays(p.OrderType))
}

// TargetMonthEnd returns the end of the projection's target month.
func (p Projection) TargetMonthEnd() time.Time {
	return MonthEnd(p.Year, p.Month)
}

// ExpirationEligible reports whether the order window has lapsed as of now.
func (p Projection) ExpirationEligible(now time.Time) bool {
	return p.ExpiryDate().Before(DateOnly(now))
}

// DaysOverdue returns how many days past the expiry date now is. Zero or
// negative means the window is still open.
func (p Projection) DaysOverdue(now time.Time) int {
	return DaysBetween(p.ExpiryDate(), now)
}

// PastTargetMonth reports whether now is beyond the target month entirely.
func (p Projection) PastTargetMonth(now time.Time) bool {
	return p.TargetMonthEnd().Before(DateOnly(now))
}

// =============================================================================
// RISK TIERS - UI severity labels for open projections nearing expiration
// =============================================================================

type RiskTier string

const (
	RiskNone     RiskTier = "none"     // window not yet entered or plenty left
	RiskWarning  RiskTier = "warning"  // half the threshold or less remaining
	RiskCritical RiskTier = "critical" // a third of the threshold or less remaining
)

// Risk classifies an open projection by how much of its threshold window
// remains. Only meaningful for open projections past their target month.
func (p Projection) Risk(now time.Time) RiskTier {
	if !p.PastTargetMonth(now) || p.ExpirationEligible(now) {
		return RiskNone
	}
	threshold := ThresholdDays(p.OrderType)
	remaining := DaysBetween(now, p.ExpiryDate())
	switch {
	case remaining*3 <= threshold:
		return RiskCritical
	case remaining*2 <= threshold:
		return RiskWarning
	default:
		return RiskNone
	}
}
