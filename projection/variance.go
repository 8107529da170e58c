/*
variance.go - Forecast-vs-actual variance math

PURPOSE:
  Pure functions shared by the matching engine and the report builders.
  Both sides must compute identical numbers, so the math lives here and
  nowhere else.

INVARIANTS:
  quantityVariance = actualQuantity - quantity
  valueVariance    = actualValue - projectionValue
  variancePct      = round(valueVariance / projectionValue * 100)
                     (undefined when projectionValue == 0)

PRECISION:
  The percentage division goes through decimal.Decimal and rounds half away
  from zero; integer division would silently truncate toward zero.
*/
package projection

import "github.com/shopspring/decimal"

// VarianceThresholdPct is the |variancePct| above which a matched projection
// counts as a variance on dashboards and run summaries.
const VarianceThresholdPct = 10

// CoverageThreshold is the fraction of forecast quantity a PO must cover for
// the projection to be fully matched rather than partial.
var CoverageThreshold = decimal.NewFromFloat(0.9)

// Variance holds the computed forecast-vs-actual deltas.
type Variance struct {
	Quantity int64
	Value    int64
	Pct      *int64 // nil when the forecast value is zero
}

// ComputeVariance computes the variance of actuals against a forecast.
func ComputeVariance(quantity, projectionValue, actualQuantity, actualValue int64) Variance {
	v := Variance{
		Quantity: actualQuantity - quantity,
		Value:    actualValue - projectionValue,
	}
	if projectionValue > 0 {
		pct := decimal.NewFromInt(v.Value).
			Div(decimal.NewFromInt(projectionValue)).
			Mul(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		v.Pct = &pct
	}
	return v
}

// Exceeds reports whether the percentage variance is defined and beyond the
// given absolute threshold.
func (v Variance) Exceeds(thresholdPct int64) bool {
	if v.Pct == nil {
		return false
	}
	pct := *v.Pct
	if pct < 0 {
		pct = -pct
	}
	return pct > thresholdPct
}

// FullCoverage reports whether actualQuantity covers at least the coverage
// threshold of the forecast quantity. A zero-quantity forecast is always
// covered.
func FullCoverage(quantity, actualQuantity int64) bool {
	if quantity <= 0 {
		return true
	}
	need := CoverageThreshold.Mul(decimal.NewFromInt(quantity))
	return decimal.NewFromInt(actualQuantity).GreaterThanOrEqual(need)
}

// Apply writes the variance and actuals onto a projection and assigns the
// matched/partial status from coverage.
func (v Variance) Apply(p *Projection, poNumber string, actualQuantity, actualValue int64) {
	p.MatchedPONumber = &poNumber
	p.ActualQuantity = &actualQuantity
	p.ActualValue = &actualValue
	p.QuantityVariance = &v.Quantity
	p.ValueVariance = &v.Value
	p.VariancePct = v.Pct
	if FullCoverage(p.Quantity, actualQuantity) {
		p.Status = StatusMatched
	} else {
		p.Status = StatusPartial
	}
}
