/*
importer.go - Ingests vendor forecast batches

PURPOSE:
  Turns raw forecast lines from a vendor projection run into Projection
  rows. A re-import must not duplicate still-open rows: a line whose
  logical key already has an open (unmatched or partial) row supersedes
  that row's forecast fields in place. A partial keeps its accumulated
  actuals and has coverage and variance recomputed against the new
  forecast. Closed rows (matched, removed, expired) are never touched;
  their actuals are history.
*/
package projection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProjectionLine is one row of a vendor forecast import.
type ProjectionLine struct {
	VendorID          int64
	SKU               string
	SKUDescription    string
	Collection        string
	Brand             string
	Year              int
	Month             int
	OrderType         OrderType
	Quantity          int64
	ProjectionValue   int64
	ProjectionRunDate time.Time
}

// ImportSummary reports what an import run did.
type ImportSummary struct {
	BatchID    string
	Created    int
	Superseded int
	Errors     []string
}

// Importer ingests forecast batches into the store.
type Importer struct {
	Store TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// NewImporter creates an importer with the given store.
func NewImporter(store TxStore, log logrus.FieldLogger) *Importer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Importer{Store: store, Log: log, Now: time.Now}
}

// Import ingests a batch of forecast lines. Rows are processed
// independently; malformed lines land in the error list.
func (imp *Importer) Import(ctx context.Context, lines []ProjectionLine, sourceFile string) (ImportSummary, error) {
	summary := ImportSummary{BatchID: uuid.NewString()}
	now := imp.Now()

	for i, line := range lines {
		if err := validateLine(line); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}

		p := Projection{
			ID:                uuid.NewString(),
			VendorID:          line.VendorID,
			SKU:               strings.TrimSpace(line.SKU),
			SKUDescription:    strings.TrimSpace(line.SKUDescription),
			Collection:        line.Collection,
			Brand:             line.Brand,
			Year:              line.Year,
			Month:             line.Month,
			OrderType:         line.OrderType,
			Quantity:          line.Quantity,
			ProjectionValue:   line.ProjectionValue,
			ImportBatchID:     summary.BatchID,
			ProjectionRunDate: line.ProjectionRunDate,
			SourceFile:        sourceFile,
			Status:            StatusUnmatched,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if p.ProjectionRunDate.IsZero() {
			p.ProjectionRunDate = now
		}

		existing, err := imp.Store.GetOpenByKey(ctx, p.Key())
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}

		if existing != nil {
			// Supersede the still-open forecast for this key in place,
			// keeping its identity and audit trail. A partial keeps its
			// accumulated actuals; coverage and variance are recomputed
			// against the new forecast numbers.
			updated := *existing
			updated.SKUDescription = p.SKUDescription
			updated.Collection = p.Collection
			updated.Quantity = p.Quantity
			updated.ProjectionValue = p.ProjectionValue
			updated.ImportBatchID = summary.BatchID
			updated.ProjectionRunDate = p.ProjectionRunDate
			updated.SourceFile = sourceFile
			updated.UpdatedAt = now
			if existing.Status == StatusPartial && existing.ActualQuantity != nil {
				v := ComputeVariance(updated.Quantity, updated.ProjectionValue,
					*existing.ActualQuantity, *existing.ActualValue)
				v.Apply(&updated, *existing.MatchedPONumber,
					*existing.ActualQuantity, *existing.ActualValue)
			}
			if err := imp.Store.UpdateProjection(ctx, updated, existing.Status); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", i+1, err))
				continue
			}
			summary.Superseded++
			continue
		}

		if err := imp.Store.InsertProjection(ctx, p); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		summary.Created++
	}

	imp.Log.WithFields(logrus.Fields{
		"batch":      summary.BatchID,
		"lines":      len(lines),
		"created":    summary.Created,
		"superseded": summary.Superseded,
		"errors":     len(summary.Errors),
	}).Info("projection import complete")

	return summary, nil
}

func validateLine(line ProjectionLine) error {
	if line.VendorID <= 0 {
		return &ValidationError{Field: "vendorId", Message: "required"}
	}
	if strings.TrimSpace(line.SKU) == "" {
		return &ValidationError{Field: "sku", Message: "required"}
	}
	if line.Month < 1 || line.Month > 12 {
		return &ValidationError{Field: "month", Message: "must be 1-12"}
	}
	if line.Year < 2000 || line.Year > 2100 {
		return &ValidationError{Field: "year", Message: "out of range"}
	}
	if !ValidOrderType(string(line.OrderType)) {
		return &ValidationError{Field: "orderType", Message: fmt.Sprintf("unknown order type %q", line.OrderType)}
	}
	if line.Quantity < 0 {
		return &ValidationError{Field: "quantity", Message: "must be >= 0"}
	}
	if line.ProjectionValue < 0 {
		return &ValidationError{Field: "projectionValue", Message: "must be >= 0"}
	}
	return nil
}
