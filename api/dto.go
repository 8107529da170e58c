/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All money fields are integer minor currency units (cents). Clients
  format for display.

VALIDATION:
  Validation is done in handlers and domain logic, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - projection/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/merchops/projection-engine/projection"
)

// =============================================================================
// PROJECTION TYPES
// =============================================================================

// ProjectionDTO represents a forecast line in API responses.
type ProjectionDTO struct {
	ID                string  `json:"id"`
	VendorID          int64   `json:"vendor_id"`
	SKU               string  `json:"sku"`
	SKUDescription    string  `json:"sku_description,omitempty"`
	Collection        string  `json:"collection,omitempty"`
	Brand             string  `json:"brand,omitempty"`
	Year              int     `json:"year"`
	Month             int     `json:"month"`
	OrderType         string  `json:"order_type"`
	Quantity          int64   `json:"quantity"`
	ProjectionValue   int64   `json:"projection_value"`
	ImportBatchID     string  `json:"import_batch_id,omitempty"`
	ProjectionRunDate string  `json:"projection_run_date"`
	SourceFile        string  `json:"source_file,omitempty"`
	MatchedPONumber   *string `json:"matched_po_number,omitempty"`
	ActualQuantity    *int64  `json:"actual_quantity,omitempty"`
	ActualValue       *int64  `json:"actual_value,omitempty"`
	QuantityVariance  *int64  `json:"quantity_variance,omitempty"`
	ValueVariance     *int64  `json:"value_variance,omitempty"`
	VariancePct       *int64  `json:"variance_pct,omitempty"`
	MatchedAt         *string `json:"matched_at,omitempty"`
	MatchStatus       string  `json:"match_status"`
	RemovalReason     string  `json:"removal_reason,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

// ProjectionLineDTO is one forecast line in an import request.
type ProjectionLineDTO struct {
	VendorID          int64  `json:"vendor_id"`
	SKU               string `json:"sku"`
	SKUDescription    string `json:"sku_description,omitempty"`
	Collection        string `json:"collection,omitempty"`
	Brand             string `json:"brand,omitempty"`
	Year              int    `json:"year"`
	Month             int    `json:"month"`
	OrderType         string `json:"order_type"`
	Quantity          int64  `json:"quantity"`
	ProjectionValue   int64  `json:"projection_value"`
	ProjectionRunDate string `json:"projection_run_date,omitempty"`
}

// ImportProjectionsRequest is the request to import a forecast batch.
type ImportProjectionsRequest struct {
	SourceFile string              `json:"source_file,omitempty"`
	Lines      []ProjectionLineDTO `json:"lines"`
}

// ImportSummaryDTO reports what a forecast import did.
type ImportSummaryDTO struct {
	BatchID    string   `json:"batch_id"`
	Created    int      `json:"created"`
	Superseded int      `json:"superseded"`
	Errors     []string `json:"errors"`
}

// =============================================================================
// PO FACT TYPES
// =============================================================================

// POFactDTO is one purchase order line in an import request or response.
type POFactDTO struct {
	PONumber           string `json:"po_number"`
	Vendor             string `json:"vendor"`
	SKU                string `json:"sku"`
	OrderQuantity      int64  `json:"order_quantity"`
	TotalValue         int64  `json:"total_value"`
	PODate             string `json:"po_date,omitempty"`
	OriginalShipDate   string `json:"original_ship_date,omitempty"`
	ProgramDescription string `json:"program_description,omitempty"`
}

// ImportPORequest is the request to import PO facts and run matching.
type ImportPORequest struct {
	Facts []POFactDTO `json:"facts"`
}

// MatchRunSummaryDTO reports what a matching run did.
type MatchRunSummaryDTO struct {
	Matched   int      `json:"matched"`
	Partial   int      `json:"partial"`
	Variances int      `json:"variances"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// =============================================================================
// LIFECYCLE TYPES
// =============================================================================

// ManualMatchRequest links a projection to a PO by hand.
type ManualMatchRequest struct {
	PONumber string `json:"po_number"`
}

// RemoveRequest marks a projection removed.
type RemoveRequest struct {
	Reason string `json:"reason"`
}

// OrderTypeRequest reclassifies a projection.
type OrderTypeRequest struct {
	OrderType string `json:"order_type"`
}

// =============================================================================
// EXPIRATION TYPES
// =============================================================================

// ExpiredProjectionDTO represents an expiration snapshot.
type ExpiredProjectionDTO struct {
	ID                   string  `json:"id"`
	OriginalProjectionID string  `json:"original_projection_id"`
	VendorID             int64   `json:"vendor_id"`
	SKU                  string  `json:"sku"`
	SKUDescription       string  `json:"sku_description,omitempty"`
	Collection           string  `json:"collection,omitempty"`
	Brand                string  `json:"brand,omitempty"`
	Year                 int     `json:"year"`
	Month                int     `json:"month"`
	OrderType            string  `json:"order_type"`
	Quantity             int64   `json:"quantity"`
	ProjectionValue      int64   `json:"projection_value"`
	StatusAtExpiry       string  `json:"status_at_expiry"`
	ExpiredAt            string  `json:"expired_at"`
	ExpirationReason     string  `json:"expiration_reason"`
	ThresholdDays        int     `json:"threshold_days"`
	DaysOverdue          int     `json:"days_overdue"`
	VerificationStatus   string  `json:"verification_status"`
	VerifiedAt           *string `json:"verified_at,omitempty"`
	VerifiedBy           string  `json:"verified_by,omitempty"`
	RestoredBy           string  `json:"restored_by,omitempty"`
	VerificationNotes    string  `json:"verification_notes,omitempty"`
}

// ExpirationRunSummaryDTO reports what an expiration scan did.
type ExpirationRunSummaryDTO struct {
	RegularExpired int      `json:"regular_expired"`
	SpoExpired     int      `json:"spo_expired"`
	Errors         []string `json:"errors"`
}

// VerifyRequest resolves a pending expiration.
type VerifyRequest struct {
	Status     string `json:"status"` // "verified" or "cancelled"
	VerifiedBy string `json:"verified_by"`
	Notes      string `json:"notes,omitempty"`
}

// RestoreRequest returns an expired projection to the active pool.
type RestoreRequest struct {
	RestoredBy string `json:"restored_by"`
}

// =============================================================================
// RUN AUDIT TYPES
// =============================================================================

// RunDTO represents one recorded batch run.
type RunDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	BatchSize   int    `json:"batch_size"`
	Matched     int    `json:"matched"`
	Variances   int    `json:"variances"`
	Expired     int    `json:"expired"`
	ErrorCount  int    `json:"error_count"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toProjectionDTO(p projection.Projection) ProjectionDTO {
	dto := ProjectionDTO{
		ID:                p.ID,
		VendorID:          p.VendorID,
		SKU:               p.SKU,
		SKUDescription:    p.SKUDescription,
		Collection:        p.Collection,
		Brand:             p.Brand,
		Year:              p.Year,
		Month:             p.Month,
		OrderType:         string(p.OrderType),
		Quantity:          p.Quantity,
		ProjectionValue:   p.ProjectionValue,
		ImportBatchID:     p.ImportBatchID,
		ProjectionRunDate: p.ProjectionRunDate.UTC().Format("2006-01-02"),
		SourceFile:        p.SourceFile,
		MatchedPONumber:   p.MatchedPONumber,
		ActualQuantity:    p.ActualQuantity,
		ActualValue:       p.ActualValue,
		QuantityVariance:  p.QuantityVariance,
		ValueVariance:     p.ValueVariance,
		VariancePct:       p.VariancePct,
		MatchStatus:       string(p.Status),
		RemovalReason:     p.RemovalReason,
		CreatedAt:         formatTime(p.CreatedAt),
		UpdatedAt:         formatTime(p.UpdatedAt),
	}
	if p.MatchedAt != nil {
		v := formatTime(*p.MatchedAt)
		dto.MatchedAt = &v
	}
	return dto
}

func toProjectionDTOs(rows []projection.Projection) []ProjectionDTO {
	dtos := make([]ProjectionDTO, 0, len(rows))
	for _, p := range rows {
		dtos = append(dtos, toProjectionDTO(p))
	}
	return dtos
}

func toExpiredDTO(e projection.ExpiredProjection) ExpiredProjectionDTO {
	dto := ExpiredProjectionDTO{
		ID:                   e.ID,
		OriginalProjectionID: e.OriginalProjectionID,
		VendorID:             e.VendorID,
		SKU:                  e.SKU,
		SKUDescription:       e.SKUDescription,
		Collection:           e.Collection,
		Brand:                e.Brand,
		Year:                 e.Year,
		Month:                e.Month,
		OrderType:            string(e.OrderType),
		Quantity:             e.Quantity,
		ProjectionValue:      e.ProjectionValue,
		StatusAtExpiry:       string(e.StatusAtExpiry),
		ExpiredAt:            formatTime(e.ExpiredAt),
		ExpirationReason:     e.ExpirationReason,
		ThresholdDays:        e.ThresholdDays,
		DaysOverdue:          e.DaysOverdue,
		VerificationStatus:   string(e.VerificationStatus),
		VerifiedBy:           e.VerifiedBy,
		RestoredBy:           e.RestoredBy,
		VerificationNotes:    e.VerificationNotes,
	}
	if e.VerifiedAt != nil {
		v := formatTime(*e.VerifiedAt)
		dto.VerifiedAt = &v
	}
	return dto
}

func toExpiredDTOs(rows []projection.ExpiredProjection) []ExpiredProjectionDTO {
	dtos := make([]ExpiredProjectionDTO, 0, len(rows))
	for _, e := range rows {
		dtos = append(dtos, toExpiredDTO(e))
	}
	return dtos
}

func toPOFactDTO(f projection.POFact) POFactDTO {
	return POFactDTO{
		PONumber:           f.PONumber,
		Vendor:             f.Vendor,
		SKU:                f.SKU,
		OrderQuantity:      f.OrderQuantity,
		TotalValue:         f.TotalValue,
		PODate:             formatDate(f.PODate),
		OriginalShipDate:   formatDate(f.OriginalShipDate),
		ProgramDescription: f.ProgramDescription,
	}
}

func toRunDTO(r projection.RunRecord) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Kind:        string(r.Kind),
		BatchSize:   r.BatchSize,
		Matched:     r.Matched,
		Variances:   r.Variances,
		Expired:     r.Expired,
		ErrorCount:  r.ErrorCount,
		StartedAt:   formatTime(r.StartedAt),
		CompletedAt: formatTime(r.CompletedAt),
	}
}

func fromPOFactDTO(dto POFactDTO) projection.POFact {
	return projection.POFact{
		PONumber:           dto.PONumber,
		Vendor:             dto.Vendor,
		SKU:                dto.SKU,
		OrderQuantity:      dto.OrderQuantity,
		TotalValue:         dto.TotalValue,
		PODate:             parseDate(dto.PODate),
		OriginalShipDate:   parseDate(dto.OriginalShipDate),
		ProgramDescription: dto.ProgramDescription,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// parseDate accepts YYYY-MM-DD or RFC3339; zero time on anything else.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
