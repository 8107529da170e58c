/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements projection.TxStore using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  projections:         One row per forecast line (never deleted)
  expired_projections: One row per expiration event
  po_facts:            Imported purchase order facts, read-only to the engine
  runs:                Batch run audit trail

OPTIMISTIC LOCKING:
  Lifecycle transitions are conditional writes:
    UPDATE projections SET ... WHERE id = ? AND match_status = ?
  Zero rows affected with the row present means another caller moved the
  row first; the store surfaces projection.ErrConcurrentModification and
  the caller retries or reports it.

UNIQUENESS GUARDS:
  - idx_projections_open_key: at most one open (unmatched) row per logical
    forecast key, so re-imports supersede instead of duplicating
  - idx_expired_pending: at most one pending snapshot per originating
    projection

WAL MODE:
  SQLite is opened with WAL for better read concurrency; a sync.RWMutex
  serializes writers in-process.

USAGE:
  store, err := sqlite.New("./data/projections.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - projection/store.go: Interface definitions
  - projection/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/merchops/projection-engine/projection"
)

// Store implements projection.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projections (
		id TEXT PRIMARY KEY,
		vendor_id INTEGER NOT NULL,
		sku TEXT NOT NULL,
		sku_description TEXT,
		collection TEXT,
		brand TEXT,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		order_type TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		projection_value INTEGER NOT NULL CHECK (projection_value >= 0),
		import_batch_id TEXT,
		projection_run_date TEXT NOT NULL,
		source_file TEXT,
		line_key TEXT NOT NULL,
		matched_po_number TEXT,
		actual_quantity INTEGER,
		actual_value INTEGER,
		quantity_variance INTEGER,
		value_variance INTEGER,
		variance_pct INTEGER,
		matched_at TEXT,
		match_status TEXT NOT NULL,
		removal_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projections_status
		ON projections(match_status);

	-- Hot path: the open pool scanned by matching and expiration
	CREATE INDEX IF NOT EXISTS idx_projections_open
		ON projections(match_status, vendor_id, sku)
		WHERE match_status IN ('unmatched', 'partial');

	-- One open row per logical forecast key; re-imports supersede in place
	CREATE UNIQUE INDEX IF NOT EXISTS idx_projections_open_key
		ON projections(line_key)
		WHERE match_status IN ('unmatched', 'partial');

	-- One PO satisfies at most one projection
	CREATE INDEX IF NOT EXISTS idx_projections_po
		ON projections(matched_po_number)
		WHERE matched_po_number IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_projections_dims
		ON projections(vendor_id, brand, year, month);

	CREATE TABLE IF NOT EXISTS expired_projections (
		id TEXT PRIMARY KEY,
		original_projection_id TEXT NOT NULL,
		vendor_id INTEGER NOT NULL,
		sku TEXT NOT NULL,
		sku_description TEXT,
		collection TEXT,
		brand TEXT,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		order_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		projection_value INTEGER NOT NULL,
		status_at_expiry TEXT NOT NULL,
		expired_at TEXT NOT NULL,
		expiration_reason TEXT NOT NULL,
		threshold_days INTEGER NOT NULL,
		days_overdue INTEGER NOT NULL,
		verification_status TEXT NOT NULL DEFAULT 'pending',
		verified_at TEXT,
		verified_by TEXT,
		restored_by TEXT,
		verification_notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expired_status
		ON expired_projections(verification_status);
	CREATE INDEX IF NOT EXISTS idx_expired_original
		ON expired_projections(original_projection_id);

	-- At most one pending snapshot per originating projection
	CREATE UNIQUE INDEX IF NOT EXISTS idx_expired_pending
		ON expired_projections(original_projection_id)
		WHERE verification_status = 'pending';

	CREATE TABLE IF NOT EXISTS po_facts (
		po_number TEXT PRIMARY KEY,
		vendor TEXT NOT NULL,
		sku TEXT NOT NULL,
		order_quantity INTEGER NOT NULL,
		total_value INTEGER NOT NULL,
		po_date TEXT,
		original_ship_date TEXT,
		program_description TEXT,
		imported_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		batch_size INTEGER NOT NULL,
		matched INTEGER NOT NULL DEFAULT 0,
		variances INTEGER NOT NULL DEFAULT 0,
		expired INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started
		ON runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every operation can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (projection.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(projection.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store operation through the open transaction.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) InsertProjection(ctx context.Context, p projection.Projection) error {
	return ts.parent.insertProjection(ctx, ts.tx, p)
}
func (ts *txStore) GetProjection(ctx context.Context, id string) (*projection.Projection, error) {
	return ts.parent.getProjection(ctx, ts.tx, id)
}
func (ts *txStore) GetOpenByKey(ctx context.Context, key string) (*projection.Projection, error) {
	return ts.parent.getOpenByKey(ctx, ts.tx, key)
}
func (ts *txStore) ListProjections(ctx context.Context, f projection.Filter) ([]projection.Projection, error) {
	return ts.parent.listProjections(ctx, ts.tx, f)
}
func (ts *txStore) OpenProjections(ctx context.Context) ([]projection.Projection, error) {
	return ts.parent.openProjections(ctx, ts.tx)
}
func (ts *txStore) ProjectionByPONumber(ctx context.Context, poNumber string) (*projection.Projection, error) {
	return ts.parent.projectionByPONumber(ctx, ts.tx, poNumber)
}
func (ts *txStore) UpdateProjection(ctx context.Context, p projection.Projection, expected projection.MatchStatus) error {
	return ts.parent.updateProjection(ctx, ts.tx, p, expected)
}
func (ts *txStore) InsertExpired(ctx context.Context, e projection.ExpiredProjection) error {
	return ts.parent.insertExpired(ctx, ts.tx, e)
}
func (ts *txStore) GetExpired(ctx context.Context, id string) (*projection.ExpiredProjection, error) {
	return ts.parent.getExpired(ctx, ts.tx, id)
}
func (ts *txStore) ListExpired(ctx context.Context, status *projection.VerificationStatus) ([]projection.ExpiredProjection, error) {
	return ts.parent.listExpired(ctx, ts.tx, status)
}
func (ts *txStore) UpdateExpired(ctx context.Context, e projection.ExpiredProjection, expected projection.VerificationStatus) error {
	return ts.parent.updateExpired(ctx, ts.tx, e, expected)
}
func (ts *txStore) UpsertPOFact(ctx context.Context, f projection.POFact) error {
	return ts.parent.upsertPOFact(ctx, ts.tx, f)
}
func (ts *txStore) GetPOFact(ctx context.Context, poNumber string) (*projection.POFact, error) {
	return ts.parent.getPOFact(ctx, ts.tx, poNumber)
}
func (ts *txStore) InsertRun(ctx context.Context, r projection.RunRecord) error {
	return ts.parent.insertRun(ctx, ts.tx, r)
}
func (ts *txStore) ListRuns(ctx context.Context, limit int) ([]projection.RunRecord, error) {
	return ts.parent.listRuns(ctx, ts.tx, limit)
}

// =============================================================================
// PROJECTIONS
// =============================================================================

const projectionCols = `id, vendor_id, sku, sku_description, collection, brand, year, month,
	order_type, quantity, projection_value, import_batch_id, projection_run_date, source_file,
	matched_po_number, actual_quantity, actual_value, quantity_variance, value_variance,
	variance_pct, matched_at, match_status, removal_reason, created_at, updated_at`

// InsertProjection creates a new forecast row.
func (s *Store) InsertProjection(ctx context.Context, p projection.Projection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertProjection(ctx, s.db, p)
}

func (s *Store) insertProjection(ctx context.Context, db dbtx, p projection.Projection) error {
	query := `
		INSERT INTO projections
		(id, vendor_id, sku, sku_description, collection, brand, year, month,
		 order_type, quantity, projection_value, import_batch_id, projection_run_date, source_file,
		 line_key, matched_po_number, actual_quantity, actual_value, quantity_variance,
		 value_variance, variance_pct, matched_at, match_status, removal_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		p.ID, p.VendorID, p.SKU, p.SKUDescription, p.Collection, p.Brand, p.Year, p.Month,
		string(p.OrderType), p.Quantity, p.ProjectionValue, p.ImportBatchID,
		p.ProjectionRunDate.UTC().Format(time.RFC3339), p.SourceFile,
		p.Key(),
		nullStringPtr(p.MatchedPONumber),
		nullInt(p.ActualQuantity), nullInt(p.ActualValue),
		nullInt(p.QuantityVariance), nullInt(p.ValueVariance), nullInt(p.VariancePct),
		nullTime(p.MatchedAt),
		string(p.Status), p.RemovalReason,
		p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("open projection for key %s already exists: %w", p.Key(), err)
		}
		return fmt.Errorf("failed to insert projection: %w", err)
	}
	return nil
}

// GetProjection returns a projection by id, or nil if absent.
func (s *Store) GetProjection(ctx context.Context, id string) (*projection.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProjection(ctx, s.db, id)
}

func (s *Store) getProjection(ctx context.Context, db dbtx, id string) (*projection.Projection, error) {
	rows, err := s.queryProjections(ctx, db,
		"SELECT "+projectionCols+" FROM projections WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetOpenByKey returns the open (unmatched or partial) row for a logical
// forecast key.
func (s *Store) GetOpenByKey(ctx context.Context, key string) (*projection.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOpenByKey(ctx, s.db, key)
}

func (s *Store) getOpenByKey(ctx context.Context, db dbtx, key string) (*projection.Projection, error) {
	rows, err := s.queryProjections(ctx, db,
		"SELECT "+projectionCols+" FROM projections WHERE line_key = ? AND match_status IN ('unmatched', 'partial')", key)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListProjections returns all projections passing the filter.
func (s *Store) ListProjections(ctx context.Context, f projection.Filter) ([]projection.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProjections(ctx, s.db, f)
}

func (s *Store) listProjections(ctx context.Context, db dbtx, f projection.Filter) ([]projection.Projection, error) {
	query := "SELECT " + projectionCols + " FROM projections"
	var conds []string
	var args []any

	if f.VendorID != nil {
		conds = append(conds, "vendor_id = ?")
		args = append(args, *f.VendorID)
	}
	if f.Brand != nil {
		conds = append(conds, "brand = ?")
		args = append(args, *f.Brand)
	}
	if f.Year != nil {
		conds = append(conds, "year = ?")
		args = append(args, *f.Year)
	}
	if f.Month != nil {
		conds = append(conds, "month = ?")
		args = append(args, *f.Month)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "match_status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(f.OrderTypes) > 0 {
		marks := make([]string, len(f.OrderTypes))
		for i, ot := range f.OrderTypes {
			marks[i] = "?"
			args = append(args, string(ot))
		}
		conds = append(conds, "order_type IN ("+strings.Join(marks, ", ")+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id ASC"

	return s.queryProjections(ctx, db, query, args...)
}

// OpenProjections returns the matching pool.
func (s *Store) OpenProjections(ctx context.Context) ([]projection.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openProjections(ctx, s.db)
}

func (s *Store) openProjections(ctx context.Context, db dbtx) ([]projection.Projection, error) {
	return s.queryProjections(ctx, db,
		"SELECT "+projectionCols+" FROM projections WHERE match_status IN ('unmatched', 'partial') ORDER BY projection_run_date ASC, id ASC")
}

// ProjectionByPONumber returns the projection carrying the PO number, or nil.
func (s *Store) ProjectionByPONumber(ctx context.Context, poNumber string) (*projection.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectionByPONumber(ctx, s.db, poNumber)
}

func (s *Store) projectionByPONumber(ctx context.Context, db dbtx, poNumber string) (*projection.Projection, error) {
	rows, err := s.queryProjections(ctx, db,
		"SELECT "+projectionCols+" FROM projections WHERE matched_po_number = ? LIMIT 1", poNumber)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpdateProjection writes all mutable fields, conditional on the current
// match status.
func (s *Store) UpdateProjection(ctx context.Context, p projection.Projection, expected projection.MatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateProjection(ctx, s.db, p, expected)
}

func (s *Store) updateProjection(ctx context.Context, db dbtx, p projection.Projection, expected projection.MatchStatus) error {
	query := `
		UPDATE projections SET
			sku_description = ?, collection = ?, order_type = ?,
			quantity = ?, projection_value = ?, import_batch_id = ?,
			projection_run_date = ?, source_file = ?, line_key = ?,
			matched_po_number = ?, actual_quantity = ?, actual_value = ?,
			quantity_variance = ?, value_variance = ?, variance_pct = ?,
			matched_at = ?, match_status = ?, removal_reason = ?, updated_at = ?
		WHERE id = ? AND match_status = ?
	`

	res, err := db.ExecContext(ctx, query,
		p.SKUDescription, p.Collection, string(p.OrderType),
		p.Quantity, p.ProjectionValue, p.ImportBatchID,
		p.ProjectionRunDate.UTC().Format(time.RFC3339), p.SourceFile, p.Key(),
		nullStringPtr(p.MatchedPONumber),
		nullInt(p.ActualQuantity), nullInt(p.ActualValue),
		nullInt(p.QuantityVariance), nullInt(p.ValueVariance), nullInt(p.VariancePct),
		nullTime(p.MatchedAt),
		string(p.Status), p.RemovalReason, p.UpdatedAt.UTC().Format(time.RFC3339),
		p.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update projection: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := s.getProjection(ctx, db, p.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return &projection.NotFoundError{Entity: "projection", ID: p.ID}
		}
		return fmt.Errorf("projection %s: %w", p.ID, projection.ErrConcurrentModification)
	}
	return nil
}

func (s *Store) queryProjections(ctx context.Context, db dbtx, query string, args ...any) ([]projection.Projection, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projections: %w", err)
	}
	defer rows.Close()

	var out []projection.Projection
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProjection(rows *sql.Rows) (projection.Projection, error) {
	var (
		p                projection.Projection
		orderType        string
		runDate          string
		skuDesc          sql.NullString
		collection       sql.NullString
		brand            sql.NullString
		importBatchID    sql.NullString
		sourceFile       sql.NullString
		matchedPONumber  sql.NullString
		actualQuantity   sql.NullInt64
		actualValue      sql.NullInt64
		quantityVariance sql.NullInt64
		valueVariance    sql.NullInt64
		variancePct      sql.NullInt64
		matchedAt        sql.NullString
		status           string
		removalReason    sql.NullString
		createdAt        string
		updatedAt        string
	)

	err := rows.Scan(
		&p.ID, &p.VendorID, &p.SKU, &skuDesc, &collection, &brand, &p.Year, &p.Month,
		&orderType, &p.Quantity, &p.ProjectionValue, &importBatchID, &runDate, &sourceFile,
		&matchedPONumber, &actualQuantity, &actualValue, &quantityVariance, &valueVariance,
		&variancePct, &matchedAt, &status, &removalReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan projection: %w", err)
	}

	p.SKUDescription = skuDesc.String
	p.Collection = collection.String
	p.Brand = brand.String
	p.ImportBatchID = importBatchID.String
	p.SourceFile = sourceFile.String
	p.OrderType = projection.OrderType(orderType)
	p.Status = projection.MatchStatus(status)
	p.RemovalReason = removalReason.String
	p.ProjectionRunDate, _ = time.Parse(time.RFC3339, runDate)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if matchedPONumber.Valid {
		v := matchedPONumber.String
		p.MatchedPONumber = &v
	}
	p.ActualQuantity = int64Ptr(actualQuantity)
	p.ActualValue = int64Ptr(actualValue)
	p.QuantityVariance = int64Ptr(quantityVariance)
	p.ValueVariance = int64Ptr(valueVariance)
	p.VariancePct = int64Ptr(variancePct)
	if matchedAt.Valid {
		t, _ := time.Parse(time.RFC3339, matchedAt.String)
		p.MatchedAt = &t
	}

	return p, nil
}

// =============================================================================
// EXPIRED SNAPSHOTS
// =============================================================================

const expiredCols = `id, original_projection_id, vendor_id, sku, sku_description, collection, brand,
	year, month, order_type, quantity, projection_value, status_at_expiry, expired_at,
	expiration_reason, threshold_days, days_overdue, verification_status, verified_at,
	verified_by, restored_by, verification_notes, created_at`

// InsertExpired creates an expiration snapshot.
func (s *Store) InsertExpired(ctx context.Context, e projection.ExpiredProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertExpired(ctx, s.db, e)
}

func (s *Store) insertExpired(ctx context.Context, db dbtx, e projection.ExpiredProjection) error {
	query := `
		INSERT INTO expired_projections
		(id, original_projection_id, vendor_id, sku, sku_description, collection, brand,
		 year, month, order_type, quantity, projection_value, status_at_expiry, expired_at,
		 expiration_reason, threshold_days, days_overdue, verification_status, verified_at,
		 verified_by, restored_by, verification_notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID, e.OriginalProjectionID, e.VendorID, e.SKU, e.SKUDescription, e.Collection, e.Brand,
		e.Year, e.Month, string(e.OrderType), e.Quantity, e.ProjectionValue, string(e.StatusAtExpiry),
		e.ExpiredAt.UTC().Format(time.RFC3339),
		e.ExpirationReason, e.ThresholdDays, e.DaysOverdue,
		string(e.VerificationStatus), nullTime(e.VerifiedAt),
		e.VerifiedBy, e.RestoredBy, e.VerificationNotes,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("pending snapshot for projection %s already exists: %w",
				e.OriginalProjectionID, err)
		}
		return fmt.Errorf("failed to insert expired projection: %w", err)
	}
	return nil
}

// GetExpired returns a snapshot by id, or nil.
func (s *Store) GetExpired(ctx context.Context, id string) (*projection.ExpiredProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getExpired(ctx, s.db, id)
}

func (s *Store) getExpired(ctx context.Context, db dbtx, id string) (*projection.ExpiredProjection, error) {
	rows, err := s.queryExpired(ctx, db,
		"SELECT "+expiredCols+" FROM expired_projections WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListExpired returns snapshots, newest first.
func (s *Store) ListExpired(ctx context.Context, status *projection.VerificationStatus) ([]projection.ExpiredProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listExpired(ctx, s.db, status)
}

func (s *Store) listExpired(ctx context.Context, db dbtx, status *projection.VerificationStatus) ([]projection.ExpiredProjection, error) {
	if status != nil {
		return s.queryExpired(ctx, db,
			"SELECT "+expiredCols+" FROM expired_projections WHERE verification_status = ? ORDER BY created_at DESC, id ASC",
			string(*status))
	}
	return s.queryExpired(ctx, db,
		"SELECT "+expiredCols+" FROM expired_projections ORDER BY created_at DESC, id ASC")
}

// UpdateExpired writes the verification fields, conditional on the current
// verification status.
func (s *Store) UpdateExpired(ctx context.Context, e projection.ExpiredProjection, expected projection.VerificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateExpired(ctx, s.db, e, expected)
}

func (s *Store) updateExpired(ctx context.Context, db dbtx, e projection.ExpiredProjection, expected projection.VerificationStatus) error {
	query := `
		UPDATE expired_projections SET
			verification_status = ?, verified_at = ?, verified_by = ?,
			restored_by = ?, verification_notes = ?
		WHERE id = ? AND verification_status = ?
	`

	res, err := db.ExecContext(ctx, query,
		string(e.VerificationStatus), nullTime(e.VerifiedAt), e.VerifiedBy,
		e.RestoredBy, e.VerificationNotes,
		e.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update expired projection: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := s.getExpired(ctx, db, e.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return &projection.NotFoundError{Entity: "expired_projection", ID: e.ID}
		}
		return fmt.Errorf("expired projection %s: %w", e.ID, projection.ErrConcurrentModification)
	}
	return nil
}

func (s *Store) queryExpired(ctx context.Context, db dbtx, query string, args ...any) ([]projection.ExpiredProjection, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired projections: %w", err)
	}
	defer rows.Close()

	var out []projection.ExpiredProjection
	for rows.Next() {
		e, err := scanExpired(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExpired(rows *sql.Rows) (projection.ExpiredProjection, error) {
	var (
		e              projection.ExpiredProjection
		skuDesc        sql.NullString
		collection     sql.NullString
		brand          sql.NullString
		orderType      string
		statusAtExpiry string
		expiredAt      string
		verification   string
		verifiedAt     sql.NullString
		verifiedBy     sql.NullString
		restoredBy     sql.NullString
		notes          sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&e.ID, &e.OriginalProjectionID, &e.VendorID, &e.SKU, &skuDesc, &collection, &brand,
		&e.Year, &e.Month, &orderType, &e.Quantity, &e.ProjectionValue, &statusAtExpiry,
		&expiredAt, &e.ExpirationReason, &e.ThresholdDays, &e.DaysOverdue,
		&verification, &verifiedAt, &verifiedBy, &restoredBy, &notes, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan expired projection: %w", err)
	}

	e.SKUDescription = skuDesc.String
	e.Collection = collection.String
	e.Brand = brand.String
	e.OrderType = projection.OrderType(orderType)
	e.StatusAtExpiry = projection.MatchStatus(statusAtExpiry)
	e.VerificationStatus = projection.VerificationStatus(verification)
	e.VerifiedBy = verifiedBy.String
	e.RestoredBy = restoredBy.String
	e.VerificationNotes = notes.String
	e.ExpiredAt, _ = time.Parse(time.RFC3339, expiredAt)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if verifiedAt.Valid {
		t, _ := time.Parse(time.RFC3339, verifiedAt.String)
		e.VerifiedAt = &t
	}

	return e, nil
}

// =============================================================================
// PO FACTS
// =============================================================================

// UpsertPOFact retains an imported PO fact; re-imports overwrite in place.
func (s *Store) UpsertPOFact(ctx context.Context, f projection.POFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertPOFact(ctx, s.db, f)
}

func (s *Store) upsertPOFact(ctx context.Context, db dbtx, f projection.POFact) error {
	query := `
		INSERT INTO po_facts
		(po_number, vendor, sku, order_quantity, total_value, po_date, original_ship_date,
		 program_description, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(po_number) DO UPDATE SET
			vendor = excluded.vendor,
			sku = excluded.sku,
			order_quantity = excluded.order_quantity,
			total_value = excluded.total_value,
			po_date = excluded.po_date,
			original_ship_date = excluded.original_ship_date,
			program_description = excluded.program_description,
			imported_at = excluded.imported_at
	`

	_, err := db.ExecContext(ctx, query,
		f.PONumber, f.Vendor, f.SKU, f.OrderQuantity, f.TotalValue,
		nullTimeValue(f.PODate), nullTimeValue(f.OriginalShipDate),
		f.ProgramDescription,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert PO fact: %w", err)
	}
	return nil
}

// GetPOFact returns a PO fact by number, or nil.
func (s *Store) GetPOFact(ctx context.Context, poNumber string) (*projection.POFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPOFact(ctx, s.db, poNumber)
}

func (s *Store) getPOFact(ctx context.Context, db dbtx, poNumber string) (*projection.POFact, error) {
	var (
		f        projection.POFact
		poDate   sql.NullString
		shipDate sql.NullString
		program  sql.NullString
		imported string
	)

	err := db.QueryRowContext(ctx,
		`SELECT po_number, vendor, sku, order_quantity, total_value, po_date,
		        original_ship_date, program_description, imported_at
		 FROM po_facts WHERE po_number = ?`, poNumber,
	).Scan(&f.PONumber, &f.Vendor, &f.SKU, &f.OrderQuantity, &f.TotalValue,
		&poDate, &shipDate, &program, &imported)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get PO fact: %w", err)
	}

	f.ProgramDescription = program.String
	if poDate.Valid {
		f.PODate, _ = time.Parse(time.RFC3339, poDate.String)
	}
	if shipDate.Valid {
		f.OriginalShipDate, _ = time.Parse(time.RFC3339, shipDate.String)
	}
	return &f, nil
}

// =============================================================================
// RUN AUDIT
// =============================================================================

// InsertRun records a batch run.
func (s *Store) InsertRun(ctx context.Context, r projection.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRun(ctx, s.db, r)
}

func (s *Store) insertRun(ctx context.Context, db dbtx, r projection.RunRecord) error {
	query := `
		INSERT INTO runs (id, kind, batch_size, matched, variances, expired, error_count, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		r.ID, string(r.Kind), r.BatchSize, r.Matched, r.Variances, r.Expired, r.ErrorCount,
		r.StartedAt.UTC().Format(time.RFC3339), r.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]projection.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRuns(ctx, s.db, limit)
}

func (s *Store) listRuns(ctx context.Context, db dbtx, limit int) ([]projection.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, batch_size, matched, variances, expired, error_count, started_at, completed_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []projection.RunRecord
	for rows.Next() {
		var (
			r         projection.RunRecord
			kind      string
			started   string
			completed string
		)
		if err := rows.Scan(&r.ID, &kind, &r.BatchSize, &r.Matched, &r.Variances,
			&r.Expired, &r.ErrorCount, &started, &completed); err != nil {
			return nil, err
		}
		r.Kind = projection.RunKind(kind)
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.CompletedAt, _ = time.Parse(time.RFC3339, completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"projections", "expired_projections", "po_facts", "runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullTimeValue(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
