package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vulnhawk/vulnhawk/internal/errors"
)

// ModuleResultRepository handles module execution records. Rows are
// append-only: one per dispatched module, finalized exactly once.
type ModuleResultRepository struct {
	db *DB
}

// NewModuleResultRepository creates a new module result repository.
func NewModuleResultRepository(db *DB) *ModuleResultRepository {
	return &ModuleResultRepository{db: db}
}

// CreateRunning records that a module has been dispatched for a scan.
func (r *ModuleResultRepository) CreateRunning(ctx context.Context, scanID uuid.UUID, module string) (*ModuleResult, error) {
	result := &ModuleResult{
		ID:     uuid.New(),
		ScanID: scanID,
		Module: module,
		Status: ModuleStatusRunning,
	}

	query := `
		INSERT INTO module_results (id, scan_id, module, status)
		VALUES (:id, :scan_id, :module, :status)
		RETURNING started_at`

	rows, err := r.db.NamedQueryContext(ctx, query, result)
	if err != nil {
		return nil, sanitizeDBError("create module result", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&result.StartedAt); err != nil {
			return nil, sanitizeDBError("scan created module result", err)
		}
	}
	return result, nil
}

// Finalize records a module's terminal state. The status guard makes
// finalization idempotent-safe: a second call is rejected.
func (r *ModuleResultRepository) Finalize(ctx context.Context, id uuid.UUID,
	status string, rawOutput JSONB, errorMessage *string, duration time.Duration) error {
	query := `
		UPDATE module_results
		SET status = $2, raw_output = $3, error_message = $4,
		    finished_at = NOW(), duration_ms = $5
		WHERE id = $1 AND status = 'running'`

	res, err := r.db.ExecContext(ctx, query, id, status, rawOutput, errorMessage,
		duration.Milliseconds())
	if err != nil {
		return sanitizeDBError("finalize module result", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewDatabaseError(errors.CodeConflict, "Module result already finalized")
	}
	return nil
}

// ListByScan retrieves all module results for a scan in dispatch order.
func (r *ModuleResultRepository) ListByScan(ctx context.Context, scanID uuid.UUID) ([]*ModuleResult, error) {
	var results []*ModuleResult
	query := `SELECT * FROM module_results WHERE scan_id = $1 ORDER BY started_at`

	if err := r.db.SelectContext(ctx, &results, query, scanID); err != nil {
		return nil, sanitizeDBError("list module results", err)
	}
	return results, nil
}

// CountCreatedAfter reports how many module results for a scan were created
// after the given instant. Used to verify no dispatch happens past a
// cancellation.
func (r *ModuleResultRepository) CountCreatedAfter(ctx context.Context, scanID uuid.UUID, after time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM module_results WHERE scan_id = $1 AND started_at > $2`

	if err := r.db.GetContext(ctx, &count, query, scanID, after); err != nil {
		return 0, sanitizeDBError("count module results", err)
	}
	return count, nil
}
