package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TargetRepository handles target persistence. Verification status is mutated
// by the external verification subsystem; the engine only touches the scan
// timestamps.
type TargetRepository struct {
	db *DB
}

// NewTargetRepository creates a new target repository.
func NewTargetRepository(db *DB) *TargetRepository {
	return &TargetRepository{db: db}
}

// Create creates a new target.
func (r *TargetRepository) Create(ctx context.Context, target *Target) error {
	query := `
		INSERT INTO targets (id, org_id, value, type, status, default_profile, schedule)
		VALUES (:id, :org_id, :value, :type, :status, :default_profile, :schedule)
		RETURNING created_at, updated_at`

	if target.ID == uuid.Nil {
		target.ID = uuid.New()
	}
	if target.Status == "" {
		target.Status = TargetStatusPending
	}
	if target.DefaultProfile == "" {
		target.DefaultProfile = ProfileStandard
	}

	rows, err := r.db.NamedQueryContext(ctx, query, target)
	if err != nil {
		return sanitizeDBError("create target", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&target.CreatedAt, &target.UpdatedAt); err != nil {
			return sanitizeDBError("scan created target", err)
		}
	}
	return nil
}

// GetByID retrieves a target by ID.
func (r *TargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*Target, error) {
	var target Target
	query := `SELECT * FROM targets WHERE id = $1`

	if err := r.db.GetContext(ctx, &target, query, id); err != nil {
		return nil, sanitizeDBError("get target", err)
	}
	return &target, nil
}

// List retrieves all targets for an organization.
func (r *TargetRepository) List(ctx context.Context, orgID uuid.UUID) ([]*Target, error) {
	var targets []*Target
	query := `SELECT * FROM targets WHERE org_id = $1 ORDER BY value`

	if err := r.db.SelectContext(ctx, &targets, query, orgID); err != nil {
		return nil, sanitizeDBError("list targets", err)
	}
	return targets, nil
}

// ListScheduled retrieves verified targets with a recurring schedule.
func (r *TargetRepository) ListScheduled(ctx context.Context) ([]*Target, error) {
	var targets []*Target
	query := `
		SELECT * FROM targets
		WHERE schedule IS NOT NULL AND status = $1
		ORDER BY value`

	if err := r.db.SelectContext(ctx, &targets, query, TargetStatusVerified); err != nil {
		return nil, sanitizeDBError("list scheduled targets", err)
	}
	return targets, nil
}

// UpdateStatus updates the verification status of a target.
func (r *TargetRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE targets SET status = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return sanitizeDBError("update target status", err)
	}
	return nil
}

// ScheduleNextScan sets only the next scheduled run time, leaving
// last_scan_at untouched.
func (r *TargetRepository) ScheduleNextScan(ctx context.Context, id uuid.UUID, next time.Time) error {
	query := `UPDATE targets SET next_scan_at = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, next); err != nil {
		return sanitizeDBError("schedule next scan", err)
	}
	return nil
}

// TouchScanTimes records when the target was last scanned and when the next
// scheduled scan is due.
func (r *TargetRepository) TouchScanTimes(ctx context.Context, id uuid.UUID, lastScanAt time.Time, nextScanAt *time.Time) error {
	query := `
		UPDATE targets
		SET last_scan_at = $2, next_scan_at = $3, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, lastScanAt, nextScanAt); err != nil {
		return sanitizeDBError("touch target scan times", err)
	}
	return nil
}
