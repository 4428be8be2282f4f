package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vulnhawk/vulnhawk/internal/errors"
)

// ScanRepository handles scan persistence. Status transitions follow the
// lifecycle state machine: QUEUED -> RUNNING -> {COMPLETED, FAILED, CANCELLED};
// every mutating query guards on the source state so an illegal edge is a
// no-op at the SQL level rather than a lost update.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create persists a new scan in QUEUED state.
func (r *ScanRepository) Create(ctx context.Context, scan *Scan) error {
	query := `
		INSERT INTO scans (id, target_id, requested_by, type, profile, modules, config, status)
		VALUES (:id, :target_id, :requested_by, :type, :profile, :modules, :config, :status)
		RETURNING created_at`

	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	if scan.Status == "" {
		scan.Status = ScanStatusQueued
	}
	if scan.Type == "" {
		scan.Type = ScanTypeOnDemand
	}

	rows, err := r.db.NamedQueryContext(ctx, query, scan)
	if err != nil {
		return sanitizeDBError("create scan", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&scan.CreatedAt); err != nil {
			return sanitizeDBError("scan created scan", err)
		}
	}
	return nil
}

// GetByID retrieves a scan by ID.
func (r *ScanRepository) GetByID(ctx context.Context, id uuid.UUID) (*Scan, error) {
	var scan Scan
	query := `SELECT * FROM scans WHERE id = $1`

	if err := r.db.GetContext(ctx, &scan, query, id); err != nil {
		return nil, sanitizeDBError("get scan", err)
	}
	return &scan, nil
}

// ScanFilters narrows scan listings.
type ScanFilters struct {
	TargetID *uuid.UUID
	Status   string
	Limit    int
	Offset   int
}

// List retrieves scans matching the filters, newest first.
func (r *ScanRepository) List(ctx context.Context, filters ScanFilters) ([]*Scan, error) {
	query := `SELECT * FROM scans WHERE 1=1`
	args := []interface{}{}

	if filters.TargetID != nil {
		args = append(args, *filters.TargetID)
		query += fmt.Sprintf(` AND target_id = $%d`, len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var scans []*Scan
	if err := r.db.SelectContext(ctx, &scans, query, args...); err != nil {
		return nil, sanitizeDBError("list scans", err)
	}
	return scans, nil
}

// ClaimNextQueued atomically claims the oldest QUEUED scan and transitions it
// to RUNNING, setting started_at and progress 0. Returns nil, nil when the
// queue is empty. SKIP LOCKED lets multiple workers pull from one queue
// without contention.
func (r *ScanRepository) ClaimNextQueued(ctx context.Context) (*Scan, error) {
	query := `
		UPDATE scans
		SET status = $1, started_at = NOW(), progress = 0
		WHERE id = (
			SELECT id FROM scans
			WHERE status = $2
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`

	var scan Scan
	err := r.db.GetContext(ctx, &scan, query, ScanStatusRunning, ScanStatusQueued)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sanitizeDBError("claim queued scan", err)
	}
	return &scan, nil
}

// UpdateProgress records scan progress. GREATEST keeps progress monotonically
// non-decreasing even if module finalizations race.
func (r *ScanRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE scans
		SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND status = $3`

	if _, err := r.db.ExecContext(ctx, query, id, progress, ScanStatusRunning); err != nil {
		return sanitizeDBError("update scan progress", err)
	}
	return nil
}

// Complete transitions a RUNNING scan to COMPLETED with its final counts.
func (r *ScanRepository) Complete(ctx context.Context, id uuid.UUID, counts SeverityCounts, duration time.Duration) error {
	query := `
		UPDATE scans
		SET status = $2, progress = 100, completed_at = NOW(), duration_ms = $3,
		    critical_count = $4, high_count = $5, medium_count = $6,
		    low_count = $7, info_count = $8
		WHERE id = $1 AND status = $9`

	res, err := r.db.ExecContext(ctx, query, id, ScanStatusCompleted, duration.Milliseconds(),
		counts.Critical, counts.High, counts.Medium, counts.Low, counts.Info,
		ScanStatusRunning)
	if err != nil {
		return sanitizeDBError("complete scan", err)
	}
	return requireTransition(res, "complete scan")
}

// Fail transitions a RUNNING scan to FAILED. Partial module results and
// findings already produced are retained.
func (r *ScanRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string, duration time.Duration) error {
	query := `
		UPDATE scans
		SET status = $2, completed_at = NOW(), duration_ms = $3, error_message = $4
		WHERE id = $1 AND status = $5`

	res, err := r.db.ExecContext(ctx, query, id, ScanStatusFailed,
		duration.Milliseconds(), errorMessage, ScanStatusRunning)
	if err != nil {
		return sanitizeDBError("fail scan", err)
	}
	return requireTransition(res, "fail scan")
}

// RequestCancel asks a QUEUED or RUNNING scan to stop. A QUEUED scan is
// cancelled immediately; a RUNNING scan gets cancel_requested set and reaches
// CANCELLED cooperatively at its next checkpoint. Returns the resulting status.
func (r *ScanRepository) RequestCancel(ctx context.Context, id uuid.UUID) (string, error) {
	// Immediate cancellation for queued scans.
	queued := `
		UPDATE scans
		SET status = $2, cancel_requested = TRUE, completed_at = NOW()
		WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, queued, id, ScanStatusCancelled, ScanStatusQueued)
	if err != nil {
		return "", sanitizeDBError("cancel queued scan", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ScanStatusCancelled, nil
	}

	// Cooperative cancellation for running scans.
	running := `
		UPDATE scans SET cancel_requested = TRUE
		WHERE id = $1 AND status = $2`
	res, err = r.db.ExecContext(ctx, running, id, ScanStatusRunning)
	if err != nil {
		return "", sanitizeDBError("request scan cancel", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ScanStatusRunning, nil
	}

	scan, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return "", errors.ErrScanTerminal(scan.Status)
}

// MarkCancelled finalizes a RUNNING scan as CANCELLED after the engine has
// stopped dispatching.
func (r *ScanRepository) MarkCancelled(ctx context.Context, id uuid.UUID, duration time.Duration) error {
	query := `
		UPDATE scans
		SET status = $2, completed_at = NOW(), duration_ms = $3
		WHERE id = $1 AND status = $4`

	res, err := r.db.ExecContext(ctx, query, id, ScanStatusCancelled,
		duration.Milliseconds(), ScanStatusRunning)
	if err != nil {
		return sanitizeDBError("mark scan cancelled", err)
	}
	return requireTransition(res, "mark scan cancelled")
}

// CancelRequested reports whether cancellation has been requested for a scan.
// Polled by the engine at module checkpoints.
func (r *ScanRepository) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	query := `SELECT cancel_requested FROM scans WHERE id = $1`

	if err := r.db.GetContext(ctx, &requested, query, id); err != nil {
		return false, sanitizeDBError("get scan cancel flag", err)
	}
	return requested, nil
}

// requireTransition converts a zero-row state-guarded update into a terminal
// state error.
func requireTransition(res sql.Result, operation string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return sanitizeDBError(operation, err)
	}
	if n == 0 {
		return errors.NewScanError(errors.CodeScanTerminal,
			"Scan is not in a state that permits this transition")
	}
	return nil
}
