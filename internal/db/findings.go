package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FindingRepository handles vulnerability finding persistence. The
// (target_id, fingerprint) unique constraint backs the dedup invariant; the
// read-then-conditionally-write upsert path lives in the aggregator, which
// serializes writers per target.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new finding repository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// GetByFingerprint retrieves a finding by its dedup identity within a
// target's history. Returns nil, nil when no match exists.
func (r *FindingRepository) GetByFingerprint(ctx context.Context, targetID uuid.UUID, fingerprint string) (*Finding, error) {
	var finding Finding
	query := `SELECT * FROM findings WHERE target_id = $1 AND fingerprint = $2`

	err := r.db.GetContext(ctx, &finding, query, targetID, fingerprint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sanitizeDBError("get finding by fingerprint", err)
	}
	return &finding, nil
}

// GetByID retrieves a finding by ID.
func (r *FindingRepository) GetByID(ctx context.Context, id uuid.UUID) (*Finding, error) {
	var finding Finding
	query := `SELECT * FROM findings WHERE id = $1`

	if err := r.db.GetContext(ctx, &finding, query, id); err != nil {
		return nil, sanitizeDBError("get finding", err)
	}
	return &finding, nil
}

// Create inserts a new finding with firstFoundAt=lastFoundAt=now and
// status OPEN.
func (r *FindingRepository) Create(ctx context.Context, finding *Finding) error {
	if finding.ID == uuid.Nil {
		finding.ID = uuid.New()
	}
	if finding.Status == "" {
		finding.Status = FindingStatusOpen
	}
	if finding.Occurrences == 0 {
		finding.Occurrences = 1
	}
	if finding.References == nil {
		finding.References = []string{}
	}

	query := `
		INSERT INTO findings (
			id, target_id, scan_id, last_scan_id, asset_id, fingerprint, title,
			description, severity, category, cvss_score, cvss_vector, cve_id,
			cwe_id, affected_component, evidence, remediation, reference_urls,
			status, occurrences
		) VALUES (
			:id, :target_id, :scan_id, :last_scan_id, :asset_id, :fingerprint, :title,
			:description, :severity, :category, :cvss_score, :cvss_vector, :cve_id,
			:cwe_id, :affected_component, :evidence, :remediation, :reference_urls,
			:status, :occurrences
		)
		RETURNING first_found_at, last_found_at`

	rows, err := r.db.NamedQueryContext(ctx, query, finding)
	if err != nil {
		return sanitizeDBError("create finding", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&finding.FirstFoundAt, &finding.LastFoundAt); err != nil {
			return sanitizeDBError("scan created finding", err)
		}
	}
	return nil
}

// RecordRecurrence bumps occurrences and last_found_at for a re-observed
// fingerprint, optionally escalating severity/CVSS. Severity is never
// lowered here; downgrades require the explicit re-verification path.
func (r *FindingRepository) RecordRecurrence(ctx context.Context, id, scanID uuid.UUID,
	severity string, cvssScore *float64, evidence string) error {
	query := `
		UPDATE findings
		SET occurrences = occurrences + 1,
		    last_found_at = NOW(),
		    last_scan_id = $2,
		    severity = $3,
		    cvss_score = COALESCE($4, cvss_score),
		    evidence = CASE WHEN $5 <> '' THEN $5 ELSE evidence END
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, scanID, severity, cvssScore, evidence); err != nil {
		return sanitizeDBError("record finding recurrence", err)
	}
	return nil
}

// UpdateStatus sets a human-driven triage status.
func (r *FindingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE findings SET status = $2 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return sanitizeDBError("update finding status", err)
	}
	return nil
}

// Reclassify lowers or raises a finding's severity as an explicit
// re-verification step. This is the only path that may downgrade severity.
func (r *FindingRepository) Reclassify(ctx context.Context, id uuid.UUID, severity string, cvssScore *float64) error {
	query := `UPDATE findings SET severity = $2, cvss_score = $3 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, severity, cvssScore); err != nil {
		return sanitizeDBError("reclassify finding", err)
	}
	return nil
}

// ListByScan retrieves the finding set observed by one scan: rows first
// created by it plus known rows it re-observed. Ordered by first observation
// so repeated exports are structurally identical.
func (r *FindingRepository) ListByScan(ctx context.Context, scanID uuid.UUID) ([]*Finding, error) {
	var findings []*Finding
	query := `
		SELECT * FROM findings
		WHERE scan_id = $1 OR last_scan_id = $1
		ORDER BY first_found_at, id`

	if err := r.db.SelectContext(ctx, &findings, query, scanID); err != nil {
		return nil, sanitizeDBError("list findings by scan", err)
	}
	return findings, nil
}

// FindingFilters narrows finding listings.
type FindingFilters struct {
	TargetID *uuid.UUID
	AssetID  *uuid.UUID
	Severity string
	Status   string
	Category string
	Limit    int
	Offset   int
}

// List retrieves findings matching the filters, most severe first.
func (r *FindingRepository) List(ctx context.Context, filters FindingFilters) ([]*Finding, error) {
	query := `SELECT * FROM findings WHERE 1=1`
	args := []interface{}{}

	if filters.TargetID != nil {
		args = append(args, *filters.TargetID)
		query += fmt.Sprintf(` AND target_id = $%d`, len(args))
	}
	if filters.AssetID != nil {
		args = append(args, *filters.AssetID)
		query += fmt.Sprintf(` AND asset_id = $%d`, len(args))
	}
	if filters.Severity != "" {
		args = append(args, filters.Severity)
		query += fmt.Sprintf(` AND severity = $%d`, len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filters.Category != "" {
		args = append(args, filters.Category)
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}

	query += `
		ORDER BY CASE severity
			WHEN 'CRITICAL' THEN 5 WHEN 'HIGH' THEN 4 WHEN 'MEDIUM' THEN 3
			WHEN 'LOW' THEN 2 ELSE 1 END DESC,
		last_found_at DESC`

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var findings []*Finding
	if err := r.db.SelectContext(ctx, &findings, query, args...); err != nil {
		return nil, sanitizeDBError("list findings", err)
	}
	return findings, nil
}

// GroupCount is one bucket of a grouped finding count.
type GroupCount struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

// CountGrouped returns finding counts for a target grouped by severity,
// category, or asset.
func (r *FindingRepository) CountGrouped(ctx context.Context, targetID uuid.UUID, groupBy string) ([]GroupCount, error) {
	var column string
	switch groupBy {
	case "severity":
		column = "severity"
	case "category":
		column = "category"
	case "asset":
		column = "COALESCE(asset_id::text, '')"
	default:
		return nil, fmt.Errorf("unsupported group key: %s", groupBy)
	}

	query := fmt.Sprintf(`
		SELECT %s AS key, COUNT(*) AS count
		FROM findings
		WHERE target_id = $1
		GROUP BY key
		ORDER BY count DESC`, column)

	var counts []GroupCount
	if err := r.db.SelectContext(ctx, &counts, query, targetID); err != nil {
		return nil, sanitizeDBError("count grouped findings", err)
	}
	return counts, nil
}

// CountOpenByTarget aggregates open findings by severity for the live
// security score. Only statuses that still represent risk are counted.
func (r *FindingRepository) CountOpenByTarget(ctx context.Context, targetID uuid.UUID) (SeverityCounts, error) {
	var counts SeverityCounts
	query := `
		SELECT
			COUNT(*) FILTER (WHERE severity = 'CRITICAL') AS critical,
			COUNT(*) FILTER (WHERE severity = 'HIGH') AS high,
			COUNT(*) FILTER (WHERE severity = 'MEDIUM') AS medium,
			COUNT(*) FILTER (WHERE severity = 'LOW') AS low,
			COUNT(*) FILTER (WHERE severity = 'INFO') AS info
		FROM findings
		WHERE target_id = $1 AND status IN ('OPEN', 'IN_PROGRESS', 'CONFIRMED')`

	if err := r.db.GetContext(ctx, &counts, query, targetID); err != nil {
		return SeverityCounts{}, sanitizeDBError("count open findings", err)
	}
	return counts, nil
}

// CountCreatedAfter reports findings created after an instant; used by the
// cancellation tests.
func (r *FindingRepository) CountCreatedAfter(ctx context.Context, targetID uuid.UUID, after time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM findings WHERE target_id = $1 AND first_found_at > $2`

	if err := r.db.GetContext(ctx, &count, query, targetID, after); err != nil {
		return 0, sanitizeDBError("count findings", err)
	}
	return count, nil
}
