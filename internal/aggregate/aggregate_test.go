package aggregate

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/modules"
)

func newTestAggregator(t *testing.T) (*Aggregator, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	store := db.NewStore(db.NewFromSQLX(sqlx.NewDb(mockDB, "postgres")))
	return New(store, logging.NewDefault()), mock
}

var findingColumns = []string{
	"id", "target_id", "scan_id", "last_scan_id", "asset_id", "fingerprint",
	"title", "description", "severity", "category", "cvss_score", "cvss_vector",
	"cve_id", "cwe_id", "affected_component", "evidence", "remediation",
	"reference_urls", "status", "occurrences", "first_found_at", "last_found_at",
}

func existingFindingRow(id, targetID uuid.UUID, fingerprint, severity string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(findingColumns).AddRow(
		id, targetID, uuid.New(), nil, nil, fingerprint,
		"Missing HSTS header", "", severity, db.CategorySecurityHeaders, 3.7, nil,
		nil, nil, "https://example.com/", "", "",
		"{}", db.FindingStatusOpen, 1, now, now,
	)
}

func testScanAndTarget() (*db.Scan, *db.Target) {
	targetID := uuid.New()
	scan := &db.Scan{ID: uuid.New(), TargetID: targetID, Status: db.ScanStatusRunning}
	target := &db.Target{ID: targetID, Value: "example.com", Type: db.TargetTypeDomain}
	return scan, target
}

func TestIngestNewFinding(t *testing.T) {
	agg, mock := newTestAggregator(t)
	scan, target := testScanAndTarget()

	mock.ExpectQuery("SELECT \\* FROM findings").WillReturnError(sql.ErrNoRows)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO findings").
		WillReturnRows(sqlmock.NewRows([]string{"first_found_at", "last_found_at"}).AddRow(now, now))

	out := &modules.Output{
		Findings: []modules.FindingCandidate{{
			Title:             "SQL injection in login form",
			Severity:          db.SeverityCritical,
			Category:          db.CategorySQLInjection,
			AffectedComponent: "https://example.com/login",
		}},
	}
	stats, err := agg.Ingest(context.Background(), scan, target, out)
	require.NoError(t, err)

	require.Len(t, stats.NewFindings, 1)
	assert.Equal(t, 0, stats.RecurringCount)
	assert.Equal(t, 1, stats.Counts.Critical)

	finding := stats.NewFindings[0]
	assert.Equal(t, scan.TargetID, finding.TargetID)
	assert.Equal(t, scan.ID, finding.ScanID)
	assert.Equal(t,
		Fingerprint("example.com", db.CategorySQLInjection, "https://example.com/login", "SQL injection in login form"),
		finding.Fingerprint)
	// Candidate arrived without a CVSS; the category estimate fills it in.
	require.NotNil(t, finding.CVSSScore)
	assert.InDelta(t, 9.8, *finding.CVSSScore, 0.001)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestRecurrenceEscalates(t *testing.T) {
	agg, mock := newTestAggregator(t)
	scan, target := testScanAndTarget()
	existingID := uuid.New()

	fingerprint := Fingerprint("example.com", db.CategorySecurityHeaders,
		"https://example.com/", "Missing HSTS header")
	mock.ExpectQuery("SELECT \\* FROM findings").
		WillReturnRows(existingFindingRow(existingID, scan.TargetID, fingerprint, db.SeverityLow))
	mock.ExpectExec("UPDATE findings").
		WithArgs(existingID, scan.ID, db.SeverityMedium, nil, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	out := &modules.Output{
		Findings: []modules.FindingCandidate{{
			Title:             "Missing HSTS header",
			Severity:          db.SeverityMedium,
			Category:          db.CategorySecurityHeaders,
			AffectedComponent: "https://example.com/",
		}},
	}
	stats, err := agg.Ingest(context.Background(), scan, target, out)
	require.NoError(t, err)

	assert.Empty(t, stats.NewFindings)
	assert.Equal(t, 1, stats.RecurringCount)
	assert.Equal(t, 1, stats.Counts.Medium)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestRecurrenceNeverDowngrades(t *testing.T) {
	agg, mock := newTestAggregator(t)
	scan, target := testScanAndTarget()
	existingID := uuid.New()

	fingerprint := Fingerprint("example.com", db.CategorySecurityHeaders,
		"https://example.com/", "Missing HSTS header")
	mock.ExpectQuery("SELECT \\* FROM findings").
		WillReturnRows(existingFindingRow(existingID, scan.TargetID, fingerprint, db.SeverityHigh))
	// The re-observation reports LOW, but the stored HIGH must be kept.
	mock.ExpectExec("UPDATE findings").
		WithArgs(existingID, scan.ID, db.SeverityHigh, nil, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	out := &modules.Output{
		Findings: []modules.FindingCandidate{{
			Title:             "Missing HSTS header",
			Severity:          db.SeverityLow,
			Category:          db.CategorySecurityHeaders,
			AffectedComponent: "https://example.com/",
		}},
	}
	stats, err := agg.Ingest(context.Background(), scan, target, out)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Counts.High)
	assert.Equal(t, 0, stats.Counts.Low)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestAssets(t *testing.T) {
	agg, mock := newTestAggregator(t)
	scan, target := testScanAndTarget()
	assetColumns := []string{"id", "target_id", "type", "value", "metadata",
		"is_active", "first_seen_at", "last_seen_at"}

	now := time.Now()
	// First asset is brand new: both timestamps identical.
	mock.ExpectQuery("INSERT INTO assets").
		WillReturnRows(sqlmock.NewRows(assetColumns).AddRow(
			uuid.New(), scan.TargetID, db.AssetTypeSubdomain, "api.example.com",
			nil, true, now, now))
	// Second asset was already known: first_seen_at predates this scan.
	mock.ExpectQuery("INSERT INTO assets").
		WillReturnRows(sqlmock.NewRows(assetColumns).AddRow(
			uuid.New(), scan.TargetID, db.AssetTypeSubdomain, "www.example.com",
			nil, true, now.Add(-24*time.Hour), now))

	out := &modules.Output{
		Assets: []modules.AssetCandidate{
			{Type: db.AssetTypeSubdomain, Value: "api.example.com"},
			{Type: db.AssetTypeSubdomain, Value: "www.example.com"},
		},
	}
	stats, err := agg.Ingest(context.Background(), scan, target, out)
	require.NoError(t, err)

	require.Len(t, stats.DiscoveredAssets, 1)
	assert.Equal(t, "api.example.com", stats.DiscoveredAssets[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}
