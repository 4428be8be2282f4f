package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByFingerprint(t *testing.T) {
	t.Run("no match returns nil without error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT \\* FROM findings").WillReturnError(sql.ErrNoRows)

		finding, err := store.Findings.GetByFingerprint(context.Background(), uuid.New(), "abc")
		require.NoError(t, err)
		assert.Nil(t, finding)
	})
}

func TestFindingCreateDefaults(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO findings").
		WillReturnRows(sqlmock.NewRows([]string{"first_found_at", "last_found_at"}).AddRow(now, now))

	finding := &Finding{
		TargetID:    uuid.New(),
		ScanID:      uuid.New(),
		Fingerprint: "abc",
		Title:       "Missing HSTS header",
		Severity:    SeverityLow,
		Category:    CategorySecurityHeaders,
	}
	require.NoError(t, store.Findings.Create(context.Background(), finding))

	assert.NotEqual(t, uuid.Nil, finding.ID)
	assert.Equal(t, FindingStatusOpen, finding.Status)
	assert.Equal(t, 1, finding.Occurrences)
	assert.NotNil(t, finding.References)
}

func TestRecordRecurrence(t *testing.T) {
	store, mock := newMockStore(t)
	id, scanID := uuid.New(), uuid.New()
	cvss := 7.5
	mock.ExpectExec("UPDATE findings").
		WithArgs(id, scanID, SeverityHigh, cvss, "new evidence").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Findings.RecordRecurrence(context.Background(), id, scanID,
		SeverityHigh, &cvss, "new evidence")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountGrouped(t *testing.T) {
	t.Run("groups by severity", func(t *testing.T) {
		store, mock := newMockStore(t)
		targetID := uuid.New()
		mock.ExpectQuery("SELECT severity AS key").
			WithArgs(targetID).
			WillReturnRows(sqlmock.NewRows([]string{"key", "count"}).
				AddRow("HIGH", 3).AddRow("LOW", 1))

		counts, err := store.Findings.CountGrouped(context.Background(), targetID, "severity")
		require.NoError(t, err)
		require.Len(t, counts, 2)
		assert.Equal(t, GroupCount{Key: "HIGH", Count: 3}, counts[0])
	})

	t.Run("unsupported group key rejected before querying", func(t *testing.T) {
		store, _ := newMockStore(t)
		_, err := store.Findings.CountGrouped(context.Background(), uuid.New(), "vibe")
		assert.Error(t, err)
	})
}

func TestCountOpenByTarget(t *testing.T) {
	store, mock := newMockStore(t)
	targetID := uuid.New()
	mock.ExpectQuery("SELECT").
		WithArgs(targetID).
		WillReturnRows(sqlmock.NewRows([]string{"critical", "high", "medium", "low", "info"}).
			AddRow(1, 2, 0, 4, 9))

	counts, err := store.Findings.CountOpenByTarget(context.Background(), targetID)
	require.NoError(t, err)
	assert.Equal(t, SeverityCounts{Critical: 1, High: 2, Low: 4, Info: 9}, counts)
}
