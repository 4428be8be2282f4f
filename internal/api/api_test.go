package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnhawk/vulnhawk/internal/config"
	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/metrics"
	"github.com/vulnhawk/vulnhawk/internal/notify"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	database := db.NewFromSQLX(sqlx.NewDb(mockDB, "postgres"))
	logger := logging.NewDefault()
	bus := notify.NewBus(logger)
	t.Cleanup(bus.Close)

	cfg := config.Default().API
	cfg.RequestLogging = false

	return New(cfg, database, db.NewStore(database), bus, metrics.New(), logger), mock
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

var targetColumns = []string{
	"id", "org_id", "value", "type", "status", "default_profile", "schedule",
	"last_scan_at", "next_scan_at", "created_at", "updated_at",
}

func targetRow(id uuid.UUID, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(targetColumns).AddRow(
		id, uuid.New(), "example.com", db.TargetTypeDomain, status,
		db.ProfileStandard, nil, nil, nil, now, now,
	)
}

var scanColumns = []string{
	"id", "target_id", "requested_by", "type", "profile", "modules", "config",
	"status", "progress", "cancel_requested", "critical_count", "high_count",
	"medium_count", "low_count", "info_count", "error_message", "created_at",
	"started_at", "completed_at", "duration_ms",
}

func scanRow(id uuid.UUID, status string) *sqlmock.Rows {
	return sqlmock.NewRows(scanColumns).AddRow(
		id, uuid.New(), nil, db.ScanTypeOnDemand, db.ProfileStandard, "{}", nil,
		status, 0, false, 0, 0, 0, 0, 0, nil, time.Now(), nil, nil, nil,
	)
}

var findingColumns = []string{
	"id", "target_id", "scan_id", "last_scan_id", "asset_id", "fingerprint",
	"title", "description", "severity", "category", "cvss_score", "cvss_vector",
	"cve_id", "cwe_id", "affected_component", "evidence", "remediation",
	"reference_urls", "status", "occurrences", "first_found_at", "last_found_at",
}

func TestStatusForCode(t *testing.T) {
	cases := map[errors.ErrorCode]int{
		errors.CodeNotFound:           http.StatusNotFound,
		errors.CodeValidation:         http.StatusBadRequest,
		errors.CodeModuleUnknown:      http.StatusBadRequest,
		errors.CodeTargetUnverified:   http.StatusForbidden,
		errors.CodeScanTerminal:       http.StatusConflict,
		errors.CodeExportUnavailable:  http.StatusConflict,
		errors.CodeDatabaseConnection: http.StatusServiceUnavailable,
		errors.CodeUnknown:            http.StatusInternalServerError,
		errors.ErrorCode("BOGUS"):     http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusForCode(code), string(code))
	}
}

func TestListModulesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 7)
	for _, entry := range resp.Data {
		assert.NotEmpty(t, entry["name"])
		assert.NotEmpty(t, entry["description"])
	}
}

func TestListProfilesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string][]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data["DEEP"], 7)
	assert.NotEmpty(t, resp.Data["QUICK"])
}

func TestCreateTarget(t *testing.T) {
	t.Run("valid target created", func(t *testing.T) {
		srv, mock := newTestServer(t)
		now := time.Now()
		mock.ExpectQuery("INSERT INTO targets").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/targets", map[string]interface{}{
			"orgId": uuid.New().String(),
			"value": "example.com",
			"type":  "DOMAIN",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var target db.Target
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &target))
		assert.Equal(t, db.TargetStatusPending, target.Status)
		assert.NotEqual(t, uuid.Nil, target.ID)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/targets", map[string]interface{}{
			"orgId": uuid.New().String(),
			"value": "example.com",
			"type":  "URL",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed cron schedule rejected", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/targets", map[string]interface{}{
			"orgId":    uuid.New().String(),
			"value":    "example.com",
			"type":     "DOMAIN",
			"schedule": "every tuesday",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown body field rejected", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/targets", map[string]interface{}{
			"orgId":   uuid.New().String(),
			"value":   "example.com",
			"type":    "DOMAIN",
			"surpise": true,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(errors.CodeValidation), decodeError(t, rec).Code)
	})
}

func TestCreateScan(t *testing.T) {
	t.Run("valid submission queues scan", func(t *testing.T) {
		srv, mock := newTestServer(t)
		targetID := uuid.New()
		mock.ExpectQuery("SELECT \\* FROM targets").
			WillReturnRows(targetRow(targetID, db.TargetStatusVerified))
		mock.ExpectQuery("INSERT INTO scans").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans", map[string]interface{}{
			"targetId": targetID.String(),
			"profile":  "QUICK",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var scan db.Scan
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scan))
		assert.Equal(t, db.ScanStatusQueued, scan.Status)
		assert.Equal(t, db.ProfileQuick, scan.Profile)
		assert.Len(t, scan.Modules, 3)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown profile rejected", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans", map[string]interface{}{
			"targetId": uuid.New().String(),
			"profile":  "TURBO",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unverified target forbidden", func(t *testing.T) {
		srv, mock := newTestServer(t)
		targetID := uuid.New()
		mock.ExpectQuery("SELECT \\* FROM targets").
			WillReturnRows(targetRow(targetID, db.TargetStatusPending))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans", map[string]interface{}{
			"targetId": targetID.String(),
			"profile":  "STANDARD",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(errors.CodeTargetUnverified), decodeError(t, rec).Code)
	})

	t.Run("force overrides the verification gate", func(t *testing.T) {
		srv, mock := newTestServer(t)
		targetID := uuid.New()
		mock.ExpectQuery("SELECT \\* FROM targets").
			WillReturnRows(targetRow(targetID, db.TargetStatusPending))
		mock.ExpectQuery("INSERT INTO scans").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans", map[string]interface{}{
			"targetId": targetID.String(),
			"profile":  "STANDARD",
			"force":    true,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("module list with named profile rejected", func(t *testing.T) {
		srv, mock := newTestServer(t)
		targetID := uuid.New()
		mock.ExpectQuery("SELECT \\* FROM targets").
			WillReturnRows(targetRow(targetID, db.TargetStatusVerified))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans", map[string]interface{}{
			"targetId": targetID.String(),
			"profile":  "QUICK",
			"modules":  []string{"port_scanner"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("out of range scan config rejected", func(t *testing.T) {
		srv, mock := newTestServer(t)
		targetID := uuid.New()
		mock.ExpectQuery("SELECT \\* FROM targets").
			WillReturnRows(targetRow(targetID, db.TargetStatusVerified))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans", map[string]interface{}{
			"targetId":   targetID.String(),
			"profile":    "QUICK",
			"scanConfig": map[string]interface{}{"maxConcurrent": 50},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCancelScan(t *testing.T) {
	t.Run("terminal scan conflicts", func(t *testing.T) {
		srv, mock := newTestServer(t)
		id := uuid.New()
		mock.ExpectExec("UPDATE scans").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE scans").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT \\* FROM scans").
			WillReturnRows(scanRow(id, db.ScanStatusCompleted))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans/"+id.String()+"/cancel", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, string(errors.CodeScanTerminal), decodeError(t, rec).Code)
	})

	t.Run("queued scan accepted", func(t *testing.T) {
		srv, mock := newTestServer(t)
		id := uuid.New()
		mock.ExpectExec("UPDATE scans").WillReturnResult(sqlmock.NewResult(0, 1))

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans/"+id.String()+"/cancel", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, db.ScanStatusCancelled, resp["status"])
	})

	t.Run("malformed id rejected", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/scans/not-a-uuid/cancel", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExportSARIF(t *testing.T) {
	t.Run("running scan refused", func(t *testing.T) {
		srv, mock := newTestServer(t)
		id := uuid.New()
		mock.ExpectQuery("SELECT \\* FROM scans").
			WillReturnRows(scanRow(id, db.ScanStatusRunning))

		rec := doRequest(t, srv, http.MethodGet, "/api/v1/scans/"+id.String()+"/export/sarif", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, string(errors.CodeExportUnavailable), decodeError(t, rec).Code)
	})

	t.Run("completed scan exports", func(t *testing.T) {
		srv, mock := newTestServer(t)
		id := uuid.New()
		mock.ExpectQuery("SELECT \\* FROM scans").
			WillReturnRows(scanRow(id, db.ScanStatusCompleted))
		mock.ExpectQuery("SELECT \\* FROM findings").
			WillReturnRows(sqlmock.NewRows(findingColumns))

		rec := doRequest(t, srv, http.MethodGet, "/api/v1/scans/"+id.String()+"/export/sarif", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/sarif+json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), id.String())

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, "2.1.0", doc["version"])
	})
}

func TestGetTargetScore(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT \\* FROM targets").
		WillReturnRows(targetRow(id, db.TargetStatusVerified))
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"critical", "high", "medium", "low", "info"}).
			AddRow(1, 0, 2, 0, 0))

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/targets/"+id.String()+"/score", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SecurityScore int `json:"security_score"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// 100 minus one critical (25) and two mediums (6).
	assert.Equal(t, 69, resp.SecurityScore)
}

func TestListTargetsRequiresOrg(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/targets", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupFindingsValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/findings/groups?by=severity", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
