package engine

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnhawk/vulnhawk/internal/aggregate"
	"github.com/vulnhawk/vulnhawk/internal/config"
	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/metrics"
	"github.com/vulnhawk/vulnhawk/internal/modules"
	"github.com/vulnhawk/vulnhawk/internal/notify"
)

func newTestEngine(t *testing.T, blockedCIDRs []string) *Engine {
	t.Helper()
	logger := logging.NewDefault()
	bus := notify.NewBus(logger)
	t.Cleanup(bus.Close)

	cfg := config.Default().Scanning
	cfg.BlockedCIDRs = blockedCIDRs
	return New(nil, aggregate.New(nil, logger), bus, metrics.New(), logger, cfg)
}

func TestCheckBlocked(t *testing.T) {
	eng := newTestEngine(t, []string{"127.0.0.0/8", "10.0.0.0/8", "169.254.0.0/16"})
	ctx := context.Background()

	t.Run("blocked literal ip", func(t *testing.T) {
		err := eng.checkBlocked(ctx, "127.0.0.1")
		require.Error(t, err)
		assert.Equal(t, errors.CodeTargetBlocked, errors.GetCode(err))
	})

	t.Run("blocked ip behind scheme and port", func(t *testing.T) {
		assert.Error(t, eng.checkBlocked(ctx, "https://10.1.2.3:8443/path"))
		assert.Error(t, eng.checkBlocked(ctx, "http://169.254.1.1/latest/meta-data"))
	})

	t.Run("public ip passes", func(t *testing.T) {
		assert.NoError(t, eng.checkBlocked(ctx, "93.184.216.34"))
	})

	t.Run("localhost resolves into blocked range", func(t *testing.T) {
		assert.Error(t, eng.checkBlocked(ctx, "localhost"))
	})

	t.Run("unresolvable host passes the guard", func(t *testing.T) {
		assert.NoError(t, eng.checkBlocked(ctx, "definitely-not-a-real-host.invalid"))
	})

	t.Run("empty blocklist allows everything", func(t *testing.T) {
		open := newTestEngine(t, nil)
		assert.NoError(t, open.checkBlocked(ctx, "127.0.0.1"))
	})
}

func TestIsBlocked(t *testing.T) {
	eng := newTestEngine(t, []string{"192.168.0.0/16"})
	assert.True(t, eng.isBlocked(net.ParseIP("192.168.44.7")))
	assert.False(t, eng.isBlocked(net.ParseIP("8.8.8.8")))
}

// newStoreEngine builds an engine over a sqlmock-backed store for lifecycle
// tests. Expectations are matched out of order because modules run
// concurrently.
func newStoreEngine(t *testing.T, pollInterval time.Duration, blockedCIDRs []string) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	mock.MatchExpectationsInOrder(false)

	store := db.NewStore(db.NewFromSQLX(sqlx.NewDb(mockDB, "postgres")))
	logger := logging.NewDefault()
	bus := notify.NewBus(logger)
	t.Cleanup(bus.Close)

	cfg := config.Default().Scanning
	cfg.BlockedCIDRs = blockedCIDRs
	cfg.CancelPollInterval = pollInterval
	return New(store, aggregate.New(store, logger), bus, metrics.New(), logger, cfg), mock
}

func targetRow(id uuid.UUID, value string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "org_id", "value", "type", "status", "default_profile", "schedule",
		"last_scan_at", "next_scan_at", "created_at", "updated_at",
	}).AddRow(id, uuid.New(), value, db.TargetTypeDomain, db.TargetStatusVerified,
		db.ProfileStandard, nil, nil, nil, now, now)
}

type stubModule struct {
	name string
	run  func(ctx context.Context, rc *modules.RunContext) (*modules.Output, error)
}

func (m *stubModule) Name() string        { return m.name }
func (m *stubModule) Description() string { return "test probe" }
func (m *stubModule) Run(ctx context.Context, rc *modules.RunContext) (*modules.Output, error) {
	return m.run(ctx, rc)
}

func TestRunCompletesDespiteModuleError(t *testing.T) {
	eng, mock := newStoreEngine(t, time.Hour, nil)
	targetID := uuid.New()
	scan := &db.Scan{
		ID:       uuid.New(),
		TargetID: targetID,
		Status:   db.ScanStatusRunning,
		Profile:  db.ProfileCustom,
		Modules:  pq.StringArray{"probe_ok", "probe_broken"},
	}
	eng.newModule = func(name string) (modules.Module, error) {
		if name == "probe_ok" {
			return &stubModule{name: name, run: func(context.Context, *modules.RunContext) (*modules.Output, error) {
				return &modules.Output{Raw: map[string]interface{}{"checked": true}}, nil
			}}, nil
		}
		return &stubModule{name: name, run: func(context.Context, *modules.RunContext) (*modules.Output, error) {
			return nil, fmt.Errorf("probe exploded")
		}}, nil
	}

	mock.ExpectQuery(`SELECT \* FROM targets WHERE id`).
		WillReturnRows(targetRow(targetID, "example.com"))
	mock.ExpectQuery("INSERT INTO module_results").
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}).AddRow(time.Now()))
	mock.ExpectQuery("INSERT INTO module_results").
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE module_results").
		WithArgs(sqlmock.AnyArg(), db.ModuleStatusSuccess, sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE module_results").
		WithArgs(sqlmock.AnyArg(), db.ModuleStatusError, nil, "probe exploded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET progress = GREATEST").
		WithArgs(scan.ID, 50, db.ScanStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET progress = GREATEST").
		WithArgs(scan.ID, 99, db.ScanStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("progress = 100").
		WithArgs(scan.ID, db.ScanStatusCompleted, sqlmock.AnyArg(), 0, 0, 0, 0, 0, db.ScanStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET last_scan_at").
		WithArgs(targetID, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, eng.Run(context.Background(), scan))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCancellationFinalizesModuleRows(t *testing.T) {
	eng, mock := newStoreEngine(t, 10*time.Millisecond, nil)
	targetID := uuid.New()
	scan := &db.Scan{
		ID:       uuid.New(),
		TargetID: targetID,
		Status:   db.ScanStatusRunning,
		Profile:  db.ProfileCustom,
		Modules:  pq.StringArray{"probe_blocking"},
	}
	eng.newModule = func(name string) (modules.Module, error) {
		return &stubModule{name: name, run: func(ctx context.Context, _ *modules.RunContext) (*modules.Output, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}, nil
	}

	mock.ExpectQuery(`SELECT \* FROM targets WHERE id`).
		WillReturnRows(targetRow(targetID, "example.com"))
	mock.ExpectQuery("INSERT INTO module_results").
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}).AddRow(time.Now()))
	mock.ExpectQuery("SELECT cancel_requested FROM scans").
		WillReturnRows(sqlmock.NewRows([]string{"cancel_requested"}).AddRow(true))
	// The dispatched module's row must still reach a terminal status.
	mock.ExpectExec("UPDATE module_results").
		WithArgs(sqlmock.AnyArg(), db.ModuleStatusError, nil, "context canceled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET progress = GREATEST").
		WithArgs(scan.ID, 99, db.ScanStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = \$2, completed_at = NOW`).
		WithArgs(scan.ID, db.ScanStatusCancelled, sqlmock.AnyArg(), db.ScanStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, eng.Run(context.Background(), scan))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunBlockedTargetFails(t *testing.T) {
	eng, mock := newStoreEngine(t, time.Hour, []string{"127.0.0.0/8"})
	targetID := uuid.New()
	scan := &db.Scan{
		ID:       uuid.New(),
		TargetID: targetID,
		Status:   db.ScanStatusRunning,
		Profile:  db.ProfileQuick,
	}

	mock.ExpectQuery(`SELECT \* FROM targets WHERE id`).
		WillReturnRows(targetRow(targetID, "127.0.0.1"))
	mock.ExpectExec(`error_message = \$4`).
		WithArgs(scan.ID, db.ScanStatusFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), db.ScanStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, eng.Run(context.Background(), scan))
	assert.NoError(t, mock.ExpectationsWereMet())
}
