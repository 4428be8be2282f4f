package db

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB(t *testing.T) {
	t.Run("scan from bytes", func(t *testing.T) {
		var j JSONB
		require.NoError(t, j.Scan([]byte(`{"a":1}`)))
		assert.Equal(t, `{"a":1}`, j.String())
	})

	t.Run("scan from string", func(t *testing.T) {
		var j JSONB
		require.NoError(t, j.Scan(`{"b":2}`))
		assert.Equal(t, `{"b":2}`, j.String())
	})

	t.Run("scan nil", func(t *testing.T) {
		var j JSONB
		require.NoError(t, j.Scan(nil))
		assert.Nil(t, j)
	})

	t.Run("scan unsupported type", func(t *testing.T) {
		var j JSONB
		assert.Error(t, j.Scan(42))
	})

	t.Run("value round trip", func(t *testing.T) {
		j := JSONB(`{"c":3}`)
		v, err := j.Value()
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"c":3}`), v)
	})

	t.Run("nil value is NULL", func(t *testing.T) {
		var j JSONB
		v, err := j.Value()
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("marshals as raw json", func(t *testing.T) {
		data, err := json.Marshal(map[string]JSONB{"x": JSONB(`[1,2]`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"x":[1,2]}`, string(data))
	})
}

func TestNewJSONB(t *testing.T) {
	j, err := NewJSONB(map[string]int{"ports": 443})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ports":443}`, j.String())

	j, err = NewJSONB(nil)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityRank(SeverityCritical), SeverityRank(SeverityHigh))
	assert.Greater(t, SeverityRank(SeverityHigh), SeverityRank(SeverityMedium))
	assert.Greater(t, SeverityRank(SeverityMedium), SeverityRank(SeverityLow))
	assert.Greater(t, SeverityRank(SeverityLow), SeverityRank(SeverityInfo))
	assert.Equal(t, 0, SeverityRank("BOGUS"))
}

func TestIsTerminalScanStatus(t *testing.T) {
	assert.True(t, IsTerminalScanStatus(ScanStatusCompleted))
	assert.True(t, IsTerminalScanStatus(ScanStatusFailed))
	assert.True(t, IsTerminalScanStatus(ScanStatusCancelled))
	assert.False(t, IsTerminalScanStatus(ScanStatusQueued))
	assert.False(t, IsTerminalScanStatus(ScanStatusRunning))
}

func TestScanConfigOrDefault(t *testing.T) {
	t.Run("no stored config", func(t *testing.T) {
		scan := &Scan{}
		cfg := scan.ScanConfigOrDefault()
		assert.Equal(t, 3, cfg.MaxConcurrent)
		assert.Equal(t, 0, cfg.RequestDelay)
	})

	t.Run("stored values override defaults", func(t *testing.T) {
		scan := &Scan{Config: JSONB(`{"maxConcurrent":5,"requestDelay":200,"excludePaths":["/admin"]}`)}
		cfg := scan.ScanConfigOrDefault()
		assert.Equal(t, 5, cfg.MaxConcurrent)
		assert.Equal(t, 200, cfg.RequestDelay)
		assert.Equal(t, []string{"/admin"}, cfg.ExcludePaths)
	})

	t.Run("zero values keep defaults", func(t *testing.T) {
		scan := &Scan{Config: JSONB(`{"maxConcurrent":0}`)}
		assert.Equal(t, 3, scan.ScanConfigOrDefault().MaxConcurrent)
	})

	t.Run("malformed config keeps defaults", func(t *testing.T) {
		scan := &Scan{Config: JSONB(`not json`)}
		assert.Equal(t, 3, scan.ScanConfigOrDefault().MaxConcurrent)
	})
}

func TestFindingIsOpen(t *testing.T) {
	open := []string{FindingStatusOpen, FindingStatusInProgress, FindingStatusConfirmed}
	for _, status := range open {
		assert.True(t, (&Finding{Status: status}).IsOpen(), status)
	}
	closed := []string{FindingStatusFalsePositive, FindingStatusAccepted, FindingStatusFixed}
	for _, status := range closed {
		assert.False(t, (&Finding{Status: status}).IsOpen(), status)
	}
}

func TestSeverityCountsTotal(t *testing.T) {
	counts := SeverityCounts{Critical: 1, High: 2, Medium: 3, Low: 4, Info: 5}
	assert.Equal(t, 15, counts.Total())
	assert.Equal(t, 0, SeverityCounts{}.Total())
}
