package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

func testFinding(category, severity, title string) *db.Finding {
	return &db.Finding{
		ID:                uuid.New(),
		Category:          category,
		Severity:          severity,
		Title:             title,
		AffectedComponent: "https://example.com/login",
		Occurrences:       1,
		Status:            db.FindingStatusOpen,
	}
}

func decodeSARIF(t *testing.T, findings []*db.Finding) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteSARIF(&buf, findings))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	return doc
}

func TestWriteSARIF(t *testing.T) {
	t.Run("empty finding set still produces a valid run", func(t *testing.T) {
		doc := decodeSARIF(t, nil)
		assert.Equal(t, "2.1.0", doc["version"])

		runs := doc["runs"].([]interface{})
		require.Len(t, runs, 1)
		run := runs[0].(map[string]interface{})
		assert.Empty(t, run["results"])
	})

	t.Run("one rule per distinct category in input order", func(t *testing.T) {
		findings := []*db.Finding{
			testFinding(db.CategorySecurityHeaders, db.SeverityMedium, "Missing CSP"),
			testFinding(db.CategorySQLInjection, db.SeverityCritical, "SQLi in login"),
			testFinding(db.CategorySecurityHeaders, db.SeverityLow, "Missing HSTS"),
		}
		doc := decodeSARIF(t, findings)
		run := doc["runs"].([]interface{})[0].(map[string]interface{})
		driver := run["tool"].(map[string]interface{})["driver"].(map[string]interface{})
		assert.Equal(t, "vulnhawk", driver["name"])

		rules := driver["rules"].([]interface{})
		require.Len(t, rules, 2)
		assert.Equal(t, "SECURITY_HEADERS", rules[0].(map[string]interface{})["id"])
		assert.Equal(t, "SQL_INJECTION", rules[1].(map[string]interface{})["id"])

		results := run["results"].([]interface{})
		require.Len(t, results, 3)
		assert.Equal(t, float64(0), results[0].(map[string]interface{})["ruleIndex"])
		assert.Equal(t, float64(1), results[1].(map[string]interface{})["ruleIndex"])
		assert.Equal(t, float64(0), results[2].(map[string]interface{})["ruleIndex"])
	})

	t.Run("severity maps onto sarif levels", func(t *testing.T) {
		findings := []*db.Finding{
			testFinding(db.CategorySQLInjection, db.SeverityCritical, "a"),
			testFinding(db.CategoryLFI, db.SeverityHigh, "b"),
			testFinding(db.CategorySSLTLS, db.SeverityMedium, "c"),
			testFinding(db.CategoryHTTPMethods, db.SeverityLow, "d"),
			testFinding(db.CategoryOther, db.SeverityInfo, "e"),
		}
		doc := decodeSARIF(t, findings)
		run := doc["runs"].([]interface{})[0].(map[string]interface{})
		results := run["results"].([]interface{})

		levels := make([]string, 0, len(results))
		for _, result := range results {
			levels = append(levels, result.(map[string]interface{})["level"].(string))
		}
		assert.Equal(t, []string{"error", "error", "warning", "note", "none"}, levels)
	})

	t.Run("result carries the finding fingerprint", func(t *testing.T) {
		finding := testFinding(db.CategoryCORSMisconfig, db.SeverityHigh, "Reflected origin")
		doc := decodeSARIF(t, []*db.Finding{finding})
		run := doc["runs"].([]interface{})[0].(map[string]interface{})
		result := run["results"].([]interface{})[0].(map[string]interface{})

		fingerprints := result["fingerprints"].(map[string]interface{})
		assert.Equal(t, finding.ID.String(), fingerprints["vulnhawk/v1"])
	})

	t.Run("identical input yields identical output", func(t *testing.T) {
		findings := []*db.Finding{
			testFinding(db.CategoryOpenRedirect, db.SeverityMedium, "Open redirect"),
			testFinding(db.CategorySensitiveFile, db.SeverityHigh, "Exposed .env"),
		}
		var first, second bytes.Buffer
		require.NoError(t, WriteSARIF(&first, findings))
		require.NoError(t, WriteSARIF(&second, findings))
		assert.Equal(t, first.String(), second.String())
	})
}

func TestSeverityToLevel(t *testing.T) {
	assert.Equal(t, "error", severityToLevel(db.SeverityCritical))
	assert.Equal(t, "error", severityToLevel(db.SeverityHigh))
	assert.Equal(t, "warning", severityToLevel(db.SeverityMedium))
	assert.Equal(t, "note", severityToLevel(db.SeverityLow))
	assert.Equal(t, "none", severityToLevel(db.SeverityInfo))
	assert.Equal(t, "none", severityToLevel("UNKNOWN"))
}

func TestCategoryName(t *testing.T) {
	assert.Equal(t, "Sql Injection", categoryName("SQL_INJECTION"))
	assert.Equal(t, "Cors Misconfig", categoryName("CORS_MISCONFIG"))
	assert.Equal(t, "Other", categoryName("OTHER"))
}
