package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/governor"
	"github.com/vulnhawk/vulnhawk/internal/logging"
)

func testRunContext(target string) *RunContext {
	return &RunContext{
		Target:   target,
		Governor: governor.New(governor.Config{}),
		Logger:   logging.NewDefault(),
	}
}

func findingsByTitle(out *Output) map[string]FindingCandidate {
	byTitle := make(map[string]FindingCandidate, len(out.Findings))
	for _, f := range out.Findings {
		byTitle[f.Title] = f
	}
	return byTitle
}

func TestHeaderAuditorRun(t *testing.T) {
	// A deliberately sloppy server: versioned Server header, wide-open
	// CORS, insecure session cookie, reflected redirect parameter, and
	// dangerous verbs advertised on OPTIONS.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Server", "nginx/1.18.0")
		h.Set("Access-Control-Allow-Origin", "*")

		if r.Method == http.MethodOptions {
			h.Set("Allow", "GET, POST, PUT, DELETE")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if dest := r.URL.Query().Get("redirect"); dest != "" {
			h.Set("Location", dest)
			w.WriteHeader(http.StatusFound)
			return
		}
		h.Add("Set-Cookie", "sessionid=abc123; Path=/")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := (&HeaderAuditor{}).Run(context.Background(), testRunContext(srv.URL))
	require.NoError(t, err)

	byTitle := findingsByTitle(out)
	for _, title := range []string{
		"Missing HSTS Header",
		"Missing X-Content-Type-Options Header",
		"Missing X-Frame-Options Header",
		"Missing Content-Security-Policy Header",
		"Missing X-XSS-Protection Header",
		"Server Version Disclosure",
		"Cookie Missing Secure Flag: sessionid",
		"Session Cookie Missing HttpOnly: sessionid",
		"Potential Open Redirect",
		"CORS Misconfiguration",
		"Dangerous HTTP Methods Enabled",
	} {
		assert.Contains(t, byTitle, title)
	}

	// Wildcard ACAO without origin reflection stays MEDIUM.
	assert.Equal(t, db.SeverityMedium, byTitle["CORS Misconfiguration"].Severity)
	assert.Equal(t, db.SeverityLow, byTitle["Dangerous HTTP Methods Enabled"].Severity)
	assert.Equal(t, "GET, POST, PUT, DELETE", out.Raw["allowed_methods"])
}

func TestHeaderAuditorReflectedOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := (&HeaderAuditor{}).Run(context.Background(), testRunContext(srv.URL))
	require.NoError(t, err)

	cors, ok := findingsByTitle(out)["CORS Misconfiguration"]
	require.True(t, ok)
	assert.Equal(t, db.SeverityHigh, cors.Severity)
}

func TestTechDetectorRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "PHP/8.1.2")
		_, _ = w.Write([]byte(`<html><head>
			<link rel="stylesheet" href="/wp-content/themes/shop/style.css">
		</head><body></body></html>`))
	}))
	defer srv.Close()

	out, err := (&TechDetector{}).Run(context.Background(), testRunContext(srv.URL))
	require.NoError(t, err)

	detected := map[string]bool{}
	for _, asset := range out.Assets {
		assert.Equal(t, db.AssetTypeTechnology, asset.Type)
		detected[asset.Value] = true
	}
	assert.True(t, detected["WordPress"])
	assert.True(t, detected["PHP"])

	// Both carry keep-updated advisories.
	byTitle := findingsByTitle(out)
	assert.Contains(t, byTitle, "WordPress Core - Keep Updated")
	assert.Contains(t, byTitle, "PHP Detected - Version Check Recommended")
	for _, f := range out.Findings {
		assert.Equal(t, db.SeverityInfo, f.Severity)
	}
}
