package modules

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

// requiredSecurityHeaders drive the missing-header findings.
var requiredSecurityHeaders = []struct {
	header      string
	title       string
	severity    string
	remediation string
}{
	{"Strict-Transport-Security", "Missing HSTS Header", db.SeverityMedium,
		"Add 'Strict-Transport-Security: max-age=31536000; includeSubDomains' header."},
	{"X-Content-Type-Options", "Missing X-Content-Type-Options Header", db.SeverityLow,
		"Add 'X-Content-Type-Options: nosniff' header."},
	{"X-Frame-Options", "Missing X-Frame-Options Header", db.SeverityMedium,
		"Add 'X-Frame-Options: DENY' or 'SAMEORIGIN' header."},
	{"Content-Security-Policy", "Missing Content-Security-Policy Header", db.SeverityMedium,
		"Implement a Content-Security-Policy header to mitigate XSS attacks."},
	{"X-XSS-Protection", "Missing X-XSS-Protection Header", db.SeverityLow,
		"Add 'X-XSS-Protection: 1; mode=block' header."},
}

var dangerousHTTPMethods = map[string]bool{
	"PUT": true, "DELETE": true, "TRACE": true, "CONNECT": true,
}

// HeaderAuditor inspects response headers, cookies, CORS policy, redirect
// behavior, and allowed HTTP methods on the target's root page.
type HeaderAuditor struct{}

// Name implements Module.
func (m *HeaderAuditor) Name() string { return ModuleHeaderAuditor }

// Description implements Module.
func (m *HeaderAuditor) Description() string {
	return "Audits security headers, cookies, CORS policy, and HTTP methods"
}

// Run implements Module.
func (m *HeaderAuditor) Run(ctx context.Context, rc *RunContext) (*Output, error) {
	out := &Output{Raw: map[string]interface{}{}}
	base := baseURL(rc.Target)
	client := httpClient(rc, false)

	resp, _, err := governedGet(ctx, rc, client, base, nil)
	if err != nil {
		return nil, fmt.Errorf("header audit fetch failed: %w", err)
	}

	headers := map[string]string{}
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	out.Raw["response_headers"] = headers

	m.checkSecurityHeaders(base, resp.Header, out)
	m.checkServerDisclosure(base, resp.Header, out)
	m.checkCookies(base, resp.Header, out)
	m.checkHTTPSRedirect(ctx, rc, client, base, out)
	m.checkOpenRedirect(ctx, rc, client, base, out)
	m.checkCORS(ctx, rc, client, base, out)
	m.checkHTTPMethods(ctx, rc, base, out)

	return out, ctx.Err()
}

func (m *HeaderAuditor) checkSecurityHeaders(base string, h http.Header, out *Output) {
	for _, required := range requiredSecurityHeaders {
		if h.Get(required.header) != "" {
			continue
		}
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    required.title,
			Severity: required.severity,
			Category: db.CategorySecurityHeaders,
			Description: fmt.Sprintf("The security header '%s' is missing on %s.",
				strings.ToLower(required.header), base),
			Remediation:       required.remediation,
			AffectedComponent: base,
		})
	}
}

func (m *HeaderAuditor) checkServerDisclosure(base string, h http.Header, out *Output) {
	server := strings.ToLower(h.Get("Server"))
	for _, versioned := range []string{"apache/", "nginx/", "iis/"} {
		if !strings.Contains(server, versioned) {
			continue
		}
		out.Findings = append(out.Findings, FindingCandidate{
			Title:             "Server Version Disclosure",
			Severity:          db.SeverityLow,
			Category:          db.CategoryInfoDisclosure,
			Description:       fmt.Sprintf("Server header reveals version: %s", h.Get("Server")),
			Remediation:       "Configure the web server to hide version information.",
			AffectedComponent: base,
			Evidence:          fmt.Sprintf("Server: %s", h.Get("Server")),
		})
		return
	}
}

func (m *HeaderAuditor) checkCookies(base string, h http.Header, out *Output) {
	for _, cookie := range h.Values("Set-Cookie") {
		lower := strings.ToLower(cookie)
		name := strings.TrimSpace(strings.SplitN(cookie, "=", 2)[0])

		if !strings.Contains(lower, "secure") {
			out.Findings = append(out.Findings, FindingCandidate{
				Title:             fmt.Sprintf("Cookie Missing Secure Flag: %s", name),
				Severity:          db.SeverityLow,
				Category:          db.CategoryCookieSecurity,
				Description:       fmt.Sprintf("Cookie '%s' is missing the Secure flag.", name),
				Remediation:       "Add the 'Secure' flag to all cookies.",
				AffectedComponent: base,
			})
		}
		if !strings.Contains(lower, "httponly") && strings.Contains(lower, "session") {
			out.Findings = append(out.Findings, FindingCandidate{
				Title:             fmt.Sprintf("Session Cookie Missing HttpOnly: %s", name),
				Severity:          db.SeverityMedium,
				Category:          db.CategoryCookieSecurity,
				Description:       fmt.Sprintf("Session cookie '%s' is missing the HttpOnly flag.", name),
				Remediation:       "Add the 'HttpOnly' flag to session cookies.",
				AffectedComponent: base,
			})
		}
	}
}

func (m *HeaderAuditor) checkHTTPSRedirect(ctx context.Context, rc *RunContext,
	client *http.Client, base string, out *Output) {
	if !strings.HasPrefix(base, "https://") {
		return
	}
	httpURL := "http://" + strings.TrimPrefix(base, "https://")

	resp, _, err := governedGet(ctx, rc, client, httpURL, nil)
	if err != nil {
		return
	}

	switch {
	case resp.StatusCode != 301 && resp.StatusCode != 302 &&
		resp.StatusCode != 307 && resp.StatusCode != 308:
		out.Findings = append(out.Findings, FindingCandidate{
			Title:             "HTTP to HTTPS Redirect Missing",
			Severity:          db.SeverityMedium,
			Category:          db.CategorySecurityHeaders,
			Description:       fmt.Sprintf("HTTP request to %s does not redirect to HTTPS.", httpURL),
			Remediation:       "Configure HTTP to HTTPS redirect on the web server.",
			AffectedComponent: httpURL,
		})
	case !strings.Contains(resp.Header.Get("Location"), "https://"):
		out.Findings = append(out.Findings, FindingCandidate{
			Title:             "HTTP Redirect Does Not Point to HTTPS",
			Severity:          db.SeverityMedium,
			Category:          db.CategorySecurityHeaders,
			Description:       "HTTP redirects but not to an HTTPS URL.",
			Remediation:       "Ensure HTTP redirects to HTTPS.",
			AffectedComponent: httpURL,
			Evidence:          fmt.Sprintf("Location: %s", resp.Header.Get("Location")),
		})
	}
}

func (m *HeaderAuditor) checkOpenRedirect(ctx context.Context, rc *RunContext,
	client *http.Client, base string, out *Output) {
	probe := base + "/?redirect=https://evil.example&url=https://evil.example&next=https://evil.example"
	resp, _, err := governedGet(ctx, rc, client, probe, nil)
	if err != nil {
		return
	}
	location := resp.Header.Get("Location")
	if strings.Contains(location, "evil.example") {
		out.Findings = append(out.Findings, FindingCandidate{
			Title:             "Potential Open Redirect",
			Severity:          db.SeverityMedium,
			Category:          db.CategoryOpenRedirect,
			Description:       "The application reflects attacker-controlled URLs in redirect responses.",
			Remediation:       "Validate and whitelist redirect URLs.",
			AffectedComponent: base,
			Evidence:          fmt.Sprintf("Location: %s", location),
		})
	}
}

func (m *HeaderAuditor) checkCORS(ctx context.Context, rc *RunContext,
	client *http.Client, base string, out *Output) {
	resp, _, err := governedGet(ctx, rc, client, base,
		map[string]string{"Origin": "https://evil.example"})
	if err != nil {
		return
	}
	acao := resp.Header.Get("Access-Control-Allow-Origin")
	if acao != "*" && acao != "https://evil.example" {
		return
	}

	severity := db.SeverityMedium
	if strings.Contains(acao, "evil.example") {
		severity = db.SeverityHigh
	}
	out.Findings = append(out.Findings, FindingCandidate{
		Title:             "CORS Misconfiguration",
		Severity:          severity,
		Category:          db.CategoryCORSMisconfig,
		Description:       fmt.Sprintf("CORS allows requests from any or untrusted origin: %s", acao),
		Remediation:       "Restrict CORS to trusted domains only.",
		AffectedComponent: base,
		Evidence:          fmt.Sprintf("Access-Control-Allow-Origin: %s", acao),
	})
}

// checkHTTPMethods issues one OPTIONS request and flags dangerous verbs the
// server advertises.
func (m *HeaderAuditor) checkHTTPMethods(ctx context.Context, rc *RunContext,
	base string, out *Output) {
	release, err := rc.Governor.Acquire(ctx)
	if err != nil {
		return
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, base, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", userAgent(rc))

	resp, err := httpClient(rc, false).Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()

	allow := resp.Header.Get("Allow")
	if allow == "" {
		return
	}
	out.Raw["allowed_methods"] = allow

	var risky []string
	for _, method := range strings.Split(allow, ",") {
		method = strings.ToUpper(strings.TrimSpace(method))
		if dangerousHTTPMethods[method] {
			risky = append(risky, method)
		}
	}
	if len(risky) == 0 {
		return
	}
	out.Findings = append(out.Findings, FindingCandidate{
		Title:    "Dangerous HTTP Methods Enabled",
		Severity: db.SeverityLow,
		Category: db.CategoryHTTPMethods,
		Description: fmt.Sprintf("The server advertises potentially dangerous HTTP methods: %s.",
			strings.Join(risky, ", ")),
		Remediation:       "Disable unused HTTP methods on the web server.",
		AffectedComponent: base,
		Evidence:          fmt.Sprintf("Allow: %s", allow),
	})
}
