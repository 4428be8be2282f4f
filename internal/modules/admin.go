package modules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

// adminPaths is the probe list, grouped roughly by platform.
var adminPaths = []struct {
	path  string
	label string
}{
	{"/admin", "Admin Panel"},
	{"/admin/", "Admin Panel"},
	{"/admin/login", "Admin Login"},
	{"/administrator/", "Administrator Panel"},
	{"/adminpanel/", "Admin Panel"},
	{"/backend/", "Backend Panel"},
	{"/console/", "Console"},
	{"/controlpanel/", "Control Panel"},
	{"/dashboard/", "Dashboard"},
	{"/manage/", "Management Panel"},
	{"/management/", "Management Panel"},
	{"/panel/", "Panel"},
	{"/siteadmin/", "Site Admin"},
	{"/webadmin/", "Web Admin"},

	{"/wp-admin/", "WordPress Admin"},
	{"/wp-login.php", "WordPress Login"},

	{"/phpmyadmin/", "phpMyAdmin"},
	{"/pma/", "phpMyAdmin"},
	{"/adminer/", "Adminer"},
	{"/adminer.php", "Adminer"},

	{"/cpanel", "cPanel"},
	{"/whm/", "WHM Panel"},
	{"/plesk/", "Plesk"},
	{"/webmin/", "Webmin"},

	{"/administrator/index.php", "Joomla Admin"},
	{"/user/login", "Drupal Login"},
	{"/admin/config", "Drupal Admin"},
	{"/ghost/", "Ghost Admin"},
	{"/modx/", "MODX Admin"},

	{"/manager/html", "Tomcat Manager"},
	{"/manager/status", "Tomcat Status"},
	{"/server-status", "Apache Server Status"},
	{"/server-info", "Apache Server Info"},

	{"/graphql", "GraphQL Endpoint"},
	{"/graphiql", "GraphiQL IDE"},
	{"/swagger/", "Swagger UI"},
	{"/api-docs", "API Docs"},
	{"/api/docs", "API Docs"},
	{"/debug/", "Debug Panel"},
	{"/_profiler/", "Symfony Profiler"},
	{"/elmah.axd", "ELMAH (.NET Error Log)"},

	{"/status", "Status Page"},
	{"/health", "Health Check"},
	{"/metrics", "Metrics Endpoint"},
	{"/actuator", "Spring Boot Actuator"},
	{"/actuator/health", "Actuator Health"},
	{"/actuator/env", "Actuator Environment"},
}

var passwordInputRe = regexp.MustCompile(`<input[^>]*type=['"]password['"]`)
var formRe = regexp.MustCompile(`<form`)

var loginRedirectKeywords = []string{"login", "auth", "signin"}

// AdminDetector probes for exposed admin interfaces, login pages, and
// management panels.
type AdminDetector struct{}

// Name implements Module.
func (m *AdminDetector) Name() string { return ModuleAdminDetector }

// Description implements Module.
func (m *AdminDetector) Description() string {
	return "Detects exposed admin panels, login pages, and management interfaces"
}

// Run implements Module.
func (m *AdminDetector) Run(ctx context.Context, rc *RunContext) (*Output, error) {
	out := &Output{Raw: map[string]interface{}{}}
	base := baseURL(rc.Target)
	client := httpClient(rc, false)

	checked := 0
	var found []map[string]interface{}

	for _, entry := range adminPaths {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if !rc.Governor.Allowed(entry.path) {
			continue
		}
		checked++
		target := base + entry.path

		resp, body, err := governedGet(ctx, rc, client, target, nil)
		if err != nil {
			continue
		}

		switch {
		case resp.StatusCode == 200:
			isLogin := m.isLoginPage(string(body))
			found = append(found, map[string]interface{}{
				"path": entry.path, "label": entry.label, "login": isLogin,
			})
			out.Assets = append(out.Assets, AssetCandidate{
				Type:  db.AssetTypeEndpoint,
				Value: target,
				Metadata: map[string]interface{}{
					"admin_panel": true, "label": entry.label,
					"has_login_form": isLogin, "status_code": resp.StatusCode,
				},
			})

			severity := db.SeverityMedium
			detail := "The page is accessible without authentication."
			if isLogin {
				severity = db.SeverityHigh
				detail = "A login form is present."
			}
			out.Findings = append(out.Findings, FindingCandidate{
				Title:    fmt.Sprintf("Exposed Admin Panel: %s", entry.label),
				Severity: severity,
				Category: db.CategoryInfoDisclosure,
				Description: fmt.Sprintf(
					"An administrative interface (%s) was found at %s. %s "+
						"Exposed admin panels increase the attack surface.",
					entry.label, target, detail),
				Remediation: "Restrict access to admin panels by IP whitelist or VPN. " +
					"Use strong authentication and rate-limit login attempts.",
				AffectedComponent: target,
				Evidence:          fmt.Sprintf("HTTP %d at %s. Login form: %t.", resp.StatusCode, target, isLogin),
			})

		case resp.StatusCode >= 301 && resp.StatusCode <= 308:
			location := resp.Header.Get("Location")
			if !m.redirectsToLogin(location) {
				continue
			}
			found = append(found, map[string]interface{}{
				"path": entry.path, "label": entry.label, "redirect": location,
			})
			out.Assets = append(out.Assets, AssetCandidate{
				Type:  db.AssetTypeEndpoint,
				Value: target,
				Metadata: map[string]interface{}{
					"admin_panel": true, "label": entry.label, "redirects_to": location,
				},
			})
			out.Findings = append(out.Findings, FindingCandidate{
				Title:    fmt.Sprintf("Admin Panel Detected (Redirect): %s", entry.label),
				Severity: db.SeverityMedium,
				Category: db.CategoryInfoDisclosure,
				Description: fmt.Sprintf(
					"Admin path %s redirects to %s, indicating an admin interface exists at this location.",
					entry.path, location),
				Remediation:       "Restrict access to admin endpoints using IP whitelist or VPN.",
				AffectedComponent: target,
				Evidence:          fmt.Sprintf("HTTP %d redirect to %s", resp.StatusCode, location),
			})
		}
	}

	out.Raw["checked"] = checked
	out.Raw["found"] = found
	return out, nil
}

// isLoginPage scores login markers in the response body. A password input
// dominates the score so plain marketing pages mentioning "login" do not
// trip it.
func (m *AdminDetector) isLoginPage(body string) bool {
	lower := strings.ToLower(body)
	score := 0
	if passwordInputRe.MatchString(lower) {
		score += 3
	}
	if formRe.MatchString(lower) {
		score++
	}
	for _, word := range []string{"login", "sign in", "log in"} {
		if strings.Contains(lower, word) {
			score += 2
			break
		}
	}
	for _, word := range []string{"username", "email"} {
		if strings.Contains(lower, word) {
			score++
			break
		}
	}
	for _, word := range []string{"admin", "dashboard", "panel"} {
		if strings.Contains(lower, word) {
			score++
			break
		}
	}
	return score >= 4
}

func (m *AdminDetector) redirectsToLogin(location string) bool {
	lower := strings.ToLower(location)
	for _, kw := range loginRedirectKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
