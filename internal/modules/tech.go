package modules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

// techSignature fingerprints one technology by header or body patterns.
type techSignature struct {
	name     string
	category string
	header   []*regexp.Regexp
	body     []*regexp.Regexp
}

func sig(name, category string, headerPatterns, bodyPatterns []string) techSignature {
	s := techSignature{name: name, category: category}
	for _, p := range headerPatterns {
		s.header = append(s.header, regexp.MustCompile("(?i)"+p))
	}
	for _, p := range bodyPatterns {
		s.body = append(s.body, regexp.MustCompile("(?i)"+p))
	}
	return s
}

var techSignatures = []techSignature{
	sig("WordPress", "CMS",
		[]string{`X-Powered-By:.*WordPress`},
		[]string{`wp-content/`, `wp-includes/`, `wp-json`, `name="generator"\s+content="WordPress`}),
	sig("Drupal", "CMS",
		[]string{`X-Generator:.*Drupal`, `X-Drupal`},
		[]string{`sites/default/files`, `Drupal\.settings`}),
	sig("Joomla", "CMS",
		nil,
		[]string{`/media/jui/`, `/components/com_`, `name="generator"\s+content="Joomla`}),
	sig("React", "JavaScript Framework",
		nil,
		[]string{`_reactRootContainer`, `react-root`}),
	sig("Next.js", "JavaScript Framework",
		[]string{`x-powered-by:.*Next\.js`},
		[]string{`__NEXT_DATA__`, `/_next/static`}),
	sig("Vue.js", "JavaScript Framework",
		nil,
		[]string{`__vue__`, `vue-router`, `data-v-[a-f0-9]+`}),
	sig("Angular", "JavaScript Framework",
		nil,
		[]string{`ng-version=`, `ng-app`, `angular\.min\.js`}),
	sig("Nginx", "Web Server",
		[]string{`server:\s*nginx`}, nil),
	sig("Apache", "Web Server",
		[]string{`server:\s*Apache`}, nil),
	sig("IIS", "Web Server",
		[]string{`server:\s*Microsoft-IIS`}, nil),
	sig("PHP", "Programming Language",
		[]string{`x-powered-by:.*PHP`},
		[]string{`\.php`}),
	sig("ASP.NET", "Programming Language",
		[]string{`x-aspnet-version`, `x-powered-by:.*ASP\.NET`}, nil),
	sig("Cloudflare", "CDN",
		[]string{`cf-ray:`, `server:\s*cloudflare`}, nil),
	sig("AWS", "Cloud",
		[]string{`x-amz-`, `server:\s*AmazonS3`}, nil),
	sig("Google Analytics", "Analytics",
		nil,
		[]string{`google-analytics\.com/analytics\.js`, `gtag/js`, `UA-\d+-\d+`}),
}

// advisoryTech maps detected technologies to advisory-level findings about
// keeping them patched.
var advisoryTech = map[string]struct {
	title       string
	description string
	remediation string
}{
	"WordPress": {
		"WordPress Core - Keep Updated",
		"WordPress detected. Ensure it is running the latest version.",
		"Update WordPress core, themes, and plugins regularly.",
	},
	"PHP": {
		"PHP Detected - Version Check Recommended",
		"PHP detected on server. Old PHP versions have known CVEs.",
		"Ensure PHP is updated to a supported version.",
	},
}

// TechDetector fingerprints the web stack from one page fetch.
type TechDetector struct{}

// Name implements Module.
func (m *TechDetector) Name() string { return ModuleTechDetector }

// Description implements Module.
func (m *TechDetector) Description() string {
	return "Identifies web technologies, frameworks, and services in use"
}

// Run implements Module.
func (m *TechDetector) Run(ctx context.Context, rc *RunContext) (*Output, error) {
	out := &Output{Raw: map[string]interface{}{}}
	base := baseURL(rc.Target)

	client := httpClient(rc, true)
	resp, body, err := governedGet(ctx, rc, client, base, nil)
	if err != nil {
		return nil, fmt.Errorf("technology detection fetch failed: %w", err)
	}

	var headerBuilder strings.Builder
	for name, values := range resp.Header {
		for _, v := range values {
			fmt.Fprintf(&headerBuilder, "%s: %s\n", name, v)
		}
	}
	headerText := headerBuilder.String()
	bodyText := string(body)

	var detected []map[string]string
	for _, tech := range techSignatures {
		if !m.matches(tech, headerText, bodyText) {
			continue
		}
		detected = append(detected, map[string]string{
			"name": tech.name, "category": tech.category,
		})
		out.Assets = append(out.Assets, AssetCandidate{
			Type:  db.AssetTypeTechnology,
			Value: tech.name,
			Metadata: map[string]interface{}{
				"category": tech.category, "detected_on": base,
			},
		})

		if advisory, ok := advisoryTech[tech.name]; ok {
			out.Findings = append(out.Findings, FindingCandidate{
				Title:             advisory.title,
				Severity:          db.SeverityInfo,
				Category:          db.CategoryOutdatedSoftware,
				Description:       advisory.description,
				Remediation:       advisory.remediation,
				AffectedComponent: tech.name,
			})
		}
	}

	out.Raw["detected_technologies"] = detected
	return out, nil
}

func (m *TechDetector) matches(tech techSignature, headerText, bodyText string) bool {
	for _, re := range tech.header {
		if re.MatchString(headerText) {
			return true
		}
	}
	for _, re := range tech.body {
		if re.MatchString(bodyText) {
			return true
		}
	}
	return false
}
