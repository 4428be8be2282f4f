package modules

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

const maxCrawlPages = 50

// sensitivePaths are probed after the crawl. The high-risk subset produces
// findings; the rest are recorded as endpoint assets only.
var sensitivePaths = []string{
	"/.env", "/.git/config", "/robots.txt", "/sitemap.xml",
	"/.well-known/security.txt", "/wp-admin/", "/admin/",
	"/phpinfo.php", "/.htaccess", "/server-status",
	"/api/docs", "/swagger.json", "/graphql",
}

var criticalSensitivePaths = map[string]bool{
	"/.env":        true,
	"/.git/config": true,
	"/phpinfo.php": true,
}

// directoryListingMarkers identify auto-generated directory indexes.
var directoryListingMarkers = []string{
	"<title>Index of /", "Directory listing for", "[To Parent Directory]",
}

// WebCrawler walks same-origin links breadth-first, records endpoints as
// assets, and probes a fixed set of sensitive paths.
type WebCrawler struct{}

// Name implements Module.
func (m *WebCrawler) Name() string { return ModuleWebCrawler }

// Description implements Module.
func (m *WebCrawler) Description() string {
	return "Crawls web applications to discover endpoints and exposed files"
}

// Run implements Module.
func (m *WebCrawler) Run(ctx context.Context, rc *RunContext) (*Output, error) {
	out := &Output{Raw: map[string]interface{}{}}

	base := baseURL(rc.Target)
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid target url %q: %w", base, err)
	}
	host := parsed.Host

	client := httpClient(rc, true)
	visited := make(map[string]bool)
	queue := []string{base}
	var crawlErrors []string

	for len(queue) > 0 && len(visited) < maxCrawlPages {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		if !rc.Governor.Allowed(current) {
			continue
		}
		visited[current] = true

		resp, body, err := governedGet(ctx, rc, client, current, nil)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			crawlErrors = append(crawlErrors, fmt.Sprintf("crawl %s: %v", current, err))
			continue
		}

		contentType := resp.Header.Get("Content-Type")
		out.Assets = append(out.Assets, AssetCandidate{
			Type:  db.AssetTypeEndpoint,
			Value: current,
			Metadata: map[string]interface{}{
				"status_code":    resp.StatusCode,
				"content_type":   contentType,
				"content_length": len(body),
			},
		})

		if m.looksLikeDirectoryListing(body) {
			out.Findings = append(out.Findings, FindingCandidate{
				Title:    "Directory Listing Enabled",
				Severity: db.SeverityMedium,
				Category: db.CategoryDirectoryListing,
				Description: fmt.Sprintf(
					"%s serves an auto-generated directory index, exposing file names and structure.",
					current),
				Remediation:       "Disable directory indexing in the web server configuration.",
				AffectedComponent: current,
			})
		}

		if strings.Contains(contentType, "text/html") {
			for _, link := range m.extractLinks(body, current) {
				linkURL, err := url.Parse(link)
				if err != nil || linkURL.Host != host {
					continue
				}
				if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
					continue
				}
				linkURL.Fragment = ""
				linkURL.RawQuery = ""
				if clean := linkURL.String(); !visited[clean] {
					queue = append(queue, clean)
				}
			}
		}
	}

	m.probeSensitivePaths(ctx, rc, base, out)

	out.Raw["pages_crawled"] = len(visited)
	if len(crawlErrors) > 0 {
		out.Raw["errors"] = crawlErrors
	}
	return out, nil
}

// probeSensitivePaths requests well-known sensitive files without following
// redirects; a 200 on a critical path is a finding.
func (m *WebCrawler) probeSensitivePaths(ctx context.Context, rc *RunContext, base string, out *Output) {
	client := httpClient(rc, false)
	for _, path := range sensitivePaths {
		if ctx.Err() != nil {
			return
		}
		if !rc.Governor.Allowed(path) {
			continue
		}
		target := base + path
		resp, _, err := governedGet(ctx, rc, client, target, nil)
		if err != nil || resp.StatusCode != 200 {
			continue
		}

		out.Assets = append(out.Assets, AssetCandidate{
			Type:  db.AssetTypeEndpoint,
			Value: target,
			Metadata: map[string]interface{}{
				"status_code": 200, "sensitive": true,
			},
		})

		if criticalSensitivePaths[path] {
			out.Findings = append(out.Findings, FindingCandidate{
				Title:             fmt.Sprintf("Sensitive File Exposed: %s", path),
				Severity:          db.SeverityHigh,
				Category:          db.CategorySensitiveFile,
				Description:       fmt.Sprintf("Sensitive file accessible at %s.", target),
				Remediation:       fmt.Sprintf("Restrict access to %s via web server configuration.", path),
				AffectedComponent: target,
				Evidence:          fmt.Sprintf("HTTP 200 at %s", target),
			})
		}
	}
}

// extractLinks pulls href/src/action attributes out of an HTML document,
// resolved against the page URL.
func (m *WebCrawler) extractLinks(body []byte, pageURL string) []string {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a", "link", "script", "img", "form":
				for _, attr := range n.Attr {
					if attr.Key != "href" && attr.Key != "src" && attr.Key != "action" {
						continue
					}
					ref, err := url.Parse(strings.TrimSpace(attr.Val))
					if err != nil {
						continue
					}
					links = append(links, page.ResolveReference(ref).String())
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links
}

func (m *WebCrawler) looksLikeDirectoryListing(body []byte) bool {
	text := string(body)
	for _, marker := range directoryListingMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
