package modules

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultUserAgent   = "vulnhawk/1.0 (+https://github.com/vulnhawk/vulnhawk)"
	maxBodyBytes       = 2 << 20
)

// httpClient builds a probe client honoring the per-scan timeout. TLS
// verification stays off because probing misconfigured endpoints is the job.
func httpClient(rc *RunContext, followRedirects bool) *http.Client {
	timeout := rc.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
	}
	if !followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// governedGet issues one rate-governed GET and returns the response with at
// most maxBodyBytes of its body read into memory.
func governedGet(ctx context.Context, rc *RunContext, client *http.Client,
	url string, extraHeaders map[string]string) (*http.Response, []byte, error) {
	release, err := rc.Governor.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", userAgent(rc))
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}

func userAgent(rc *RunContext) string {
	if rc.UserAgent != "" {
		return rc.UserAgent
	}
	return defaultUserAgent
}

// baseURL normalizes a bare target into an https URL.
func baseURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return "https://" + target
}
