package modules

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	zx509 "github.com/zmap/zcrypto/x509"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

const (
	tlsDialTimeout     = 10 * time.Second
	certExpiryWarning  = 30 * 24 * time.Hour
	oldestTLSSupported = tls.VersionTLS12
)

// SSLAnalyzer inspects the target's TLS configuration and served
// certificate chain.
type SSLAnalyzer struct{}

// Name implements Module.
func (m *SSLAnalyzer) Name() string { return ModuleSSLAnalyzer }

// Description implements Module.
func (m *SSLAnalyzer) Description() string {
	return "Analyzes TLS configuration and certificate health"
}

// Run implements Module.
func (m *SSLAnalyzer) Run(ctx context.Context, rc *RunContext) (*Output, error) {
	out := &Output{Raw: map[string]interface{}{}}

	state, err := m.handshake(ctx, rc, 0)
	if err != nil {
		// No TLS endpoint on 443 is not a module failure for IP targets.
		out.Raw["handshake_error"] = err.Error()
		return out, nil
	}

	out.Raw["tls_version"] = tls.VersionName(state.Version)
	out.Raw["cipher_suite"] = tls.CipherSuiteName(state.CipherSuite)

	if state.Version < oldestTLSSupported {
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    fmt.Sprintf("Deprecated TLS Protocol %s Accepted", tls.VersionName(state.Version)),
			Severity: db.SeverityMedium,
			Category: db.CategorySSLTLS,
			Description: fmt.Sprintf(
				"%s negotiated %s. TLS 1.0 and 1.1 are deprecated by RFC 8996.",
				rc.Target, tls.VersionName(state.Version)),
			Remediation:       "Disable TLS versions older than 1.2 on the server.",
			AffectedComponent: rc.Target + ":443",
			References:        []string{"https://datatracker.ietf.org/doc/html/rfc8996"},
		})
	}

	if len(state.PeerCertificates) == 0 {
		return out, nil
	}

	// Re-parse the leaf with zcrypto for fields the standard parser rejects
	// or omits.
	leaf, err := zx509.ParseCertificate(state.PeerCertificates[0].Raw)
	if err != nil {
		out.Raw["parse_error"] = err.Error()
		return out, nil
	}

	now := time.Now()
	out.Raw["certificate"] = map[string]interface{}{
		"subject":     leaf.Subject.String(),
		"issuer":      leaf.Issuer.String(),
		"not_before":  leaf.NotBefore,
		"not_after":   leaf.NotAfter,
		"dns_names":   leaf.DNSNames,
		"self_signed": leaf.SelfSigned,
	}

	switch {
	case now.After(leaf.NotAfter):
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    "Expired TLS Certificate",
			Severity: db.SeverityHigh,
			Category: db.CategoryCertIssue,
			Description: fmt.Sprintf("The certificate for %s expired on %s.",
				rc.Target, leaf.NotAfter.Format(time.RFC3339)),
			Remediation:       "Renew the certificate immediately.",
			AffectedComponent: rc.Target + ":443",
			Evidence:          fmt.Sprintf("notAfter=%s", leaf.NotAfter.Format(time.RFC3339)),
		})
	case leaf.NotAfter.Sub(now) < certExpiryWarning:
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    "TLS Certificate Expiring Soon",
			Severity: db.SeverityLow,
			Category: db.CategoryCertIssue,
			Description: fmt.Sprintf("The certificate for %s expires on %s.",
				rc.Target, leaf.NotAfter.Format(time.RFC3339)),
			Remediation:       "Renew the certificate before it expires.",
			AffectedComponent: rc.Target + ":443",
			Evidence:          fmt.Sprintf("notAfter=%s", leaf.NotAfter.Format(time.RFC3339)),
		})
	}

	if leaf.SelfSigned {
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    "Self-Signed TLS Certificate",
			Severity: db.SeverityMedium,
			Category: db.CategoryCertIssue,
			Description: fmt.Sprintf(
				"%s serves a self-signed certificate, so clients cannot verify server identity.",
				rc.Target),
			Remediation:       "Install a certificate issued by a trusted CA.",
			AffectedComponent: rc.Target + ":443",
		})
	}

	if rc.TargetType == db.TargetTypeDomain && !m.matchesHost(leaf, rc.Target) {
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    "TLS Certificate Hostname Mismatch",
			Severity: db.SeverityMedium,
			Category: db.CategoryCertIssue,
			Description: fmt.Sprintf(
				"The certificate served by %s does not cover that hostname.", rc.Target),
			Remediation:       "Serve a certificate whose SAN list covers the hostname.",
			AffectedComponent: rc.Target + ":443",
			Evidence:          fmt.Sprintf("SANs: %v", leaf.DNSNames),
		})
	}

	return out, nil
}

// handshake performs one governed TLS handshake against port 443. Setting
// minVersion probes acceptance of older protocol versions.
func (m *SSLAnalyzer) handshake(ctx context.Context, rc *RunContext, minVersion uint16) (tls.ConnectionState, error) {
	release, err := rc.Governor.Acquire(ctx)
	if err != nil {
		return tls.ConnectionState{}, err
	}
	defer release()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: tlsDialTimeout},
		Config: &tls.Config{
			ServerName:         rc.Target,
			InsecureSkipVerify: true, // the point is to inspect bad certs
			MinVersion:         minVersion,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(rc.Target, "443"))
	if err != nil {
		return tls.ConnectionState{}, err
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, fmt.Errorf("unexpected connection type %T", conn)
	}
	return tlsConn.ConnectionState(), nil
}

func (m *SSLAnalyzer) matchesHost(cert *zx509.Certificate, host string) bool {
	for _, name := range cert.DNSNames {
		if name == host {
			return true
		}
		// Wildcard match one label deep.
		if len(name) > 2 && name[0] == '*' && name[1] == '.' {
			suffix := name[1:]
			if len(host) > len(suffix) {
				idx := len(host) - len(suffix)
				if host[idx:] == suffix && !containsDot(host[:idx]) {
					return true
				}
			}
		}
	}
	return cert.Subject.CommonName == host
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
