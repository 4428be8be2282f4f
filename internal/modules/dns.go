package modules

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

const dnsQueryTimeout = 5 * time.Second

// commonSubdomains is the built-in brute-force wordlist.
var commonSubdomains = []string{
	"www", "mail", "ftp", "smtp", "pop", "imap", "blog", "webmail",
	"server", "ns1", "ns2", "secure", "vpn", "api", "dev",
	"staging", "test", "portal", "admin", "app", "m", "mobile",
	"docs", "cdn", "media", "static", "assets", "img", "images",
	"css", "js", "git", "svn", "ci", "jenkins", "jira", "confluence",
	"wiki", "help", "support", "status", "monitor", "grafana",
}

// DNSEnumerator enumerates DNS records, checks email security posture, and
// discovers subdomains by brute force.
type DNSEnumerator struct{}

// Name implements Module.
func (m *DNSEnumerator) Name() string { return ModuleDNSEnumerator }

// Description implements Module.
func (m *DNSEnumerator) Description() string {
	return "Enumerates DNS records and discovers subdomains"
}

// Run implements Module.
func (m *DNSEnumerator) Run(ctx context.Context, rc *RunContext) (*Output, error) {
	if rc.TargetType != db.TargetTypeDomain {
		return &Output{Raw: map[string]interface{}{"skipped": "target is not a domain"}}, nil
	}

	out := &Output{Raw: map[string]interface{}{}}
	client := &dns.Client{Timeout: dnsQueryTimeout}
	resolver := m.pickResolver(rc)

	recordTypes := map[string]uint16{
		"A": dns.TypeA, "AAAA": dns.TypeAAAA, "MX": dns.TypeMX,
		"NS": dns.TypeNS, "TXT": dns.TypeTXT, "CNAME": dns.TypeCNAME,
		"SOA": dns.TypeSOA,
	}

	var hasSPF, hasDMARC bool
	for name, qtype := range recordTypes {
		records, err := m.query(ctx, rc, client, resolver, rc.Target, qtype)
		if err != nil {
			continue
		}
		if len(records) > 0 {
			out.Raw[name] = records
		}
		for _, record := range records {
			out.Assets = append(out.Assets, AssetCandidate{
				Type:  db.AssetTypeSubdomain,
				Value: rc.Target,
				Metadata: map[string]interface{}{
					"record_type": name, "record": record,
				},
			})
			if name == "TXT" && strings.Contains(record, "v=spf1") {
				hasSPF = true
			}
		}
	}

	// DMARC lives on its own subdomain.
	dmarcRecords, _ := m.query(ctx, rc, client, resolver, "_dmarc."+rc.Target, dns.TypeTXT)
	for _, record := range dmarcRecords {
		if strings.Contains(strings.ToUpper(record), "V=DMARC1") {
			hasDMARC = true
		}
	}

	if !hasSPF {
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    "Missing SPF Record",
			Severity: db.SeverityMedium,
			Category: db.CategoryEmailSecurity,
			Description: fmt.Sprintf(
				"No SPF record found for %s. This may allow email spoofing.", rc.Target),
			Remediation:       "Add an SPF record to your DNS configuration.",
			AffectedComponent: rc.Target,
		})
	}
	if !hasDMARC {
		out.Findings = append(out.Findings, FindingCandidate{
			Title:       "Missing DMARC Record",
			Severity:    db.SeverityMedium,
			Category:    db.CategoryEmailSecurity,
			Description: fmt.Sprintf("No DMARC record found for %s.", rc.Target),
			Remediation: fmt.Sprintf(
				"Add a DMARC record (e.g., _dmarc.%s TXT 'v=DMARC1; p=reject').", rc.Target),
			AffectedComponent: rc.Target,
		})
	}

	// Zone transfer attempt against each authoritative nameserver.
	nameservers, _ := m.query(ctx, rc, client, resolver, rc.Target, dns.TypeNS)
	for _, ns := range nameservers {
		nsHost := strings.TrimSuffix(ns, ".")
		subdomains, ok := m.tryZoneTransfer(ctx, rc, nsHost)
		if !ok {
			continue
		}
		out.Findings = append(out.Findings, FindingCandidate{
			Title:    "DNS Zone Transfer Allowed (AXFR)",
			Severity: db.SeverityHigh,
			Category: db.CategoryInfoDisclosure,
			Description: fmt.Sprintf(
				"DNS zone transfer (AXFR) is allowed on nameserver %s. "+
					"This exposes all DNS records to anyone.", nsHost),
			Remediation:       "Restrict AXFR to authorized secondary nameservers only.",
			AffectedComponent: nsHost,
		})
		for _, sub := range subdomains {
			out.Assets = append(out.Assets, AssetCandidate{
				Type:     db.AssetTypeSubdomain,
				Value:    sub,
				Metadata: map[string]interface{}{"source": "zone_transfer"},
			})
		}
	}

	// Subdomain brute force; concurrency is bounded by the governor.
	discovered := m.bruteForce(ctx, rc, client, resolver)
	out.Assets = append(out.Assets, discovered...)
	out.Raw["subdomains_discovered"] = len(discovered)

	return out, ctx.Err()
}

func (m *DNSEnumerator) pickResolver(rc *RunContext) string {
	if len(rc.Resolvers) > 0 {
		addr := rc.Resolvers[0]
		if !strings.Contains(addr, ":") {
			addr += ":53"
		}
		return addr
	}
	return "8.8.8.8:53"
}

// query issues one governed DNS query and flattens the answer section.
func (m *DNSEnumerator) query(ctx context.Context, rc *RunContext, client *dns.Client,
	resolver, name string, qtype uint16) ([]string, error) {
	release, err := rc.Governor.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	resp, _, err := client.ExchangeContext(ctx, msg, resolver)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query for %s returned rcode %d", name, resp.Rcode)
	}

	records := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		parts := strings.SplitN(rr.String(), "\t", 5)
		records = append(records, parts[len(parts)-1])
	}
	return records, nil
}

// tryZoneTransfer attempts AXFR against one nameserver. Failure is the
// expected outcome and is not an error.
func (m *DNSEnumerator) tryZoneTransfer(ctx context.Context, rc *RunContext, nsHost string) ([]string, bool) {
	release, err := rc.Governor.Acquire(ctx)
	if err != nil {
		return nil, false
	}
	defer release()

	transfer := &dns.Transfer{DialTimeout: dnsQueryTimeout, ReadTimeout: dnsQueryTimeout}
	msg := new(dns.Msg)
	msg.SetAxfr(dns.Fqdn(rc.Target))

	envelopes, err := transfer.In(msg, nsHost+":53")
	if err != nil {
		return nil, false
	}

	var subdomains []string
	for envelope := range envelopes {
		if envelope.Error != nil {
			return nil, false
		}
		for _, rr := range envelope.RR {
			name := strings.TrimSuffix(rr.Header().Name, ".")
			if name != rc.Target && strings.HasSuffix(name, "."+rc.Target) {
				subdomains = append(subdomains, name)
			}
		}
	}
	return subdomains, true
}

// bruteForce resolves the common-subdomain wordlist. Each lookup is a
// governed outbound operation, so MaxConcurrent and RequestDelay apply.
func (m *DNSEnumerator) bruteForce(ctx context.Context, rc *RunContext,
	client *dns.Client, resolver string) []AssetCandidate {
	var (
		mu    sync.Mutex
		found []AssetCandidate
		wg    sync.WaitGroup
	)

	for _, sub := range commonSubdomains {
		if ctx.Err() != nil {
			break
		}
		fqdn := sub + "." + rc.Target
		wg.Add(1)
		go func(fqdn string) {
			defer wg.Done()
			ips, err := m.query(ctx, rc, client, resolver, fqdn, dns.TypeA)
			if err != nil || len(ips) == 0 {
				return
			}
			mu.Lock()
			found = append(found, AssetCandidate{
				Type:  db.AssetTypeSubdomain,
				Value: fqdn,
				Metadata: map[string]interface{}{
					"ips": ips, "source": "bruteforce",
				},
			})
			mu.Unlock()
		}(fqdn)
	}
	wg.Wait()
	return found
}
