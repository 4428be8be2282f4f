package modules

import (
	"context"
	"fmt"

	"github.com/Ullaakut/nmap/v3"

	"github.com/vulnhawk/vulnhawk/internal/db"
)

// riskyServices maps service names flagged when exposed to the internet.
var riskyServices = map[string]struct {
	severity    string
	description string
}{
	"telnet":        {db.SeverityHigh, "Telnet transmits credentials in cleartext."},
	"ftp":           {db.SeverityMedium, "FTP transmits credentials in cleartext."},
	"ms-wbt-server": {db.SeverityHigh, "RDP exposed to the internet is a common ransomware entry point."},
	"microsoft-ds":  {db.SeverityHigh, "SMB should never be exposed to the internet."},
	"netbios-ssn":   {db.SeverityMedium, "NetBIOS session service exposed."},
	"mysql":         {db.SeverityHigh, "Database port exposed to the internet."},
	"postgresql":    {db.SeverityHigh, "Database port exposed to the internet."},
	"redis":         {db.SeverityCritical, "Redis is frequently deployed without authentication."},
	"mongodb":       {db.SeverityCritical, "MongoDB is frequently deployed without authentication."},
	"vnc":           {db.SeverityHigh, "VNC exposed to the internet."},
}

// PortScanner probes the target's open TCP ports and flags risky exposed
// services. It shells out to nmap through the library binding.
type PortScanner struct{}

// Name implements Module.
func (m *PortScanner) Name() string { return ModulePortScanner }

// Description implements Module.
func (m *PortScanner) Description() string {
	return "Scans common TCP ports and flags risky exposed services"
}

// Run implements Module. The whole nmap run counts as one governed
// operation; nmap applies its own internal pacing.
func (m *PortScanner) Run(ctx context.Context, rc *RunContext) (*Output, error) {
	release, err := rc.Governor.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(rc.Target),
		nmap.WithMostCommonPorts(1000),
		nmap.WithConnectScan(),
		nmap.WithServiceInfo(),
		nmap.WithSkipHostDiscovery(),
		nmap.WithTimingTemplate(nmap.TimingPolite),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create port scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("port scan failed: %w", err)
	}

	out := &Output{Raw: map[string]interface{}{}}
	if warnings != nil && len(*warnings) > 0 {
		out.Raw["warnings"] = *warnings
	}

	openPorts := []map[string]interface{}{}
	for i := range result.Hosts {
		host := &result.Hosts[i]
		if len(host.Addresses) == 0 {
			continue
		}
		addr := host.Addresses[0].Addr

		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			entry := map[string]interface{}{
				"port":     port.ID,
				"protocol": port.Protocol,
				"service":  port.Service.Name,
				"product":  port.Service.Product,
				"version":  port.Service.Version,
			}
			openPorts = append(openPorts, entry)

			out.Assets = append(out.Assets, AssetCandidate{
				Type:  db.AssetTypePort,
				Value: fmt.Sprintf("%s:%d", addr, port.ID),
				Metadata: map[string]interface{}{
					"port": port.ID, "protocol": port.Protocol,
					"service": port.Service.Name, "product": port.Service.Product,
					"version": port.Service.Version,
				},
			})

			if risky, ok := riskyServices[port.Service.Name]; ok {
				out.Findings = append(out.Findings, FindingCandidate{
					Title:    fmt.Sprintf("Exposed %s Service", port.Service.Name),
					Severity: risky.severity,
					Category: db.CategoryInfoDisclosure,
					Description: fmt.Sprintf("Port %d/%s (%s) is open on %s. %s",
						port.ID, port.Protocol, port.Service.Name, addr, risky.description),
					Remediation:       "Restrict access with a firewall or move the service behind a VPN.",
					AffectedComponent: fmt.Sprintf("%s:%d", addr, port.ID),
					Evidence: fmt.Sprintf("nmap reports %s %s %s open on port %d",
						port.Service.Name, port.Service.Product, port.Service.Version, port.ID),
				})
			}
		}
	}
	out.Raw["open_ports"] = openPorts

	return out, nil
}
