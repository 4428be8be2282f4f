package modules

import (
	"fmt"
	"sort"

	"github.com/vulnhawk/vulnhawk/internal/errors"
)

// Catalog module identifiers.
const (
	ModuleDNSEnumerator = "dns_enumerator"
	ModulePortScanner   = "port_scanner"
	ModuleSSLAnalyzer   = "ssl_analyzer"
	ModuleWebCrawler    = "web_crawler"
	ModuleTechDetector  = "tech_detector"
	ModuleAdminDetector = "admin_detector"
	ModuleHeaderAuditor = "header_auditor"
)

// registry is the closed, versioned module catalog. Modules are typed
// constructors resolved at scan-submission time; there is no dynamic
// loading.
var registry = map[string]func() Module{
	ModuleDNSEnumerator: func() Module { return &DNSEnumerator{} },
	ModulePortScanner:   func() Module { return &PortScanner{} },
	ModuleSSLAnalyzer:   func() Module { return &SSLAnalyzer{} },
	ModuleWebCrawler:    func() Module { return &WebCrawler{} },
	ModuleTechDetector:  func() Module { return &TechDetector{} },
	ModuleAdminDetector: func() Module { return &AdminDetector{} },
	ModuleHeaderAuditor: func() Module { return &HeaderAuditor{} },
}

// profiles maps each named preset to its module subset. QUICK and STANDARD
// are fixed increasingly-inclusive subsets; DEEP is the full catalog.
var profiles = map[string][]string{
	"QUICK": {
		ModuleDNSEnumerator, ModuleSSLAnalyzer, ModuleTechDetector,
	},
	"STANDARD": {
		ModuleDNSEnumerator, ModulePortScanner, ModuleSSLAnalyzer,
		ModuleWebCrawler, ModuleTechDetector, ModuleAdminDetector,
	},
	"DEEP": {
		ModuleDNSEnumerator, ModulePortScanner, ModuleSSLAnalyzer,
		ModuleWebCrawler, ModuleTechDetector, ModuleAdminDetector,
		ModuleHeaderAuditor,
	},
}

// Catalog returns all registered module identifiers in stable order.
func Catalog() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether a module identifier is registered.
func Exists(name string) bool {
	_, ok := registry[name]
	return ok
}

// New instantiates a module by identifier.
func New(name string) (Module, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, errors.NewFieldValidationError("Unknown module", "modules", name)
	}
	return factory(), nil
}

// Resolve maps a profile (and, for CUSTOM, an explicit selection) to the
// module list to dispatch. CUSTOM with an empty or unknown selection is
// rejected before any scan state is created.
func Resolve(profile string, custom []string) ([]string, error) {
	if profile == "CUSTOM" {
		if len(custom) == 0 {
			return nil, errors.NewFieldValidationError(
				"CUSTOM profile requires a non-empty module list", "modules", custom)
		}
		resolved := make([]string, 0, len(custom))
		seen := make(map[string]bool, len(custom))
		for _, name := range custom {
			if !Exists(name) {
				return nil, errors.NewFieldValidationError(
					fmt.Sprintf("Unknown module %q", name), "modules", name)
			}
			if !seen[name] {
				seen[name] = true
				resolved = append(resolved, name)
			}
		}
		return resolved, nil
	}

	subset, ok := profiles[profile]
	if !ok {
		return nil, errors.NewFieldValidationError(
			fmt.Sprintf("Unknown profile %q", profile), "profile", profile)
	}
	out := make([]string, len(subset))
	copy(out, subset)
	return out, nil
}

// Profiles returns the named presets and their module subsets.
func Profiles() map[string][]string {
	out := make(map[string][]string, len(profiles))
	for name, subset := range profiles {
		cp := make([]string, len(subset))
		copy(cp, subset)
		out[name] = cp
	}
	return out
}
