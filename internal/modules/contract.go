// Package modules defines the black-box contract every probe module
// satisfies and the closed catalog of module implementations. The engine
// treats a module as an opaque unit: it hands in a target descriptor plus
// run config and receives structured findings, discovered assets, and a raw
// artifact; failures surface as typed errors recorded on the module result,
// never as conditions that abort the scan.
package modules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vulnhawk/vulnhawk/internal/governor"
	"github.com/vulnhawk/vulnhawk/internal/logging"
)

// RunContext is the explicit per-invocation execution context passed to
// every module. There is no ambient scan state: ids, config, and the shared
// governor travel together.
type RunContext struct {
	ScanID     uuid.UUID
	TargetID   uuid.UUID
	Target     string
	TargetType string
	Governor   *governor.Governor
	Logger     *logging.Logger

	// HTTPTimeout and UserAgent apply to modules issuing HTTP probes.
	HTTPTimeout time.Duration
	UserAgent   string

	// Resolvers lists DNS servers (host:port) for resolver-based modules.
	Resolvers []string
}

// FindingCandidate is a vulnerability surfaced by a module, before
// fingerprinting and deduplication.
type FindingCandidate struct {
	Title             string   `json:"title"`
	Severity          string   `json:"severity"`
	Category          string   `json:"category"`
	Description       string   `json:"description"`
	Remediation       string   `json:"remediation,omitempty"`
	CVEID             string   `json:"cve_id,omitempty"`
	CWEID             string   `json:"cwe_id,omitempty"`
	CVSSScore         *float64 `json:"cvss_score,omitempty"`
	CVSSVector        string   `json:"cvss_vector,omitempty"`
	AffectedComponent string   `json:"affected_component"`
	Evidence          string   `json:"evidence,omitempty"`
	References        []string `json:"references,omitempty"`
}

// AssetCandidate is an artifact discovered by a module, before upsert.
type AssetCandidate struct {
	Type     string                 `json:"type"`
	Value    string                 `json:"value"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Output is the structured result of one module execution.
type Output struct {
	Findings []FindingCandidate `json:"findings"`
	Assets   []AssetCandidate   `json:"assets"`
	// Raw is the module's opaque artifact, stored verbatim on the module
	// result. Consumers must not assume a module-specific shape.
	Raw map[string]interface{} `json:"raw,omitempty"`
}

// Module is the uniform contract for probe modules. Run must honor context
// cancellation at every outbound operation and must route all outbound
// probes through the governor in its RunContext.
type Module interface {
	// Name returns the stable catalog identifier.
	Name() string
	// Description returns a short human-readable summary.
	Description() string
	// Run executes the probe against the target in rc.
	Run(ctx context.Context, rc *RunContext) (*Output, error)
}
