// Package db provides database connectivity and data models for vulnhawk.
// It handles migrations, target/scan/finding storage, and the data access
// layer shared by the engine, the aggregator, and the API.
package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
		return nil
	case string:
		*j = JSONB([]byte(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// String returns the JSON string.
func (j JSONB) String() string {
	return string(j)
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = JSONB(data)
	return nil
}

// NewJSONB marshals an arbitrary value into a JSONB column value. A nil
// value yields a NULL column.
func NewJSONB(v interface{}) (JSONB, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return JSONB(data), nil
}

// TargetStatus constants track ownership verification of a target.
const (
	TargetStatusPending  = "PENDING"
	TargetStatusVerified = "VERIFIED"
	TargetStatusFailed   = "FAILED"
	TargetStatusExpired  = "EXPIRED"
)

// TargetType constants.
const (
	TargetTypeDomain = "DOMAIN"
	TargetTypeIP     = "IP"
	TargetTypeCIDR   = "CIDR"
)

// ScanStatus constants. QUEUED is initial; COMPLETED, FAILED, and CANCELLED
// are terminal. Transitions are owned exclusively by the engine.
const (
	ScanStatusQueued    = "QUEUED"
	ScanStatusRunning   = "RUNNING"
	ScanStatusCompleted = "COMPLETED"
	ScanStatusFailed    = "FAILED"
	ScanStatusCancelled = "CANCELLED"
)

// IsTerminalScanStatus reports whether a scan status permits no further
// transitions.
func IsTerminalScanStatus(status string) bool {
	switch status {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	default:
		return false
	}
}

// ScanType constants.
const (
	ScanTypeOnDemand   = "ON_DEMAND"
	ScanTypeScheduled  = "SCHEDULED"
	ScanTypeContinuous = "CONTINUOUS"
)

// ScanProfile constants.
const (
	ProfileQuick    = "QUICK"
	ProfileStandard = "STANDARD"
	ProfileDeep     = "DEEP"
	ProfileCustom   = "CUSTOM"
)

// ModuleResultStatus constants.
const (
	ModuleStatusRunning = "running"
	ModuleStatusSuccess = "success"
	ModuleStatusError   = "error"
	ModuleStatusTimeout = "timeout"
)

// Severity constants, ordered from most to least severe.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
)

// SeverityRank maps a severity to its ordering weight; higher is more severe.
// Unknown severities rank below INFO.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// FindingStatus constants.
const (
	FindingStatusOpen          = "OPEN"
	FindingStatusInProgress    = "IN_PROGRESS"
	FindingStatusConfirmed     = "CONFIRMED"
	FindingStatusFalsePositive = "FALSE_POSITIVE"
	FindingStatusAccepted      = "ACCEPTED"
	FindingStatusFixed         = "FIXED"
)

// Vulnerability categories. The set is closed; modules must report one of
// these and the SARIF exporter emits one rule per category observed.
const (
	CategorySQLInjection       = "SQL_INJECTION"
	CategoryCommandInjection   = "COMMAND_INJECTION"
	CategoryRFI                = "RFI"
	CategoryLFI                = "LFI"
	CategorySSRF               = "SSRF"
	CategoryXSSStored          = "XSS_STORED"
	CategoryXSSReflected       = "XSS_REFLECTED"
	CategoryPathTraversal      = "PATH_TRAVERSAL"
	CategoryIDOR               = "IDOR"
	CategoryCSRF               = "CSRF"
	CategoryCORSMisconfig      = "CORS_MISCONFIG"
	CategoryOpenRedirect       = "OPEN_REDIRECT"
	CategorySSLTLS             = "SSL_TLS"
	CategoryCertIssue          = "CERT_ISSUE"
	CategorySecurityHeaders    = "SECURITY_HEADERS"
	CategoryCookieSecurity     = "COOKIE_SECURITY"
	CategoryHTTPMethods        = "HTTP_METHODS"
	CategoryInfoDisclosure     = "INFO_DISCLOSURE"
	CategoryDirectoryListing   = "DIRECTORY_LISTING"
	CategorySensitiveFile      = "SENSITIVE_FILE"
	CategoryOutdatedSoftware   = "OUTDATED_SOFTWARE"
	CategoryDefaultCredentials = "DEFAULT_CREDENTIALS"
	CategoryEmailSecurity      = "EMAIL_SECURITY"
	CategoryDNSMisconfig       = "DNS_MISCONFIG"
	CategorySubdomainTakeover  = "SUBDOMAIN_TAKEOVER"
	CategoryWAFDetected        = "WAF_DETECTED"
	CategoryOther              = "OTHER"
)

// ValidCategories is the closed category set in a stable order.
var ValidCategories = []string{
	CategorySQLInjection, CategoryCommandInjection, CategoryRFI, CategoryLFI,
	CategorySSRF, CategoryXSSStored, CategoryXSSReflected, CategoryPathTraversal,
	CategoryIDOR, CategoryCSRF, CategoryCORSMisconfig, CategoryOpenRedirect,
	CategorySSLTLS, CategoryCertIssue, CategorySecurityHeaders,
	CategoryCookieSecurity, CategoryHTTPMethods, CategoryInfoDisclosure,
	CategoryDirectoryListing, CategorySensitiveFile, CategoryOutdatedSoftware,
	CategoryDefaultCredentials, CategoryEmailSecurity, CategoryDNSMisconfig,
	CategorySubdomainTakeover, CategoryWAFDetected, CategoryOther,
}

// AssetType constants.
const (
	AssetTypeSubdomain = "SUBDOMAIN"
	AssetTypeIP        = "IP"
	AssetTypeURL       = "URL"
	AssetTypeEndpoint  = "ENDPOINT"
	AssetTypePort      = "PORT"

	AssetTypeTechnology = "TECHNOLOGY"
)

// ScanConfig holds the caller-supplied run-time constraints for one scan.
type ScanConfig struct {
	ExcludePaths  []string `json:"excludePaths,omitempty"`
	MaxConcurrent int      `json:"maxConcurrent,omitempty"`
	RequestDelay  int      `json:"requestDelay,omitempty"` // milliseconds
}

// DefaultScanConfig returns the engine defaults applied when the caller
// omits a knob.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{MaxConcurrent: 3, RequestDelay: 0}
}

// Target represents a scannable unit: a domain, IP, or CIDR block.
type Target struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrgID          uuid.UUID  `db:"org_id" json:"org_id"`
	Value          string     `db:"value" json:"value"`
	Type           string     `db:"type" json:"type"`
	Status         string     `db:"status" json:"status"`
	DefaultProfile string     `db:"default_profile" json:"default_profile"`
	Schedule       *string    `db:"schedule" json:"schedule,omitempty"`
	LastScanAt     *time.Time `db:"last_scan_at" json:"last_scan_at,omitempty"`
	NextScanAt     *time.Time `db:"next_scan_at" json:"next_scan_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsVerified reports whether a scan may run against the target without an
// explicit override.
func (t *Target) IsVerified() bool {
	return t.Status == TargetStatusVerified
}

// Scan represents one assessment run against a target.
type Scan struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	TargetID        uuid.UUID      `db:"target_id" json:"target_id"`
	RequestedBy     *string        `db:"requested_by" json:"requested_by,omitempty"`
	Type            string         `db:"type" json:"type"`
	Profile         string         `db:"profile" json:"profile"`
	Modules         pq.StringArray `db:"modules" json:"modules"`
	Config          JSONB          `db:"config" json:"config,omitempty"`
	Status          string         `db:"status" json:"status"`
	Progress        int            `db:"progress" json:"progress"`
	CancelRequested bool           `db:"cancel_requested" json:"cancel_requested"`
	CriticalCount   int            `db:"critical_count" json:"critical_count"`
	HighCount       int            `db:"high_count" json:"high_count"`
	MediumCount     int            `db:"medium_count" json:"medium_count"`
	LowCount        int            `db:"low_count" json:"low_count"`
	InfoCount       int            `db:"info_count" json:"info_count"`
	ErrorMessage    *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	StartedAt       *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS      *int64         `db:"duration_ms" json:"duration_ms,omitempty"`
}

// ScanConfigOrDefault decodes the stored run-time config, falling back to
// engine defaults for omitted knobs.
func (s *Scan) ScanConfigOrDefault() ScanConfig {
	cfg := DefaultScanConfig()
	if len(s.Config) > 0 {
		var stored ScanConfig
		if err := json.Unmarshal([]byte(s.Config), &stored); err == nil {
			if stored.MaxConcurrent > 0 {
				cfg.MaxConcurrent = stored.MaxConcurrent
			}
			if stored.RequestDelay > 0 {
				cfg.RequestDelay = stored.RequestDelay
			}
			cfg.ExcludePaths = stored.ExcludePaths
		}
	}
	return cfg
}

// ModuleResult is one module's execution record within a scan. Rows are
// append-only: one row per dispatched module, finalized exactly once.
type ModuleResult struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ScanID       uuid.UUID  `db:"scan_id" json:"scan_id"`
	Module       string     `db:"module" json:"module"`
	Status       string     `db:"status" json:"status"`
	RawOutput    JSONB      `db:"raw_output" json:"raw_output,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	DurationMS   *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
}

// Asset is a discovered artifact tied to a target. Assets are soft-tombstoned
// (is_active=false) when a later scan fails to re-observe them, never deleted.
type Asset struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TargetID    uuid.UUID `db:"target_id" json:"target_id"`
	Type        string    `db:"type" json:"type"`
	Value       string    `db:"value" json:"value"`
	Metadata    JSONB     `db:"metadata" json:"metadata,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	FirstSeenAt time.Time `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"last_seen_at"`
}

// Finding is a vulnerability instance. Within one target's history a finding
// is identified by its fingerprint; re-observation increments occurrences
// instead of creating a duplicate row.
type Finding struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	TargetID          uuid.UUID      `db:"target_id" json:"target_id"`
	ScanID            uuid.UUID      `db:"scan_id" json:"scan_id"`
	LastScanID        *uuid.UUID     `db:"last_scan_id" json:"last_scan_id,omitempty"`
	AssetID           *uuid.UUID     `db:"asset_id" json:"asset_id,omitempty"`
	Fingerprint       string         `db:"fingerprint" json:"fingerprint"`
	Title             string         `db:"title" json:"title"`
	Description       string         `db:"description" json:"description"`
	Severity          string         `db:"severity" json:"severity"`
	Category          string         `db:"category" json:"category"`
	CVSSScore         *float64       `db:"cvss_score" json:"cvss_score,omitempty"`
	CVSSVector        *string        `db:"cvss_vector" json:"cvss_vector,omitempty"`
	CVEID             *string        `db:"cve_id" json:"cve_id,omitempty"`
	CWEID             *string        `db:"cwe_id" json:"cwe_id,omitempty"`
	AffectedComponent string         `db:"affected_component" json:"affected_component"`
	Evidence          string         `db:"evidence" json:"evidence"`
	Remediation       string         `db:"remediation" json:"remediation"`
	References        pq.StringArray `db:"reference_urls" json:"references"`
	Status            string         `db:"status" json:"status"`
	Occurrences       int            `db:"occurrences" json:"occurrences"`
	FirstFoundAt      time.Time      `db:"first_found_at" json:"first_found_at"`
	LastFoundAt       time.Time      `db:"last_found_at" json:"last_found_at"`
}

// IsOpen reports whether the finding counts toward the target's security
// score. Findings resolved or dismissed by a human no longer deduct.
func (f *Finding) IsOpen() bool {
	switch f.Status {
	case FindingStatusOpen, FindingStatusInProgress, FindingStatusConfirmed:
		return true
	default:
		return false
	}
}

// SeverityCounts aggregates open findings by severity for a target.
type SeverityCounts struct {
	Critical int `db:"critical" json:"critical"`
	High     int `db:"high" json:"high"`
	Medium   int `db:"medium" json:"medium"`
	Low      int `db:"low" json:"low"`
	Info     int `db:"info" json:"info"`
}

// Total returns the number of findings across all severities.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}
