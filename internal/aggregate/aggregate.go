// Package aggregate merges module outputs into canonical Finding and Asset
// rows. It is the single mutation path for findings; modules never touch
// the store directly, which is what keeps the fingerprint-dedup invariant
// intact.
package aggregate

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/modules"
	"github.com/vulnhawk/vulnhawk/internal/scoring"
)

// Stats summarizes one ingest batch. NewFindings and DiscoveredAssets feed
// the notification pipeline; Counts feeds the scan's severity rollup.
type Stats struct {
	Counts           db.SeverityCounts
	NewFindings      []*db.Finding
	RecurringCount   int
	DiscoveredAssets []*db.Asset
}

// Aggregator deduplicates candidate findings against the store. Fingerprint
// updates are serialized per target so two modules observing the same
// vulnerability concurrently cannot race a duplicate row into existence.
type Aggregator struct {
	store  *db.Store
	logger *logging.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// New creates an Aggregator backed by the given store.
func New(store *db.Store, logger *logging.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.WithComponent("aggregator"),
		locks:  map[uuid.UUID]*sync.Mutex{},
	}
}

// targetLock returns the serialization lock for one target id.
func (a *Aggregator) targetLock(targetID uuid.UUID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[targetID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[targetID] = lock
	}
	return lock
}

// Ingest folds one module's output into the store under the target's write
// lock. Candidates matching a known fingerprint increment occurrences and
// may escalate severity; severity is never lowered here.
func (a *Aggregator) Ingest(ctx context.Context, scan *db.Scan, target *db.Target, out *modules.Output) (*Stats, error) {
	lock := a.targetLock(scan.TargetID)
	lock.Lock()
	defer lock.Unlock()

	stats := &Stats{}

	for i := range out.Findings {
		if err := a.ingestFinding(ctx, scan, target, &out.Findings[i], stats); err != nil {
			return stats, err
		}
	}
	for i := range out.Assets {
		if err := a.ingestAsset(ctx, scan, &out.Assets[i], stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (a *Aggregator) ingestFinding(ctx context.Context, scan *db.Scan,
	target *db.Target, candidate *modules.FindingCandidate, stats *Stats) error {
	fingerprint := Fingerprint(target.Value, candidate.Category,
		candidate.AffectedComponent, candidate.Title)

	cvss := candidate.CVSSScore
	if cvss == nil {
		estimated := scoring.EstimateCVSS(candidate.Category, candidate.Severity)
		cvss = &estimated
	}

	existing, err := a.store.Findings.GetByFingerprint(ctx, scan.TargetID, fingerprint)
	if err != nil {
		return err
	}

	if existing == nil {
		finding := &db.Finding{
			TargetID:          scan.TargetID,
			ScanID:            scan.ID,
			Fingerprint:       fingerprint,
			Title:             candidate.Title,
			Description:       candidate.Description,
			Severity:          candidate.Severity,
			Category:          candidate.Category,
			CVSSScore:         cvss,
			AffectedComponent: candidate.AffectedComponent,
			Evidence:          candidate.Evidence,
			Remediation:       candidate.Remediation,
			References:        candidate.References,
		}
		if candidate.CVSSVector != "" {
			finding.CVSSVector = &candidate.CVSSVector
		}
		if candidate.CVEID != "" {
			finding.CVEID = &candidate.CVEID
		}
		if candidate.CWEID != "" {
			finding.CWEID = &candidate.CWEID
		}
		if err := a.store.Findings.Create(ctx, finding); err != nil {
			return err
		}
		stats.NewFindings = append(stats.NewFindings, finding)
		addSeverity(&stats.Counts, finding.Severity)
		a.logger.Info("New finding recorded",
			"scan_id", scan.ID, "fingerprint", fingerprint, "severity", finding.Severity)
		return nil
	}

	severity := existing.Severity
	if db.SeverityRank(candidate.Severity) > db.SeverityRank(existing.Severity) {
		severity = candidate.Severity
		a.logger.Info("Finding severity escalated",
			"scan_id", scan.ID, "fingerprint", fingerprint,
			"from", existing.Severity, "to", severity)
	}

	if err := a.store.Findings.RecordRecurrence(ctx, existing.ID, scan.ID,
		severity, candidate.CVSSScore, candidate.Evidence); err != nil {
		return err
	}
	stats.RecurringCount++
	addSeverity(&stats.Counts, severity)
	return nil
}

func (a *Aggregator) ingestAsset(ctx context.Context, scan *db.Scan,
	candidate *modules.AssetCandidate, stats *Stats) error {
	metadata, err := db.NewJSONB(candidate.Metadata)
	if err != nil {
		return err
	}
	asset := &db.Asset{
		TargetID: scan.TargetID,
		Type:     candidate.Type,
		Value:    candidate.Value,
		Metadata: metadata,
	}
	stored, discovered, err := a.store.Assets.Upsert(ctx, asset)
	if err != nil {
		return err
	}
	if discovered {
		stats.DiscoveredAssets = append(stats.DiscoveredAssets, stored)
	}
	return nil
}

func addSeverity(counts *db.SeverityCounts, severity string) {
	switch severity {
	case db.SeverityCritical:
		counts.Critical++
	case db.SeverityHigh:
		counts.High++
	case db.SeverityMedium:
		counts.Medium++
	case db.SeverityLow:
		counts.Low++
	case db.SeverityInfo:
		counts.Info++
	}
}
