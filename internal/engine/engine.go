// Package engine owns the scan lifecycle: it takes a claimed RUNNING scan,
// dispatches its module subset, folds results through the aggregator, and
// drives the scan to a terminal state. All state transitions go through the
// state-guarded repository methods, so an illegal edge can never be written.
package engine

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vulnhawk/vulnhawk/internal/aggregate"
	"github.com/vulnhawk/vulnhawk/internal/config"
	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/errors"
	"github.com/vulnhawk/vulnhawk/internal/governor"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/metrics"
	"github.com/vulnhawk/vulnhawk/internal/modules"
	"github.com/vulnhawk/vulnhawk/internal/notify"
)

// Engine executes claimed scans.
type Engine struct {
	store      *db.Store
	aggregator *aggregate.Aggregator
	bus        *notify.Bus
	metrics    *metrics.Metrics
	logger     *logging.Logger
	cfg        config.ScanningConfig

	blockedNets []*net.IPNet
	resolver    *net.Resolver
	newModule   func(name string) (modules.Module, error)
}

// New creates an engine. Blocked CIDRs in cfg must already be validated.
func New(store *db.Store, aggregator *aggregate.Aggregator, bus *notify.Bus,
	m *metrics.Metrics, logger *logging.Logger, cfg config.ScanningConfig) *Engine {
	var nets []*net.IPNet
	for _, cidr := range cfg.BlockedCIDRs {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
		}
	}
	return &Engine{
		store:       store,
		aggregator:  aggregator,
		bus:         bus,
		metrics:     m,
		logger:      logger.WithComponent("engine"),
		cfg:         cfg,
		blockedNets: nets,
		resolver:    net.DefaultResolver,
		newModule:   modules.New,
	}
}

// Run drives one RUNNING scan to a terminal state. The error return reports
// infrastructure failures only; a scan ending FAILED is a normal outcome.
func (e *Engine) Run(ctx context.Context, scan *db.Scan) error {
	start := time.Now()
	log := e.logger.WithScanID(scan.ID.String())
	e.metrics.ScanStarted()

	target, err := e.store.Targets.GetByID(ctx, scan.TargetID)
	if err != nil {
		e.finishFailed(ctx, scan, start, fmt.Sprintf("target lookup failed: %v", err))
		return err
	}
	log = log.WithTarget(target.Value)

	if err := e.checkBlocked(ctx, target.Value); err != nil {
		log.Warn("Target resolves to a blocked IP range")
		e.finishFailed(ctx, scan, start, err.Error())
		return nil
	}

	moduleNames := []string(scan.Modules)
	if len(moduleNames) == 0 {
		moduleNames, err = modules.Resolve(scan.Profile, nil)
		if err != nil {
			e.finishFailed(ctx, scan, start, err.Error())
			return nil
		}
	}

	scanCfg := scan.ScanConfigOrDefault()
	log.Info("Starting scan", "profile", scan.Profile, "modules", moduleNames)

	// Cancellation is cooperative: a poller flips the context when the
	// cancel flag appears, and modules observe it at their next outbound
	// operation.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cancelled := e.watchCancellation(runCtx, cancel, scan)

	var (
		mu        sync.Mutex
		counts    db.SeverityCounts
		completed int
	)

	var wg sync.WaitGroup
	for _, name := range moduleNames {
		if runCtx.Err() != nil {
			break
		}
		module, err := e.newModule(name)
		if err != nil {
			log.Warn("Skipping unknown module", "module", name)
			continue
		}

		wg.Add(1)
		go func(module modules.Module) {
			defer wg.Done()
			stats := e.runModule(runCtx, scan, target, scanCfg, module, log)

			mu.Lock()
			defer mu.Unlock()
			if stats != nil {
				counts.Critical += stats.Counts.Critical
				counts.High += stats.Counts.High
				counts.Medium += stats.Counts.Medium
				counts.Low += stats.Counts.Low
				counts.Info += stats.Counts.Info
			}
			completed++
			progress := completed * 100 / len(moduleNames)
			if progress > 99 {
				// 100 is reserved for the COMPLETED transition.
				progress = 99
			}
			if err := e.store.Scans.UpdateProgress(ctx, scan.ID, progress); err != nil {
				log.Warn("Progress update failed", "error", err)
			}
			e.publish(notify.EventScanProgress, scan, map[string]interface{}{
				"progress": progress,
				"module":   module.Name(),
			})
		}(module)
	}
	wg.Wait()

	duration := time.Since(start)

	select {
	case <-cancelled:
		if err := e.store.Scans.MarkCancelled(ctx, scan.ID, duration); err != nil {
			return err
		}
		e.metrics.ScanFinished(scan.Profile, db.ScanStatusCancelled, duration)
		e.publish(notify.EventScanCancelled, scan, nil)
		log.Info("Scan cancelled", "duration", duration)
		return nil
	default:
	}

	if err := e.store.Scans.Complete(ctx, scan.ID, counts, duration); err != nil {
		return err
	}
	e.metrics.ScanFinished(scan.Profile, db.ScanStatusCompleted, duration)
	e.publish(notify.EventScanCompleted, scan, map[string]interface{}{
		"critical": counts.Critical, "high": counts.High,
		"medium": counts.Medium, "low": counts.Low, "info": counts.Info,
		"duration_ms": duration.Milliseconds(),
	})

	e.afterCompletion(ctx, scan, target, start, log)
	log.Info("Scan completed", "duration", duration, "findings", counts.Total())
	return nil
}

// runModule executes one module and absorbs its outcome into a ModuleResult
// row. Module failures never propagate; only the row records them.
func (e *Engine) runModule(ctx context.Context, scan *db.Scan, target *db.Target,
	scanCfg db.ScanConfig, module modules.Module, log *logging.Logger) *aggregate.Stats {
	record, err := e.store.ModuleResults.CreateRunning(ctx, scan.ID, module.Name())
	if err != nil {
		log.ErrorModule("Could not record module dispatch", module.Name(), err)
		return nil
	}
	moduleStart := time.Now()

	// Finalization must outlive run-cancellation: a cancelled scan still
	// records a terminal status on every dispatched module row.
	finalizeCtx := context.WithoutCancel(ctx)

	moduleCtx, cancel := context.WithTimeout(ctx, e.cfg.ModuleTimeout)
	defer cancel()

	rc := &modules.RunContext{
		ScanID:     scan.ID,
		TargetID:   target.ID,
		Target:     target.Value,
		TargetType: target.Type,
		Governor: governor.New(governor.Config{
			MaxConcurrent: scanCfg.MaxConcurrent,
			RequestDelay:  time.Duration(scanCfg.RequestDelay) * time.Millisecond,
			ExcludePaths:  scanCfg.ExcludePaths,
		}),
		Logger:      log.WithModule(module.Name()),
		HTTPTimeout: e.cfg.HTTPTimeout,
		UserAgent:   e.cfg.UserAgent,
		Resolvers:   e.cfg.Resolvers,
	}

	out, runErr := module.Run(moduleCtx, rc)
	duration := time.Since(moduleStart)

	if runErr != nil {
		status := db.ModuleStatusError
		if moduleCtx.Err() == context.DeadlineExceeded {
			status = db.ModuleStatusTimeout
			runErr = errors.NewModuleTimeout(module.Name())
		}
		msg := runErr.Error()
		if err := e.store.ModuleResults.Finalize(finalizeCtx, record.ID, status, nil, &msg, duration); err != nil {
			log.ErrorModule("Module finalize failed", module.Name(), err)
		}
		e.metrics.ModuleFinished(module.Name(), status, duration)
		log.ErrorModule("Module failed", module.Name(), runErr)
		return nil
	}

	stats, err := e.aggregator.Ingest(ctx, scan, target, out)
	if err != nil {
		msg := fmt.Sprintf("aggregation failed: %v", err)
		if ferr := e.store.ModuleResults.Finalize(finalizeCtx, record.ID, db.ModuleStatusError, nil, &msg, duration); ferr != nil {
			log.ErrorModule("Module finalize failed", module.Name(), ferr)
		}
		e.metrics.ModuleFinished(module.Name(), db.ModuleStatusError, duration)
		return stats
	}

	raw, err := db.NewJSONB(out.Raw)
	if err != nil {
		log.ErrorModule("Raw output encode failed", module.Name(), err)
	}
	if err := e.store.ModuleResults.Finalize(finalizeCtx, record.ID, db.ModuleStatusSuccess, raw, nil, duration); err != nil {
		log.ErrorModule("Module finalize failed", module.Name(), err)
	}
	e.metrics.ModuleFinished(module.Name(), db.ModuleStatusSuccess, duration)

	e.publishIngest(scan, stats)
	return stats
}

// publishIngest emits finding and asset events for one module's batch.
func (e *Engine) publishIngest(scan *db.Scan, stats *aggregate.Stats) {
	for _, finding := range stats.NewFindings {
		e.metrics.FindingRecorded(finding.Severity, "new")

		var eventType string
		switch finding.Severity {
		case db.SeverityCritical:
			eventType = notify.EventVulnCritical
		case db.SeverityHigh:
			eventType = notify.EventVulnHigh
		default:
			continue
		}
		e.publish(eventType, scan, map[string]interface{}{
			"finding_id": finding.ID,
			"severity":   finding.Severity,
			"category":   finding.Category,
			"title":      finding.Title,
		})
	}
	for i := 0; i < stats.RecurringCount; i++ {
		e.metrics.FindingRecorded("", "recurring")
	}
	for _, asset := range stats.DiscoveredAssets {
		e.metrics.AssetDiscovered()
		e.publish(notify.EventAssetDiscovered, scan, map[string]interface{}{
			"asset_id": asset.ID,
			"type":     asset.Type,
			"value":    asset.Value,
		})
	}
}

// watchCancellation polls the cancel flag and cancels the run context when
// it appears. The returned channel is closed if cancellation was requested.
func (e *Engine) watchCancellation(ctx context.Context, cancel context.CancelFunc,
	scan *db.Scan) <-chan struct{} {
	cancelled := make(chan struct{})
	interval := e.cfg.CancelPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				requested, err := e.store.Scans.CancelRequested(context.Background(), scan.ID)
				if err != nil {
					continue
				}
				if requested {
					close(cancelled)
					cancel()
					return
				}
			}
		}
	}()
	return cancelled
}

// afterCompletion refreshes target bookkeeping once a scan finishes. Stale
// assets are tombstoned only after a DEEP run, since narrower profiles do
// not re-observe every asset type.
func (e *Engine) afterCompletion(ctx context.Context, scan *db.Scan,
	target *db.Target, start time.Time, log *logging.Logger) {
	if scan.Profile == db.ProfileDeep {
		if n, err := e.store.Assets.DeactivateStale(ctx, target.ID, start); err != nil {
			log.Warn("Stale asset sweep failed", "error", err)
		} else if n > 0 {
			log.Info("Tombstoned stale assets", "count", n)
		}
	}

	now := time.Now().UTC()
	var next *time.Time
	if target.Schedule != nil && *target.Schedule != "" {
		if schedule, err := cron.ParseStandard(*target.Schedule); err == nil {
			n := schedule.Next(now)
			next = &n
		}
	}
	if err := e.store.Targets.TouchScanTimes(ctx, target.ID, now, next); err != nil {
		log.Warn("Target scan-time update failed", "error", err)
	}
}

// finishFailed transitions the scan to FAILED. Partial results remain.
func (e *Engine) finishFailed(ctx context.Context, scan *db.Scan, start time.Time, message string) {
	duration := time.Since(start)
	if err := e.store.Scans.Fail(ctx, scan.ID, message, duration); err != nil {
		e.logger.ErrorScan("Could not mark scan failed", scan.ID.String(), err)
	}
	e.metrics.ScanFinished(scan.Profile, db.ScanStatusFailed, duration)
	e.publish(notify.EventScanFailed, scan, map[string]interface{}{"error": message})
}

func (e *Engine) publish(eventType string, scan *db.Scan, payload map[string]interface{}) {
	e.bus.Publish(notify.Event{
		Type:     eventType,
		ScanID:   scan.ID,
		TargetID: scan.TargetID,
		Payload:  payload,
	})
}

// checkBlocked rejects targets that are, or resolve into, a blocked range.
func (e *Engine) checkBlocked(ctx context.Context, target string) error {
	if len(e.blockedNets) == 0 {
		return nil
	}

	host := target
	for _, prefix := range []string{"https://", "http://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	host = strings.SplitN(host, "/", 2)[0]
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if ip := net.ParseIP(host); ip != nil {
		if e.isBlocked(ip) {
			return errors.ErrTargetBlocked(target)
		}
		return nil
	}

	addrs, err := e.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		// Unresolvable targets fail later in module execution; the guard
		// only rejects what it can prove is blocked.
		return nil
	}
	for _, addr := range addrs {
		if e.isBlocked(addr.IP) {
			return errors.ErrTargetBlocked(target)
		}
	}
	return nil
}

func (e *Engine) isBlocked(ip net.IP) bool {
	for _, network := range e.blockedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
