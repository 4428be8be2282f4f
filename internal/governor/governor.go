// Package governor enforces per-scan limits on outbound probe traffic.
// Every module of a scan shares one Governor; before each outbound operation
// a module acquires a slot token and waits out the configured inter-request
// delay. The governor does not bound cross-module parallelism, only the
// volume of probes any one module puts in flight against the target.
package governor

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxConcurrent = 3

// Config holds the two throttling knobs plus path exclusions.
type Config struct {
	// MaxConcurrent bounds in-flight outbound operations per module.
	MaxConcurrent int
	// RequestDelay is the minimum spacing between successive outbound
	// operations issued by one module.
	RequestDelay time.Duration
	// ExcludePaths lists substrings; any candidate URL or path containing
	// one is skipped before an operation is issued.
	ExcludePaths []string
}

// Governor throttles a single scan's outbound probe operations.
type Governor struct {
	slots        chan struct{}
	limiter      *rate.Limiter
	excludePaths []string
}

// New creates a governor from the given config, applying defaults for
// missing knobs.
func New(cfg Config) *Governor {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}

	return &Governor{
		slots:        make(chan struct{}, maxConcurrent),
		limiter:      limiter,
		excludePaths: cfg.ExcludePaths,
	}
}

// Acquire blocks until a concurrency slot is free and the pacing limiter
// admits another operation, or the context is cancelled. The returned
// release function must be called when the operation finishes. Acquire is a
// cancellation checkpoint: modules must not proceed on error.
func (g *Governor) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slots
		return nil, err
	}

	return func() { <-g.slots }, nil
}

// Allowed reports whether a candidate URL or path may be probed. Paths
// containing any configured exclusion substring are skipped before an
// operation is ever issued.
func (g *Governor) Allowed(path string) bool {
	for _, excluded := range g.excludePaths {
		if excluded != "" && strings.Contains(path, excluded) {
			return false
		}
	}
	return true
}

// MaxConcurrent returns the configured slot count.
func (g *Governor) MaxConcurrent() int {
	return cap(g.slots)
}
