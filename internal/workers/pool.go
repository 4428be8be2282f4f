// Package workers runs the scan worker pool. Workers pull QUEUED scans from
// the shared database queue; the row-level SKIP LOCKED claim makes the pool
// safe to scale without a separate broker.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/engine"
	"github.com/vulnhawk/vulnhawk/internal/logging"
)

// Config controls pool sizing and queue polling.
type Config struct {
	// Number of concurrent workers; a scan occupies one worker slot for
	// its entire RUNNING lifetime.
	PoolSize int

	// How long an idle worker sleeps before polling the queue again.
	PollInterval time.Duration
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:     4,
		PollInterval: 2 * time.Second,
	}
}

// Pool is the scan worker pool.
type Pool struct {
	store  *db.Store
	engine *engine.Engine
	logger *logging.Logger
	cfg    Config

	wg sync.WaitGroup
}

// New creates a worker pool.
func New(store *db.Store, eng *engine.Engine, logger *logging.Logger, cfg Config) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Pool{
		store:  store,
		engine: eng,
		logger: logger.WithComponent("workers"),
		cfg:    cfg,
	}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", "size", p.cfg.PoolSize)
	for i := 0; i < p.cfg.PoolSize; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.WithFields("worker", id)

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker stopping")
			return
		default:
		}

		scan, err := p.store.Scans.ClaimNextQueued(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Queue claim failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if scan == nil {
			p.sleep(ctx)
			continue
		}

		log.Info("Claimed scan", "scan_id", scan.ID, "profile", scan.Profile)
		if err := p.engine.Run(ctx, scan); err != nil {
			log.Error("Scan run failed", "scan_id", scan.ID, "error", err)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}
