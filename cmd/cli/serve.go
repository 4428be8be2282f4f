package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vulnhawk/vulnhawk/internal/aggregate"
	"github.com/vulnhawk/vulnhawk/internal/api"
	"github.com/vulnhawk/vulnhawk/internal/config"
	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/engine"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/metrics"
	"github.com/vulnhawk/vulnhawk/internal/notify"
	"github.com/vulnhawk/vulnhawk/internal/scheduler"
	"github.com/vulnhawk/vulnhawk/internal/workers"
)

var serveSkipMigrations bool

// serveCmd runs the full service: worker pool, scheduler, and REST API over
// one database connection pool.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vulnhawk service",
	Long: `Run the vulnhawk service: the scan worker pool pulling queued scans,
the cron scheduler for recurring scans, and the REST API with the websocket
event stream.`,
	Example: `  vulnhawk serve
  vulnhawk serve --config /etc/vulnhawk/config.yaml
  vulnhawk serve --skip-migrations`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveSkipMigrations, "skip-migrations", false,
		"do not apply pending database migrations on startup")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Default()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if !serveSkipMigrations {
		if err := db.NewMigrator(database.DB).Run(ctx); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
	}

	store := db.NewStore(database)
	m := metrics.New()
	bus := notify.NewBus(logger)
	defer bus.Close()

	aggregator := aggregate.New(store, logger)
	eng := engine.New(store, aggregator, bus, m, logger, cfg.Scanning)

	pool := workers.New(store, eng, logger, workers.Config{
		PoolSize:     cfg.Scanning.WorkerPoolSize,
		PollInterval: cfg.Scanning.QueuePollInterval,
	})
	sched := scheduler.New(store, logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		pool.Start(groupCtx)
		pool.Wait()
		return nil
	})
	group.Go(func() error {
		sched.Run(groupCtx)
		return nil
	})
	if cfg.API.Enabled {
		server := api.New(cfg.API, database, store, bus, m, logger)
		group.Go(func() error {
			return server.Start(groupCtx)
		})
	}

	logger.Info("vulnhawk service started",
		"workers", cfg.Scanning.WorkerPoolSize,
		"api_enabled", cfg.API.Enabled)

	if err := group.Wait(); err != nil {
		return fmt.Errorf("service error: %w", err)
	}
	logger.Info("vulnhawk service stopped")
	return nil
}
