/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave balance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize the SQLite source store
  3. Pick the snapshot store (SQLite or PostgreSQL), optionally behind Redis
  4. Build the engine, API handler and router
  5. Start the refresher and the Kafka consumer when enabled
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_ADDR)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the consumer and the refresher
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Snapshots in PostgreSQL, cached in Redis
  SNAPSHOT_BACKEND=postgres DATABASE_URL=postgres://... REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - timeoff/engine.go: Balance resolution
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/events"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/rediscache"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()
	if *port != 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.SQLitePath, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	snapshots, closeSnapshots, err := snapshotStore(ctx, cfg, store, logger)
	if err != nil {
		logger.Fatal("failed to initialize snapshot store", zap.Error(err))
	}
	defer closeSnapshots()

	engine := timeoff.NewEngine(store.Sources(), snapshots, engineOptions(cfg, logger)...)

	var resetter api.Resetter
	if r, ok := snapshots.(api.Resetter); ok {
		resetter = r
	}
	handler := api.NewHandler(engine, store, resetter, logger)

	refresher := api.NewSnapshotRefresher(engine, logger)
	refresher.Enabled = cfg.RefreshEnabled
	refresher.Interval = cfg.RefreshInterval
	refresher.Start()

	var consumer *events.Consumer
	if cfg.KafkaEnabled() {
		reader := events.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		consumer = events.NewConsumer(reader, engine, logger)
		consumer.Start(ctx)
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("env", cfg.Environment),
			zap.String("snapshot_backend", cfg.SnapshotBackend),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	if consumer != nil {
		<-consumer.Done()
		if err := consumer.Close(); err != nil {
			logger.Warn("failed to close kafka reader", zap.Error(err))
		}
	}
	refresher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// snapshotStore builds the configured snapshot store. The returned func
// releases whatever connections it opened.
func snapshotStore(ctx context.Context, cfg config.Config, store *sqlite.Store, logger *zap.Logger) (timeoff.SnapshotStore, func(), error) {
	var (
		snapshots timeoff.SnapshotStore = store
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.SnapshotBackend == config.BackendPostgres {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, pool.Close)

		pg := postgres.NewSnapshotStore(pool, logger)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("migrate snapshots: %w", err)
		}
		snapshots = pg
	}

	if cfg.RedisAddr != "" {
		rdb, err := rediscache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		snapshots = rediscache.New(snapshots, rdb, cfg.SnapshotCacheTTL, logger)
	}

	return snapshots, closeAll, nil
}

func engineOptions(cfg config.Config, logger *zap.Logger) []timeoff.Option {
	opts := []timeoff.Option{
		timeoff.WithLogger(logger),
		timeoff.WithCarryOverFloor(cfg.CarryOverFloorYear),
	}
	if cfg.CompensatoryTypeID != "" {
		opts = append(opts, timeoff.WithCompensatoryTypeID(timeoff.LeaveTypeID(cfg.CompensatoryTypeID)))
	}
	if len(cfg.QualifyingStatuses) > 0 {
		statuses := make([]timeoff.RequestStatus, 0, len(cfg.QualifyingStatuses))
		for _, s := range cfg.QualifyingStatuses {
			statuses = append(statuses, timeoff.RequestStatus(s))
		}
		opts = append(opts, timeoff.WithQualifyingStatuses(statuses...))
	}
	return opts
}
