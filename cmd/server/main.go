/*
main.go - Application entry point

PURPOSE:
  Starts the benefits engine HTTP server and hosts the operator commands
  (migrations, accumulator files). Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  serve                      Run the HTTP API (and the accumulation scheduler)
  migrate up|down|version    Manage the MySQL schema
  accumulation generate      Write one payer accumulator file
  accumulation responses     Apply a payer response file

STARTUP SEQUENCE (serve):
  1. Load configuration from the environment
  2. Open the store (sqlite creates its schema; mysql must be migrated)
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start the scheduler and the server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

ENVIRONMENT:
  See config/config.go for every key. The common ones:
    SERVER_ADDRESS   Listen address (default :8080)
    DB_DRIVER        sqlite3 or mysql
    DATABASE_DSN     Path or DSN (use ":memory:" for a throwaway sqlite db)
    LOG_FORMAT       text or json

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlstore/store.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/benefits-engine/api"
	"github.com/warp/benefits-engine/config"
	"github.com/warp/benefits-engine/logging"
	"github.com/warp/benefits-engine/store/memory"
	"github.com/warp/benefits-engine/store/sqlstore"
)

var rootCmd = &cobra.Command{
	Use:           "benefits-engine",
	Short:         "Cost breakdown and accumulator reconciliation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log := logging.Setup(os.Getenv("LOG_FORMAT"))
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setup loads configuration and the logger shared by every command.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.Setup(cfg.LogFormat), nil
}

func openStore(cfg *config.Config) (*sqlstore.Store, error) {
	return sqlstore.New(cfg.DBDriver, cfg.DatabaseDSN)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, memory.NewRTE(), cfg.CostBreakdown(), cfg.Accumulation(), log)

	// Create router
	router := api.NewRouter(handler, cfg.CORSOrigins)

	scheduler := api.NewAccumulationScheduler(handler.Builder, cfg.AccumulationOutputDir, cfg.PayerNames(), log)
	scheduler.CheckInterval = cfg.AccumulationInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.ServerAddress).Str("db_driver", cfg.DBDriver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
