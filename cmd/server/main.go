/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clinic token booking server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment (.env first), then apply command-line flags
  2. Build policy, store, locker, notifiers (app.Build)
  3. Create API handler and router
  4. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port     HTTP server port (PORT, default: 8080)
  -store    memory | sqlite | postgres (STORE, default: sqlite)
  -db       SQLite database path (SQLITE_PATH, default: tokens.db)
            Use ":memory:" for in-memory database
  -policy   Policy document, JSON or YAML (POLICY_FILE)
  -notifier Comma separated notifiers (NOTIFIER, default: log)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Wait for in-flight confirmation messages
  4. Close database, redis and broker connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/tokens.db"

  # Evening walk-in clinic on Postgres, SMS via Twilio
  STORE=postgres DATABASE_URL=postgres://... NOTIFIER=twilio ./server -policy=walkin.yaml

SEE ALSO:
  - app/app.go: Dependency wiring
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/token-engine/api"
	"github.com/warp/token-engine/app"
	"github.com/warp/token-engine/config"
	"github.com/warp/token-engine/logging"
	"github.com/warp/token-engine/metrics"
)

func main() {
	cfg := config.Load()

	// Flags
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "Store backend: memory, sqlite or postgres")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "Policy document (JSON or YAML)")
	flag.StringVar(&cfg.Notifier, "notifier", cfg.Notifier, "Comma separated notifiers: log, twilio, fast2sms, amqp, none")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.New(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.DefaultRegisterer
	application, err := app.Build(ctx, cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("shutdown: release resources", "error", err)
		}
	}()

	handler := api.NewHandler(application.Engine, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSOrigins,
		HTTPMetrics:    metrics.NewHTTP(reg),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
