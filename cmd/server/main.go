/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the aurum ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Build the zap logger
  3. Open the store (sqlite, postgres or memory)
  4. Create the account ledger service and background verifier
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (LEDGER_PORT, default: 8080)
  -store   sqlite | postgres | memory (LEDGER_STORE, default: sqlite)
  -db      SQLite database path (LEDGER_SQLITE_PATH, default: ledger.db)
           Use ":memory:" for in-memory database
  -dsn     Postgres connection string (LEDGER_DATABASE_URL)

OTHER ENVIRONMENT:
  LOG_LEVEL, APP_ENV, LEDGER_METAL_TOLERANCE, LEDGER_CASH_TOLERANCE,
  LEDGER_VERIFY_INTERVAL, LEDGER_ALLOW_ORIGINS. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the background verifier
  4. Close the store

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against postgres
  ./server -store=postgres -dsn="postgres://ledger@localhost/ledger"

  # Throwaway in-memory ledger on another port
  ./server -store=memory -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - accounts/service.go: Account Ledger Service
  - config/config.go: Settings
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

	"github.com/ArasuRever/aurum-ledger/accounts"
	"github.com/ArasuRever/aurum-ledger/api"
	"github.com/ArasuRever/aurum-ledger/config"
	"github.com/ArasuRever/aurum-ledger/ledger"
	"github.com/ArasuRever/aurum-ledger/ledger/store"
	"github.com/ArasuRever/aurum-ledger/logger"
	"github.com/ArasuRever/aurum-ledger/store/postgres"
	"github.com/ArasuRever/aurum-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "store backend: sqlite, postgres or memory")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.DatabaseURL, "dsn", cfg.DatabaseURL, "Postgres connection string")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.Development()})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()

	// Initialize store
	ts, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer ts.Close()

	svc := accounts.New(ts,
		accounts.WithTolerance(cfg.Tolerance),
		accounts.WithLogger(log),
	)

	verifier := api.NewBalanceVerifier(svc, cfg.VerifyInterval, log)
	handler := api.NewHandler(svc, log)
	handler.Verifier = verifier
	router := api.NewRouter(handler, cfg.AllowOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	verifier.Start()
	defer verifier.Stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("server starting",
			"port", cfg.Port,
			"store", cfg.Store,
			"metal_tolerance", cfg.Tolerance.Metal.String(),
			"cash_tolerance", cfg.Tolerance.Cash.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Infow("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Infow("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (ledger.TxStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.New(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}
