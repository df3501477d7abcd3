/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the receipt verification server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment configuration
  2. Initialize structured logging (zap)
  3. Open SQLite store and run migrations
  4. Seed admin actors (idempotent)
  5. Reconcile rewards for validated installments missing one
  6. Configure HTTP router
  7. Start server with graceful shutdown

CONFIGURATION (environment, with .env support):
  PORT                 HTTP server port (default: 8080)
  DATABASE_PATH        SQLite database path (default: promo.db)
                       Use ":memory:" for an in-memory database
  RECEIPT_DIR          Receipt upload directory (default: receipts)
  JWT_SECRET           Token signing secret
  TOKEN_TTL            Token lifetime (default: 24h)
  CORS_ORIGIN          Allowed CORS origin (default: *)
  VALIDATOR_PASSWORD   Seed password for the validador actor
  RESPONSABLE_PASSWORD Seed password for the responsable actor
  OWNER_PASSWORD       Seed password for the owner actor

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment parsing
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/promomundial/verification-engine/api"
	"github.com/promomundial/verification-engine/auth"
	"github.com/promomundial/verification-engine/config"
	"github.com/promomundial/verification-engine/content"
	"github.com/promomundial/verification-engine/engine"
	"github.com/promomundial/verification-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if cfg.InsecureJWTSecret {
		logger.Warn("JWT_SECRET not set, using insecure development fallback")
	}

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	receipts, err := content.NewFileStore(cfg.ReceiptDir)
	if err != nil {
		logger.Fatal("failed to initialize receipt store", zap.Error(err))
	}

	// Wire services
	audit := engine.NewRecorder(store)
	ledger := engine.NewLedger(store, audit)
	rewards := engine.NewRewardService(store, store, audit)
	workflow := engine.NewWorkflow(store, rewards, audit)
	stats := &engine.StatsService{Installments: store, Rewards: store, Audit: audit}
	authSvc := auth.NewService(store)
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)

	ctx := context.Background()

	seeds := auth.DefaultAdminSeeds(cfg.ValidatorPassword, cfg.ResponsablePassword, cfg.OwnerPassword)
	if err := authSvc.SeedAdmins(ctx, seeds); err != nil {
		logger.Fatal("failed to seed admin actors", zap.Error(err))
	}

	// Repair validated installments whose reward unlock never landed,
	// for example after a crash between the two writes.
	repaired, err := rewards.Reconcile(ctx)
	if err != nil {
		logger.Fatal("reward reconciliation failed", zap.Error(err))
	}
	if repaired > 0 {
		logger.Info("reconciled rewards at startup", zap.Int("repaired", repaired))
	}

	handlers := &api.Handlers{
		Auth:     authSvc,
		Tokens:   tokens,
		Ledger:   ledger,
		Workflow: workflow,
		Rewards:  rewards,
		Stats:    stats,
		Audit:    audit,
		Receipts: receipts,
		Logger:   logger,
	}

	router := api.NewRouter(handlers, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("database", cfg.DatabasePath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
