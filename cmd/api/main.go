package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"featurevotes/internal/config"
	"featurevotes/internal/handler"
	"featurevotes/internal/mdk"
	"featurevotes/internal/service"
	"featurevotes/internal/store"
)

type application struct {
	config        *config.Config
	logger        *log.Logger
	ledger        *store.DBStore
	voteService   *service.VoteService
	server        *http.Server
	shutdownChan  chan struct{}
	schedulerDone chan struct{}
}

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Refusing to start: %v", err)
	}

	db, err := store.ConnectDB(cfg.DBDriver, cfg.DBDataSourceName)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	ledger := store.NewDBStore(db, cfg.DBDriver)
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Printf("Error closing database: %v", err)
		}
	}()

	migrations, err := migrationsSource(cfg)
	if err != nil {
		logger.Fatalf("Failed to locate migrations: %v", err)
	}
	if err := store.RunMigrations(db, migrations); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	var catalog service.CatalogCache
	if cfg.RedisAddr != "" {
		redisClient, err := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		redisStore := store.NewRedisStore(redisClient)
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Printf("Error closing Redis client: %v", err)
			}
		}()
		// The previous deploy may have cached a catalog under another prefix.
		if err := redisStore.InvalidateCatalog(context.Background()); err != nil {
			logger.Printf("Warning: failed to clear cached catalog: %v", err)
		}
		catalog = redisStore
	} else {
		logger.Println("REDIS_HOST not set, catalog cache disabled.")
	}

	voteService := service.NewVoteService(logger, ledger, newCollaborator(cfg, logger), catalog, cfg)

	app := &application{
		config:        cfg,
		logger:        logger,
		ledger:        ledger,
		voteService:   voteService,
		shutdownChan:  make(chan struct{}),
		schedulerDone: make(chan struct{}),
	}

	go app.runReconcileScheduler()

	if cfg.ReconcileSecret == "" {
		logger.Println("RECONCILE_SECRET not set: POST /api/feature-votes/reconcile is disabled.")
	}

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.NewRouter(logger, voteService, ledger, cfg.ReconcileSecret),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorLog:     logger,
	}

	app.serve()
}

func migrationsSource(cfg *config.Config) (fs.FS, error) {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir), nil
	}
	return store.MigrationsFor(cfg.DBDriver)
}

func newCollaborator(cfg *config.Config, logger *log.Logger) service.Collaborator {
	if cfg.MDKMode == config.MDKModeSandbox {
		logger.Printf("MDK_MODE=sandbox: invoices settle on their own after %s", cfg.SandboxSettleAfter)
		return mdk.NewSandbox(mdk.DefaultSandboxProducts(), cfg.SandboxSettleAfter)
	}
	return mdk.NewClient(cfg.MDKAPIURL, cfg.MDKAccessToken, cfg.MDKRateLimit, nil)
}

func (app *application) serve() {
	app.logger.Printf("Starting server on %s", app.server.Addr)

	errChan := make(chan error)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		app.logger.Fatalf("Server error: %v", err)
	case sig := <-quit:
		app.logger.Printf("Received signal %s. Shutting down server...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.logger.Println("Signaling reconcile scheduler to stop...")
	close(app.shutdownChan)
	select {
	case <-app.schedulerDone:
		app.logger.Println("Reconcile scheduler stopped.")
	case <-time.After(10 * time.Second):
		app.logger.Println("Reconcile scheduler did not stop in time.")
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Printf("Graceful server shutdown failed: %v", err)
	} else {
		app.logger.Println("Server gracefully stopped.")
	}

	app.logger.Println("Application shut down complete.")
}

// runReconcileScheduler sweeps all collaborator checkouts on a ticker so that
// votes whose client never confirmed still land in the ledger.
func (app *application) runReconcileScheduler() {
	defer close(app.schedulerDone)

	if app.config.ReconcileInterval <= 0 {
		app.logger.Println("Scheduler: RECONCILE_INTERVAL is 0, periodic reconciliation disabled.")
		<-app.shutdownChan
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-app.shutdownChan
		cancel()
	}()

	ticker := time.NewTicker(app.config.ReconcileInterval)
	defer ticker.Stop()

	app.logger.Printf("Reconcile scheduler started. Will run every %s.", app.config.ReconcileInterval)

	for {
		select {
		case <-ticker.C:
			app.logger.Println("Scheduler: Triggered by ticker. Reconciling checkouts.")
			if _, err := app.voteService.Reconcile(ctx, nil); err != nil {
				app.logger.Printf("Scheduler: Error during reconciliation: %v", err)
			}
		case <-app.shutdownChan:
			app.logger.Println("Scheduler: Received shutdown signal. Stopping...")
			return
		}
	}
}
