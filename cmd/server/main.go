package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for schema migrations
	"github.com/joho/godotenv"

	"github.com/dmarsh-dev/crm-migrate/internal/config"
	"github.com/dmarsh-dev/crm-migrate/internal/logging"
	"github.com/dmarsh-dev/crm-migrate/internal/migrate"
	"github.com/dmarsh-dev/crm-migrate/internal/progress"
	"github.com/dmarsh-dev/crm-migrate/internal/store"
	"github.com/dmarsh-dev/crm-migrate/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"batch_size", cfg.Migrate.BatchSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Apply pending schema migrations before accepting traffic
	if err := runMigrations(cfg); err != nil {
		slog.Error("failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Wire the migration engine
	bus := progress.NewBroadcaster()
	engine := migrate.NewEngine(store.New(pool), store.NewHistory(pool), bus, migrate.Config{
		BatchSize:    cfg.Migrate.BatchSize,
		SampleRows:   cfg.Migrate.SampleRows,
		BatchTimeout: cfg.Migrate.BatchTimeout,
	})

	// Create server with config
	server := web.NewServer(engine, bus, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop any in-flight migration at its next batch boundary.
		if err := engine.Abort(); err == nil {
			slog.Info("aborted in-flight migration")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		bus.Close()
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// runMigrations opens a short-lived database/sql connection for the
// migration tool and closes it before the pgx pool takes over.
func runMigrations(cfg *config.Config) error {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	return store.RunMigrations(db, cfg.Database.MigrationsPath)
}
