package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/config"
	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/JonMunkholm/bridgette/internal/logging"
	"github.com/JonMunkholm/bridgette/internal/spool"
	"github.com/JonMunkholm/bridgette/internal/staging"
	"github.com/JonMunkholm/bridgette/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
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

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration", "config", cfg.String())

	baseURL, err := backendURL(cfg)
	if err != nil {
		slog.Error("failed to resolve backend URL", "error", err)
		os.Exit(1)
	}
	client, err := backend.New(backend.Config{BaseURL: baseURL, Timeout: cfg.Backend.Timeout})
	if err != nil {
		slog.Error("failed to create backend client", "error", err)
		os.Exit(1)
	}

	spoolDir := cfg.Staging.SpoolDir
	if spoolDir == "" {
		spoolDir = filepath.Join(os.TempDir(), "bridgette-spool")
	}
	sp, err := spool.New(spoolDir)
	if err != nil {
		slog.Error("failed to open spool", "dir", spoolDir, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	history, closeHistory, err := openHistory(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open submission history", "error", err)
		os.Exit(1)
	}
	defer closeHistory()

	mode, err := staging.ParseMode(cfg.Staging.Mode)
	if err != nil {
		slog.Error("invalid staging mode", "error", err)
		os.Exit(1)
	}
	registry := staging.DefaultRegistry(mode, cfg.Staging.MaxFileSize.Bytes())
	service, err := core.NewService(core.Config{
		Registry:                 registry,
		Backend:                  client,
		Spool:                    sp,
		History:                  history,
		MaxConcurrentSubmissions: cfg.Submit.MaxConcurrent,
		MaxWaitTime:              cfg.Submit.MaxWaitTime,
		SubmitTimeout:            cfg.Submit.Timeout,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"backend", client.BaseURL(),
		"mode", mode,
		"slots", len(registry.Slots()),
		"spool", sp.Dir(),
		"submit_max_concurrent", cfg.Submit.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartSweepScheduler(jobCtx, core.SweepConfig{
		SessionTTL:       cfg.Staging.SessionTTL,
		Interval:         cfg.Staging.SweepInterval,
		HistoryRetention: cfg.Database.HistoryRetention,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Submissions outlive their requests, so wait for them first.
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for submissions to complete", "active", status.Active)
			if err := service.WaitForSubmissions(shutdownCtx); err != nil {
				slog.Warn("submissions did not complete in time", "error", err)
			} else {
				slog.Info("all submissions completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// backendURL returns BACKEND_URL when set, otherwise the address resolved
// from the public page URL (or this server's local address).
func backendURL(cfg *config.Config) (string, error) {
	if cfg.Backend.URL != "" {
		return cfg.Backend.URL, nil
	}
	page := cfg.Backend.PublicURL
	if page == "" {
		page = "http://localhost:" + strconv.Itoa(cfg.Server.Port)
	}
	return backend.ResolveBaseURL(page, cfg.Backend.LocalPort)
}

// openHistory connects to Postgres when a database URL is configured and
// falls back to in-memory history otherwise.
func openHistory(ctx context.Context, cfg config.DatabaseConfig) (core.HistoryStore, func(), error) {
	if cfg.URL == "" {
		slog.Info("no database configured, keeping submission history in memory")
		return core.NewMemoryHistory(0), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	history := core.NewPgHistory(pool)
	if err := history.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return history, pool.Close, nil
}
