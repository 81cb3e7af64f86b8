package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"tradejournal/internal/api"
	"tradejournal/internal/auth"
	"tradejournal/internal/backend"
	"tradejournal/internal/backend/postgres"
	"tradejournal/internal/backend/sqlite"
	"tradejournal/internal/config"
	"tradejournal/internal/logging"
	"tradejournal/internal/metrics"
)

var getppid = os.Getppid
var sleep = time.Sleep
var exit = os.Exit

func main() {
	var configPath string
	var dataDir string
	var port int
	var host string

	flag.StringVar(&configPath, "config", "", "Path to the config file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for storing database and logs")
	flag.IntVar(&port, "port", -1, "Port to run the server on (default from config)")
	flag.StringVar(&host, "host", "", "Host to bind the server to (default from config)")
	flag.Parse()

	if dataDir != "" {
		config.SetRuntimeDataDir(dataDir)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if port >= 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
	config.SetRuntimePort(cfg.Server.Port)

	logDir := cfg.Log.Dir
	if logDir == "" {
		resolvedDataDir, err := config.GetDataDir()
		if err != nil {
			slog.Error("failed to resolve data directory", "err", err)
			os.Exit(1)
		}
		logDir = filepath.Join(resolvedDataDir, "logs")
	}
	logger, writer, err := logging.NewLogger(logging.Options{
		Dir:     logDir,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "journal-server",
	})
	if err != nil {
		slog.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close log writer", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "err", err)
		}
	}()

	verifier, err := newVerifier(ctx, cfg.Auth, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "mode", cfg.Auth.Mode, "err", err)
		os.Exit(1)
	}

	if os.Getenv("TRADEJOURNAL_PARENT_WATCH") == "1" {
		go watchParent(logger)
	}

	handler := api.NewRouter(backend.NewService(store, logger), api.Options{
		Verifier:       verifier,
		Logger:         logger,
		Metrics:        metrics.New(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingIntervalDuration(),
	})
	handler = middleware.Compress(5)(handler)

	addr := cfg.Server.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", addr, "storage", cfg.Storage.Driver, "auth", cfg.Auth.Mode)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Info("server shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
}

// openStore opens the trade store selected by the storage section.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (backend.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return backend.NewMemoryStore(logger), nil
	case config.DriverPostgres:
		pool := postgres.PoolConfigFromEnv()
		if cfg.MaxConns > 0 {
			pool.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			pool.MinConns = cfg.MinConns
		}
		store, err := postgres.Open(ctx, postgres.Options{
			DatabaseURL: cfg.PostgresURL,
			Pool:        pool,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite, "":
		dbPath, err := config.GetDBPath(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		store, err := sqlite.OpenWithOptions(sqlite.Options{DBPath: dbPath, Logger: logger})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// newVerifier builds the bearer token verifier selected by the auth section.
func newVerifier(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (auth.Verifier, error) {
	switch cfg.Mode {
	case config.AuthFirebase:
		if cfg.FirebaseCredentials == "" {
			return nil, errors.New("auth.firebase_credentials is required")
		}
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.FirebaseCredentials)
		if err != nil {
			return nil, err
		}
		return verifier, nil
	case config.AuthStatic, "":
		if len(cfg.Tokens) == 0 {
			logger.Warn("no static tokens configured; every trade request will be rejected")
		}
		return auth.StaticTokens(cfg.Tokens), nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
}

func watchParent(logger *slog.Logger) {
	for {
		sleep(1 * time.Second)
		if getppid() == 1 {
			logger.Info("parent process exited; shutting down")
			exit(0)
		}
	}
}
