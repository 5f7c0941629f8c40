package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nafkem/LansRealEstate/internal/config"
	"github.com/nafkem/LansRealEstate/internal/database"
	"github.com/nafkem/LansRealEstate/internal/ignition"
	"github.com/nafkem/LansRealEstate/internal/lock"
	"github.com/nafkem/LansRealEstate/internal/modules"
	"github.com/nafkem/LansRealEstate/internal/repository"
)

// app holds what every command needs after configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	repo   repository.Repository
	locker lock.Locker

	db    *database.Postgres
	redis *database.Redis
}

// loadConfig reads and validates configuration using the global flags.
func loadConfig() (*config.Config, error) {
	opts := config.DefaultOptions()
	if envFile != "" {
		opts.EnvFiles = []string{envFile}
	}
	if configDir != "" {
		opts.ConfigPaths = []string{configDir}
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. DEBUG=true forces debug level.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newApp loads configuration and opens the journal store. PostgreSQL is used
// when a DSN is configured, the deployments directory otherwise. Redis, when
// configured, provides the deploy lock.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, locker: lock.Noop{}}

	if cfg.Database.DSN != "" {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.repo = repository.NewPostgresRepository(db.Pool())
		logger.Debug("using PostgreSQL journal")
	} else {
		a.repo = repository.NewFileRepository(cfg.Paths.Deployments)
		logger.Debug("using file journal", slog.String("dir", cfg.Paths.Deployments))
	}

	if cfg.Redis.Addr != "" {
		r, err := database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = r
		a.locker = lock.NewRedisLocker(r.Client(), cfg.Deploy.LockTTL)
		logger.Debug("using Redis deploy lock", slog.String("addr", cfg.Redis.Addr))
	}

	return a, nil
}

// Close releases database connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", slog.String("error", err.Error()))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// network returns the selected network and its name.
func (a *app) network() (string, config.Network, error) {
	name := networkName
	if name == "" {
		name = a.cfg.DefaultNetwork
	}
	n, err := a.cfg.Network(name)
	return name, n, err
}

// selectedModule builds the module named by --module.
func selectedModule() (*ignition.Module, error) {
	build, ok := modules.Registry()[moduleID]
	if !ok {
		return nil, fmt.Errorf("unknown module %q", moduleID)
	}
	return build()
}
