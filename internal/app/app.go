// Package app wires config, storage, the breed catalog and the engine into
// a ready-to-use service.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spycats/internal/breeds"
	"spycats/internal/config"
	"spycats/internal/db"
	"spycats/internal/engine"
	"spycats/internal/metrics"
	"spycats/internal/migrate"
	"spycats/internal/webhooks"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Dialect db.Dialect
	Engine  engine.Engine
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Open connects to the configured database, applies migrations and builds
// the engine. The caller owns the returned App and must Close it.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger, err := NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, err
	}
	dialect := db.DialectFor(cfg.Database.Driver)
	applied, err := migrate.Migrate(ctx, conn, dialect)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		logger.Info("migrations applied", zap.Int("count", applied), zap.String("driver", dialect.Driver))
	}
	m := metrics.New()
	e := engine.New(conn, dialect, NewCatalog(cfg.Breeds, logger, m))
	e.Logger = logger
	e.Metrics = m
	return &App{
		Config:  cfg,
		DB:      conn,
		Dialect: dialect,
		Engine:  e,
		Logger:  logger,
		Metrics: m,
	}, nil
}

// Webhooks returns a dispatcher for the configured hooks.
func (a *App) Webhooks() *webhooks.Dispatcher {
	return webhooks.New(a.Engine.Repo, a.Config.Webhooks, a.Logger.Named("webhooks"))
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.DB.Close()
}

// NewCatalog picks the static catalog when breeds are listed in config and
// the HTTP catalog otherwise.
func NewCatalog(cfg config.BreedsConfig, logger *zap.Logger, m *metrics.Metrics) breeds.Catalog {
	if len(cfg.Static) > 0 {
		return breeds.NewStatic(cfg.Static...)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breeds.HTTPCatalog{
		URL:     cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
		Logger:  logger.Named("breeds"),
		Metrics: m,
	}
}

// NewLogger builds a production JSON logger, or a development console logger
// when format is "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}
