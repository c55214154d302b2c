package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skillswap/internal/config"
	"skillswap/internal/db"
	"skillswap/internal/engine"
	"skillswap/internal/metrics"
	"skillswap/internal/migrate"
	"skillswap/internal/server"
)

const dispatcherDrainTimeout = 5 * time.Second

type Options struct {
	Workspace string
	// LogLevel overrides log.level from the config file when set.
	LogLevel string
	// Logger replaces the logger built from the level.
	Logger *zap.Logger
}

// Runtime holds the opened store and the engine wired to it.
type Runtime struct {
	Conn       *sql.DB
	Config     *config.Config
	Engine     engine.Engine
	Log        *zap.Logger
	Metrics    *metrics.Manager
	Dispatcher *server.WebhookDispatcher
}

// Open loads config from the workspace (defaults when absent), opens and
// migrates the database and builds the engine. Configured webhooks become the
// engine's notification sink.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log, err = NewLogger(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m := metrics.NewManager()
	e := engine.New(conn, cfg)
	e.Log = log
	e.Metrics = m
	rt := &Runtime{Conn: conn, Config: cfg, Engine: e, Log: log, Metrics: m}
	if len(cfg.Webhooks) > 0 {
		rt.Dispatcher = server.NewWebhookDispatcher(cfg.Webhooks,
			server.WithDispatcherLogger(log), server.WithDispatcherMetrics(m))
		rt.Engine.Sink = rt.Dispatcher
	}
	return rt, nil
}

// Close drains pending webhook deliveries and closes the database.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
		errs = append(errs, rt.Dispatcher.Close(ctx))
		cancel()
	}
	errs = append(errs, rt.Conn.Close())
	_ = rt.Log.Sync()
	return errors.Join(errs...)
}

// NewLogger builds a production zap logger at level. An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		lvl = parsed
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
