// Package app assembles the process: bootstrap environment plus config
// store in, a ready-to-run game manager and its supporting services out.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/browser"
	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/engine"
	"github.com/park285/chess-autopilot/internal/game"
	"github.com/park285/chess-autopilot/internal/humanize"
	"github.com/park285/chess-autopilot/internal/input"
	"github.com/park285/chess-autopilot/internal/msgcat"
	"github.com/park285/chess-autopilot/internal/notify"
	"github.com/park285/chess-autopilot/internal/resilience"
	"github.com/park285/chess-autopilot/internal/stats"
)

const redisPingTimeout = 5 * time.Second

// Deps holds every component main needs a handle on. Close releases them
// in reverse construction order.
type Deps struct {
	Manager    *game.Manager
	Dispatcher *notify.Dispatcher
	Engine     *engine.Client
	Session    *browser.Session
	Trigger    *input.Trigger
	Store      stats.Store

	logger *zap.Logger
}

// New builds the full dependency graph. The context bounds slow startup
// work (browser install, store pings) and feeds long-lived goroutines
// like the dispatcher and the keyboard listener.
func New(ctx context.Context, env *config.Env, cfg *config.Store, logger *zap.Logger) (*Deps, error) {
	if env == nil {
		return nil, fmt.Errorf("nil env")
	}
	if cfg == nil {
		return nil, fmt.Errorf("nil config store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	delays := humanize.New(cfg, logger)

	catalog, err := msgcat.New("")
	if err != nil {
		return nil, fmt.Errorf("load message catalog: %w", err)
	}

	store, err := buildStore(ctx, env, logger)
	if err != nil {
		return nil, fmt.Errorf("init stats store: %w", err)
	}
	tracker := stats.NewTracker(store, logger)

	engineClient, err := engine.NewClient(env.EnginePath, cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	session := browser.NewSession(browser.Options{
		Headless:    env.Headless,
		CookiesPath: env.CookiesPath,
		Logger:      logger,
	})
	if err := session.Start(ctx); err != nil {
		engineClient.Close()
		store.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	driver := browser.NewDriver(session, delays, logger)
	auth := browser.NewCookieAuth(session, logger)
	capture := browser.NewCapture(session, env.DebugDir, logger)
	if err := capture.Prepare(); err != nil {
		logger.Warn("debug_dir_unavailable", zap.String("dir", env.DebugDir), zap.Error(err))
	}

	trigger := buildTrigger(ctx, env, cfg, logger)

	dispatcher := notify.BuildDispatcher(ctx, env, catalog, logger)

	res := resilience.NewSet(logger, board.IsTransient)
	recovery := resilience.NewRecoveryManager(session, logger)

	gameDeps := game.Deps{
		Config:     cfg,
		Board:      driver,
		Engine:     engineClient,
		Delays:     delays,
		Tracker:    tracker,
		Resilience: res,
		Auth:       auth,
		Debug:      capture,
		Nav:        session,
		Session:    session,
		Recovery:   recovery,
		Publish:    dispatcher.Publish,
		Logger:     logger,
		TargetURL:  env.GameURL,
	}
	if trigger != nil {
		gameDeps.Trigger = trigger
	}
	manager, err := game.NewManager(gameDeps)
	if err != nil {
		dispatcher.Close()
		if trigger != nil {
			trigger.Close()
		}
		session.Close()
		engineClient.Close()
		store.Close()
		return nil, fmt.Errorf("init game manager: %w", err)
	}

	return &Deps{
		Manager:    manager,
		Dispatcher: dispatcher,
		Engine:     engineClient,
		Session:    session,
		Trigger:    trigger,
		Store:      store,
		logger:     logger,
	}, nil
}

// buildStore picks the stats backend: Postgres when DATABASE_URL is set,
// then Redis, falling back to the JSON file store.
func buildStore(ctx context.Context, env *config.Env, logger *zap.Logger) (stats.Store, error) {
	if strings.TrimSpace(env.DatabaseURL) != "" {
		store, err := stats.NewPostgresStore(env.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		logger.Info("stats_store", zap.String("backend", "postgres"))
		return store, nil
	}

	if strings.TrimSpace(env.RedisURL) != "" {
		opts, err := redis.ParseURL(env.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("stats_store", zap.String("backend", "redis"))
		return stats.NewRedisStore(rdb, logger), nil
	}

	store, err := stats.NewFileStore(env.StatsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open stats file: %w", err)
	}
	logger.Info("stats_store", zap.String("backend", "file"), zap.String("path", env.StatsPath))
	return store, nil
}

// buildTrigger wires the manual-mode keyboard listener, or returns nil
// when the operator disabled it. The config subscription keeps the bound
// key live across reloads.
func buildTrigger(ctx context.Context, env *config.Env, cfg *config.Store, logger *zap.Logger) *input.Trigger {
	if !env.Keyboard {
		return nil
	}
	key := cfg.GetDefault("general", "move-key", "m")
	trigger := input.NewTrigger(key, logger)
	if err := trigger.Start(ctx); err != nil {
		// No TTY, e.g. under a service manager. Manual mode then needs
		// the observer's acknowledge path or autoplay.
		logger.Warn("keyboard_unavailable", zap.Error(err))
	}
	cfg.Subscribe("trigger-move-key", func(config.Change) {
		trigger.SetKey(cfg.GetDefault("general", "move-key", "m"))
	})
	return trigger
}

// Close tears the process down in reverse construction order.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Trigger != nil {
		d.Trigger.Close()
	}
	if d.Dispatcher != nil {
		if err := d.Dispatcher.Close(); err != nil {
			d.logger.Warn("dispatcher_close_failed", zap.Error(err))
		}
	}
	if d.Session != nil {
		if err := d.Session.Close(); err != nil {
			d.logger.Warn("browser_close_failed", zap.Error(err))
		}
	}
	if d.Engine != nil {
		if err := d.Engine.Close(); err != nil {
			d.logger.Warn("engine_close_failed", zap.Error(err))
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.logger.Warn("stats_close_failed", zap.Error(err))
		}
	}
}
