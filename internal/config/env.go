package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Env is the bootstrap-time wiring configuration, read once from the
// environment. Game tunables live in the file-backed Store instead so they
// can be hot-reloaded.
type Env struct {
	EnginePath string
	ConfigPath string
	GameURL    string
	Headless   bool

	RedisURL    string
	DatabaseURL string
	StatsPath   string

	ObserverMode    string
	ObserverPushURL string
	ObserverWSURL   string

	CookiesPath string
	DebugDir    string
	Keyboard    bool
}

// Observer delivery modes.
const (
	ObserverModeLog  = "log"
	ObserverModeHTTP = "http"
	ObserverModeWS   = "ws"
	ObserverModeAuto = "auto"
)

// LoadEnv reads and validates the process environment.
func LoadEnv() (*Env, error) {
	env := &Env{
		ConfigPath:   "autopilot.yaml",
		Headless:     true,
		StatsPath:    filepath.Join("stats", "matches.json"),
		ObserverMode: ObserverModeLog,
		CookiesPath:  filepath.Join("deps", "cookies.json"),
		DebugDir:     "debug",
		Keyboard:     true,
	}

	env.EnginePath = strings.TrimSpace(os.Getenv("ENGINE_PATH"))
	env.GameURL = strings.TrimSpace(os.Getenv("GAME_URL"))
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		env.ConfigPath = v
	}
	if v := strings.TrimSpace(os.Getenv("HEADLESS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			env.Headless = b
		}
	}

	env.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	env.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("STATS_PATH")); v != "" {
		env.StatsPath = v
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("OBSERVER_MODE"))); v != "" {
		env.ObserverMode = v
	}
	env.ObserverPushURL = strings.TrimSpace(os.Getenv("OBSERVER_PUSH_URL"))
	env.ObserverWSURL = strings.TrimSpace(os.Getenv("OBSERVER_WS_URL"))

	if v := strings.TrimSpace(os.Getenv("COOKIES_PATH")); v != "" {
		env.CookiesPath = v
	}
	if v := strings.TrimSpace(os.Getenv("DEBUG_DIR")); v != "" {
		env.DebugDir = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYBOARD")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			env.Keyboard = b
		}
	}

	if env.EnginePath == "" {
		return nil, errors.New("ENGINE_PATH is required")
	}
	if env.GameURL == "" {
		return nil, errors.New("GAME_URL is required")
	}
	switch env.ObserverMode {
	case ObserverModeLog:
	case ObserverModeHTTP:
		if env.ObserverPushURL == "" {
			return nil, errors.New("OBSERVER_PUSH_URL is required for OBSERVER_MODE=http")
		}
	case ObserverModeWS:
		if env.ObserverWSURL == "" {
			return nil, errors.New("OBSERVER_WS_URL is required for OBSERVER_MODE=ws")
		}
	case ObserverModeAuto:
		if env.ObserverPushURL == "" && env.ObserverWSURL == "" {
			return nil, errors.New("OBSERVER_MODE=auto needs OBSERVER_PUSH_URL or OBSERVER_WS_URL")
		}
	default:
		return nil, errors.New("OBSERVER_MODE must be log, http, ws or auto")
	}

	return env, nil
}
