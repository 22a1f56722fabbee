// Package obslog wires the process-wide zap logger. Output goes to the
// console, an append-only file, or both, controlled by LOG_* variables so
// deployments can switch formats without touching the config file.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatLegacy  = "legacy"
	FormatConsole = "console"
	FormatJSON    = "json"
)

var globalLogger = zap.NewNop()

// L returns the process-wide logger. It is a nop until Init runs.
func L() *zap.Logger { return globalLogger }

// Settings captures one logger configuration. FromEnv fills it from the
// environment; tests can build it directly.
type Settings struct {
	Level      zapcore.Level
	Format     string
	Console    bool
	File       bool
	FilePath   string
	ShowCaller bool
}

// FromEnv assembles Settings from LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE,
// LOG_TO_FILE, LOG_FILE and LOG_CALLER. Unrecognized values fall back to
// the defaults rather than failing startup.
func FromEnv() Settings {
	s := Settings{
		Level:      zapcore.InfoLevel,
		Format:     normalizeFormat(envOr("LOG_FORMAT", FormatLegacy)),
		Console:    envBool("LOG_TO_CONSOLE", true),
		File:       envBool("LOG_TO_FILE", true),
		FilePath:   envOr("LOG_FILE", filepath.Join("logs", "autopilot.log")),
		ShowCaller: envBool("LOG_CALLER", false),
	}
	raw := strings.ToLower(strings.TrimSpace(envOr("LOG_LEVEL", "info")))
	if raw == "warning" {
		raw = "warn"
	}
	if lvl, err := zapcore.ParseLevel(raw); err == nil {
		s.Level = lvl
	}
	return s
}

// InitFromEnv is the main-path shortcut: parse the environment, then Init.
func InitFromEnv() error { return Init(FromEnv()) }

// Init replaces the global logger. With both outputs disabled a console
// core is kept anyway so errors are never silently dropped.
func Init(s Settings) error {
	var cores []zapcore.Core
	if s.Console {
		cores = append(cores, zapcore.NewCore(newEncoder(s.Format), zapcore.Lock(os.Stdout), s.Level))
	}
	if s.File {
		sink, err := openLogFile(s.FilePath)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(newEncoder(s.Format), sink, s.Level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(newEncoder(s.Format), zapcore.Lock(os.Stdout), s.Level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	// The legacy format always carries the caller; its lines are grepped
	// by site, not by structured field.
	if s.ShowCaller || s.Format == FormatLegacy {
		opts = append(opts, zap.AddCaller())
	}
	globalLogger = zap.New(zapcore.NewTee(cores...), opts...)
	return nil
}

// Sync flushes buffered entries on shutdown. Stdout sync errors are
// expected on some platforms and ignored.
func Sync() { _ = globalLogger.Sync() }

func openLogFile(path string) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.AddSync(f), nil
}

func normalizeFormat(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case FormatJSON:
		return FormatJSON
	case FormatConsole:
		return FormatConsole
	default:
		return FormatLegacy
	}
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	switch format {
	case FormatJSON:
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case FormatConsole:
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true")
}
