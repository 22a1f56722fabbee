package app

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/stats"
)

func TestBuildStoreFileFallback(t *testing.T) {
	env := &config.Env{StatsPath: filepath.Join(t.TempDir(), "matches.json")}
	store, err := buildStore(context.Background(), env, zap.NewNop())
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*stats.FileStore); !ok {
		t.Fatalf("empty URLs should select the file store, got %T", store)
	}
}

func TestBuildStoreRejectsBadRedisURL(t *testing.T) {
	env := &config.Env{RedisURL: "://not-a-url"}
	if _, err := buildStore(context.Background(), env, zap.NewNop()); err == nil {
		t.Fatalf("malformed redis url should fail")
	}
}

func TestBuildTriggerDisabled(t *testing.T) {
	cfg := newTestStore(t)
	env := &config.Env{Keyboard: false}
	if trigger := buildTrigger(context.Background(), env, cfg, zap.NewNop()); trigger != nil {
		t.Fatalf("keyboard off should yield no trigger")
	}
}

func TestBuildTriggerKeyFollowsConfig(t *testing.T) {
	cfg := newTestStore(t)
	env := &config.Env{Keyboard: true}
	trigger := buildTrigger(context.Background(), env, cfg, zap.NewNop())
	if trigger == nil {
		t.Fatalf("keyboard on should yield a trigger")
	}
	defer trigger.Close()
	// Start may fail without a TTY; the trigger must still exist so the
	// config subscription and Arm path keep working.
	trigger.Arm()
	if !trigger.Consume() {
		t.Fatalf("armed trigger should consume once")
	}
	if trigger.Consume() {
		t.Fatalf("consume must be one-shot")
	}
}

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	cfg, err := config.New(filepath.Join(t.TempDir(), "autopilot.yaml"), zap.NewNop())
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	return cfg
}
