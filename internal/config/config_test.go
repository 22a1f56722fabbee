package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if got := s.GetDefault("engine", "depth", ""); got != "8" {
		t.Fatalf("default depth = %q, want 8", got)
	}
	if got := s.GetDefault("general", "move-key", ""); got != "m" {
		t.Fatalf("default move-key = %q, want m", got)
	}
}

func TestLoadNormalizesScalars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	raw := "engine:\n  depth: 12\n  hash: 256\ngeneral:\n  auto-play: false\nhumanization:\n  min-delay: 0.5\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.GetDefault("engine", "depth", ""); got != "12" {
		t.Fatalf("depth = %q, want 12", got)
	}
	if s.Bool("general", "auto-play", true) {
		t.Fatal("auto-play should parse as false")
	}
	if got, _ := s.Get("humanization", "min-delay"); got != "0.5" {
		t.Fatalf("min-delay = %q, want 0.5", got)
	}
	// Keys absent from the file keep their defaults.
	if got := s.Int("engine", "skill-level", -1); got != 20 {
		t.Fatalf("skill-level = %d, want default 20", got)
	}
}

func TestTypedAccessorFallbacks(t *testing.T) {
	s := newTestStore(t)

	s.Set("engine", "depth", "notanumber")
	if got := s.Int("engine", "depth", 8); got != 8 {
		t.Fatalf("Int on malformed = %d, want fallback 8", got)
	}
	s.Set("general", "arrow", "maybe")
	if got := s.Bool("general", "arrow", true); got != true {
		t.Fatal("Bool on malformed should fall back")
	}
	s.Set("general", "poll-interval", "1.5")
	if got := s.Seconds("general", "poll-interval", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("Seconds = %v, want 1.5s", got)
	}
	s.Set("general", "poll-interval", "-2")
	if got := s.Seconds("general", "poll-interval", time.Second); got != time.Second {
		t.Fatalf("Seconds on negative = %v, want fallback 1s", got)
	}
}

func TestKeyAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	raw := "general:\n  AutoPlay: \"false\"\n  MoveKey: x\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// fillDefaults adds the canonical keys, so the file's alias values must
	// still win through GetWithAliases ordering chosen by the caller.
	if got := s.GetWithAliases("general", []string{"AutoPlay", "auto-play"}, "true"); got != "false" {
		t.Fatalf("alias lookup = %q, want false", got)
	}
	if got := s.GetWithAliases("general", []string{"MoveKey", "move-key"}, "m"); got != "x" {
		t.Fatalf("alias lookup = %q, want x", got)
	}
	if got := s.GetWithAliases("general", []string{"missing", "also-missing"}, "fb"); got != "fb" {
		t.Fatalf("alias fallback = %q, want fb", got)
	}
}

func TestDelayRange(t *testing.T) {
	s := newTestStore(t)

	min, max := s.DelayRange("thinking")
	if min != 1.0 || max != 3.5 {
		t.Fatalf("thinking range = [%v,%v], want [1,3.5]", min, max)
	}
	s.Set("humanization", "moving-min-delay", "2.0")
	s.Set("humanization", "moving-max-delay", "0.5")
	min, max = s.DelayRange("moving")
	if max < min {
		t.Fatalf("inverted range not clamped: [%v,%v]", min, max)
	}
	s.Set("humanization", "min-delay", "garbage")
	min, _ = s.DelayRange("")
	if min != 0.8 {
		t.Fatalf("malformed min = %v, want default 0.8", min)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Set("engine", "depth", "15")
	s.Set("custom", "key", "value")
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := New(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.GetDefault("engine", "depth", ""); got != "15" {
		t.Fatalf("depth after round trip = %q, want 15", got)
	}
	if got := reloaded.GetDefault("custom", "key", ""); got != "value" {
		t.Fatalf("custom key lost: %q", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := newTestStore(t)
	snap := s.Snapshot()
	snap["engine"]["depth"] = "99"
	if got := s.GetDefault("engine", "depth", ""); got != "8" {
		t.Fatalf("snapshot mutation leaked into store: depth=%q", got)
	}
}
