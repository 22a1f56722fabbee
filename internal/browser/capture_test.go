package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"invalid_move_ply7", "invalid_move_ply7"},
		{"weird label!", "weird_label_"},
		{"  spaced  ", "spaced"},
		{"", "capture"},
		{"a/b\\c", "a_b_c"},
	}
	for _, c := range cases {
		if got := sanitizeLabel(c.in); got != c.want {
			t.Fatalf("sanitizeLabel(%q)=%q, want %q", c.in, got, c.want)
		}
	}
}

func TestCapturePrepareCleansDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := filepath.Join(dir, "old_capture.png")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	c := NewCapture(NewSession(Options{}), dir, nil)
	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale capture should be gone")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dir should be empty after Prepare, has %d entries", len(entries))
	}
}

func TestCaptureWithoutPageIsNoop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	c := NewCapture(NewSession(Options{}), dir, nil)
	c.Capture(context.Background(), "anything")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("capture without a live page should write nothing")
	}
}
