package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Capture persists a screenshot and the page HTML when the game loop
// hits something it cannot explain, such as an unparseable move.
type Capture struct {
	session *Session
	dir     string
	logger  *zap.Logger
}

// NewCapture builds the board.DebugCapture used across the game loop.
func NewCapture(session *Session, dir string, logger *zap.Logger) *Capture {
	if dir == "" {
		dir = "debug"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{session: session, dir: dir, logger: logger}
}

// Prepare creates the capture directory and drops captures left over
// from previous runs.
func (c *Capture) Prepare() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan debug dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			c.logger.Warn("debug_cleanup_failed", zap.String("file", entry.Name()), zap.Error(err))
		}
	}
	return nil
}

// Capture is best-effort: a failed snapshot only logs. Error handling in
// the caller must never depend on it.
func (c *Capture) Capture(ctx context.Context, label string) {
	if ctx.Err() != nil {
		return
	}
	page := c.session.Page()
	if page == nil || page.IsClosed() {
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warn("debug_dir_failed", zap.String("dir", c.dir), zap.Error(err))
		return
	}

	base := fmt.Sprintf("%s_%d", sanitizeLabel(label), time.Now().Unix())

	shotPath := filepath.Join(c.dir, base+".png")
	fullPage := true
	if _, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     &shotPath,
		FullPage: &fullPage,
	}); err != nil {
		c.logger.Warn("screenshot_failed", zap.String("label", label), zap.Error(err))
	}

	if html, err := page.Content(); err == nil {
		htmlPath := filepath.Join(c.dir, base+".html")
		if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
			c.logger.Warn("page_dump_failed", zap.String("label", label), zap.Error(err))
		}
	}

	c.logger.Info("debug_captured", zap.String("label", label), zap.String("dir", c.dir))
}

// sanitizeLabel keeps capture filenames filesystem-safe.
func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "capture"
	}
	var b strings.Builder
	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
