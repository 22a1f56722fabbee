// Package browser drives the real game UI through playwright. Session
// owns the browser lifecycle, Driver implements board.Controller against
// the site's DOM, CookieAuth restores a signed-in state from a saved
// cookie jar, and Capture dumps page state for post-mortems.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 720
	defaultTimeoutMs      = 30000.0

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Elements whose presence means the site recognizes our session.
var loginIndicators = []string{
	"#user_tag",
	".site-title .user",
	"[data-icon='H']",
	".dasher .toggle",
}

// Markers that only appear in the page source of a signed-in session.
var loginPageMarkers = []string{"logout", "preferences", "profile"}

// Options configures a Session.
type Options struct {
	Headless    bool
	UserAgent   string
	CookiesPath string
	Logger      *zap.Logger
}

// Session is the single live browser the bot plays through. It satisfies
// resilience.SessionController (Healthy, Restart) and game.Navigator
// (Navigate). All methods are safe for concurrent use.
type Session struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	lastURL string
}

// NewSession prepares a session; nothing is launched until Start.
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Session{opts: opts, logger: opts.Logger}
}

// Start installs the playwright runtime if needed and launches the
// browser, context and page. Calling Start on a live session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page != nil {
		return nil
	}
	if s.pw == nil {
		// Quiet install: driver download progress on stdout corrupts
		// any terminal UI sharing the process.
		runOpts := &playwright.RunOptions{
			Verbose: false,
			Stdout:  io.Discard,
			Stderr:  io.Discard,
		}
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("install playwright: %w", err)
		}
		pw, err := playwright.Run(runOpts)
		if err != nil {
			return fmt.Errorf("start playwright: %w", err)
		}
		s.pw = pw
	}
	return s.launchLocked()
}

func (s *Session) launchLocked() error {
	headless := s.opts.Headless
	browser, err := s.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	userAgent := s.opts.UserAgent
	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  defaultViewportWidth,
			Height: defaultViewportHeight,
		},
		UserAgent: &userAgent,
	}
	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return fmt.Errorf("create context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(defaultTimeoutMs)

	s.browser = browser
	s.context = browserCtx
	s.page = page
	return nil
}

// Page returns the live page handle, nil before Start or after Close.
// Callers must not cache it across a Restart.
func (s *Session) Page() playwright.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Navigate loads url and remembers it so a later Restart can return
// there.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page := s.Page()
	if page == nil {
		return board.ErrSessionLost
	}
	if err := gotoPage(page, url); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastURL = url
	s.mu.Unlock()
	return nil
}

// Reload refreshes the current page. Used after injecting cookies.
func (s *Session) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page := s.Page()
	if page == nil {
		return board.ErrSessionLost
	}
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	timeout := defaultTimeoutMs
	if _, err := page.Reload(playwright.PageReloadOptions{
		WaitUntil: &waitUntil,
		Timeout:   &timeout,
	}); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Healthy reports whether the page still answers a trivial probe. A
// false return means only a Restart can help.
func (s *Session) Healthy(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	page, browser := s.page, s.browser
	s.mu.Unlock()
	if page == nil || browser == nil {
		return false
	}
	if page.IsClosed() || !browser.IsConnected() {
		return false
	}
	if _, err := page.Title(); err != nil {
		return false
	}
	return true
}

// Restart tears the browser down and brings up a fresh one, reapplying
// saved cookies and returning to the last navigated URL so play can
// resume where it broke off.
func (s *Session) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pw == nil {
		return errors.New("session never started")
	}
	s.teardownLocked()
	if err := s.launchLocked(); err != nil {
		return err
	}
	if _, err := s.loadCookiesLocked(); err != nil {
		s.logger.Debug("cookie_reload_skipped", zap.Error(err))
	}
	if s.lastURL != "" {
		if err := gotoPage(s.page, s.lastURL); err != nil {
			return fmt.Errorf("restore %s: %w", s.lastURL, err)
		}
	}
	s.logger.Info("browser_restarted", zap.String("url", s.lastURL))
	return nil
}

// Close shuts everything down including the playwright runtime.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	if s.pw == nil {
		return nil
	}
	err := s.pw.Stop()
	s.pw = nil
	return err
}

func (s *Session) teardownLocked() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.context != nil {
		_ = s.context.Close()
		s.context = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
}

func gotoPage(page playwright.Page, url string) error {
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	timeout := defaultTimeoutMs
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   &timeout,
	}); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

// LoggedIn reports whether the site currently recognizes our session.
func (s *Session) LoggedIn(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	page := s.Page()
	if page == nil {
		return false
	}
	for _, sel := range loginIndicators {
		el, err := page.QuerySelector(sel)
		if err != nil || el == nil {
			continue
		}
		text, err := el.TextContent()
		if err == nil && strings.TrimSpace(text) != "" {
			return true
		}
	}
	source, err := page.Content()
	if err != nil {
		return false
	}
	source = strings.ToLower(source)
	for _, marker := range loginPageMarkers {
		if strings.Contains(source, marker) {
			return true
		}
	}
	return false
}

// storedCookie is the on-disk cookie format. Kept independent of the
// playwright types so the jar survives library upgrades.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HttpOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

func (c storedCookie) optional() playwright.OptionalCookie {
	oc := playwright.OptionalCookie{Name: c.Name, Value: c.Value}
	if c.Domain != "" {
		domain := c.Domain
		oc.Domain = &domain
	}
	if c.Path != "" {
		path := c.Path
		oc.Path = &path
	}
	if c.Expires != 0 {
		expires := c.Expires
		oc.Expires = &expires
	}
	httpOnly := c.HttpOnly
	oc.HttpOnly = &httpOnly
	secure := c.Secure
	oc.Secure = &secure
	switch strings.ToLower(c.SameSite) {
	case "strict":
		oc.SameSite = playwright.SameSiteAttributeStrict
	case "lax":
		oc.SameSite = playwright.SameSiteAttributeLax
	case "none":
		oc.SameSite = playwright.SameSiteAttributeNone
	}
	return oc
}

func sameSiteString(v *playwright.SameSiteAttribute) string {
	if v == nil {
		return ""
	}
	return string(*v)
}

// SaveCookies writes the live context's cookies to the configured jar.
// A session without a jar path saves nothing.
func (s *Session) SaveCookies() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.CookiesPath == "" || s.context == nil {
		return nil
	}
	cookies, err := s.context.Cookies()
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HttpOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSiteString(c.SameSite),
		})
	}
	return writeCookieFile(s.opts.CookiesPath, stored)
}

// LoadCookies injects the saved jar into the live context. The bool is
// false when no jar exists yet.
func (s *Session) LoadCookies() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCookiesLocked()
}

func (s *Session) loadCookiesLocked() (bool, error) {
	if s.opts.CookiesPath == "" || s.context == nil {
		return false, nil
	}
	stored, err := readCookieFile(s.opts.CookiesPath)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, nil
	}
	cookies := make([]playwright.OptionalCookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, c.optional())
	}
	if err := s.context.AddCookies(cookies); err != nil {
		return false, fmt.Errorf("add cookies: %w", err)
	}
	s.logger.Info("cookies_loaded", zap.Int("count", len(cookies)))
	return true, nil
}

// ClearCookies drops both the live cookies and the jar file, used when
// saved cookies turn out to be stale.
func (s *Session) ClearCookies() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.context != nil {
		if err := s.context.ClearCookies(); err != nil {
			return fmt.Errorf("clear cookies: %w", err)
		}
	}
	if s.opts.CookiesPath == "" {
		return nil
	}
	if err := os.Remove(s.opts.CookiesPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cookie jar: %w", err)
	}
	return nil
}

// readCookieFile returns nil with no error when the jar does not exist.
func readCookieFile(path string) ([]storedCookie, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookie jar: %w", err)
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse cookie jar: %w", err)
	}
	return stored, nil
}

func writeCookieFile(path string, cookies []storedCookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookie jar: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cookie dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cookie jar: %w", err)
	}
	return nil
}
