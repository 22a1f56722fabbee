package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotAuthenticated means cookie sign-in did not produce a recognized
// session. The operator has to refresh the jar from a real login.
var ErrNotAuthenticated = errors.New("cookie sign-in failed")

// Time the site gets to pick the injected session up after a reload.
const cookieApplyWait = 2 * time.Second

// CookieAuth restores a signed-in state from cookies captured during a
// previous authenticated session. There is no interactive fallback.
type CookieAuth struct {
	session *Session
	logger  *zap.Logger
}

// NewCookieAuth builds the board.Authenticator used by the game manager.
func NewCookieAuth(session *Session, logger *zap.Logger) *CookieAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CookieAuth{session: session, logger: logger}
}

// EnsureAuthenticated makes the current page a signed-in one. An already
// recognized session is kept as is; otherwise the jar is injected and the
// page reloaded. Stale cookies are cleared so the next run starts clean.
func (a *CookieAuth) EnsureAuthenticated(ctx context.Context) error {
	if a.session.LoggedIn(ctx) {
		a.logger.Info("signed_in", zap.String("method", "existing_session"))
		a.refreshJar()
		return nil
	}

	loaded, err := a.session.LoadCookies()
	if err != nil {
		return fmt.Errorf("load cookies: %w", err)
	}
	if !loaded {
		return fmt.Errorf("%w: no saved cookies", ErrNotAuthenticated)
	}

	if err := a.session.Reload(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cookieApplyWait):
	}

	if !a.session.LoggedIn(ctx) {
		if err := a.session.ClearCookies(); err != nil {
			a.logger.Debug("cookie_clear_failed", zap.Error(err))
		}
		return fmt.Errorf("%w: saved cookies rejected", ErrNotAuthenticated)
	}

	a.logger.Info("signed_in", zap.String("method", "cookies"))
	a.refreshJar()
	return nil
}

// refreshJar re-saves the live cookies so rotated session tokens are not
// lost between runs.
func (a *CookieAuth) refreshJar() {
	if err := a.session.SaveCookies(); err != nil {
		a.logger.Debug("cookie_save_failed", zap.Error(err))
	}
}
