package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRecoveries    = 3
	defaultRecoveryCooldown = 5 * time.Minute
)

// SessionController is the slice of the browser session the recovery
// manager needs: a health probe and a restart.
type SessionController interface {
	Healthy(ctx context.Context) bool
	Restart(ctx context.Context) error
}

// RecoveryManager bounds session restarts: at most maxAttempts inside one
// cooldown window, after which recovery is refused until the window ages
// out. A successful recovery clears the count.
type RecoveryManager struct {
	session  SessionController
	max      int
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	attempts int
	windowAt time.Time
}

type RecoveryOption func(*RecoveryManager)

func WithMaxRecoveries(n int) RecoveryOption {
	return func(m *RecoveryManager) {
		if n > 0 {
			m.max = n
		}
	}
}

func WithRecoveryCooldown(d time.Duration) RecoveryOption {
	return func(m *RecoveryManager) {
		if d > 0 {
			m.cooldown = d
		}
	}
}

func withRecoveryClock(now func() time.Time) RecoveryOption {
	return func(m *RecoveryManager) { m.now = now }
}

func NewRecoveryManager(session SessionController, logger *zap.Logger, opts ...RecoveryOption) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RecoveryManager{
		session:  session,
		max:      defaultMaxRecoveries,
		cooldown: defaultRecoveryCooldown,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover restarts the session if allowed. It returns true when the
// session is healthy afterwards, false when the attempt budget is spent or
// the restart failed.
func (m *RecoveryManager) Recover(ctx context.Context) bool {
	if !m.begin() {
		return false
	}

	m.logger.Warn("session_recovery_start", zap.Int("attempt", m.Attempts()))
	if err := m.session.Restart(ctx); err != nil {
		m.logger.Error("session_recovery_failed", zap.Error(err))
		return false
	}
	if !m.session.Healthy(ctx) {
		m.logger.Error("session_recovery_unhealthy")
		return false
	}

	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.logger.Info("session_recovery_ok")
	return true
}

// begin charges one attempt against the current window, opening a fresh
// window when the previous one has aged past the cooldown.
func (m *RecoveryManager) begin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.attempts > 0 && now.Sub(m.windowAt) >= m.cooldown {
		m.attempts = 0
	}
	if m.attempts >= m.max {
		m.logger.Warn("session_recovery_exhausted",
			zap.Int("attempts", m.attempts),
			zap.Duration("cooldown", m.cooldown))
		return false
	}
	if m.attempts == 0 {
		m.windowAt = now
	}
	m.attempts++
	return true
}

// Attempts reports how many recoveries the current window has consumed.
func (m *RecoveryManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
