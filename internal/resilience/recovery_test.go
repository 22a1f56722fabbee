package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSession struct {
	healthy    bool
	restartErr error
	restarts   int
}

func (s *fakeSession) Healthy(context.Context) bool { return s.healthy }
func (s *fakeSession) Restart(context.Context) error {
	s.restarts++
	if s.restartErr != nil {
		return s.restartErr
	}
	s.healthy = true
	return nil
}

func TestRecoverySucceeds(t *testing.T) {
	sess := &fakeSession{}
	m := NewRecoveryManager(sess, zap.NewNop())
	if !m.Recover(context.Background()) {
		t.Fatalf("expected recovery to succeed")
	}
	if sess.restarts != 1 {
		t.Fatalf("expected one restart, got %d", sess.restarts)
	}
	if m.Attempts() != 0 {
		t.Fatalf("success must clear the attempt count, got %d", m.Attempts())
	}
}

func TestRecoveryBudgetExhausted(t *testing.T) {
	sess := &fakeSession{restartErr: errors.New("launch failed")}
	clock := &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewRecoveryManager(sess, zap.NewNop(),
		WithMaxRecoveries(3), WithRecoveryCooldown(5*time.Minute), withRecoveryClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if m.Recover(ctx) {
			t.Fatalf("attempt %d: restart error should fail recovery", i+1)
		}
	}
	if sess.restarts != 3 {
		t.Fatalf("expected 3 restart attempts, got %d", sess.restarts)
	}

	// Fourth attempt inside the window is refused without touching the session.
	if m.Recover(ctx) {
		t.Fatalf("expected refusal after budget spent")
	}
	if sess.restarts != 3 {
		t.Fatalf("refused recovery must not restart, got %d", sess.restarts)
	}
}

func TestRecoveryWindowAgesOut(t *testing.T) {
	sess := &fakeSession{restartErr: errors.New("launch failed")}
	clock := &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewRecoveryManager(sess, zap.NewNop(),
		WithMaxRecoveries(3), WithRecoveryCooldown(5*time.Minute), withRecoveryClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Recover(ctx)
	}
	if m.Recover(ctx) {
		t.Fatalf("expected refusal inside cooldown")
	}

	clock.Advance(5 * time.Minute)
	sess.restartErr = nil
	if !m.Recover(ctx) {
		t.Fatalf("expected fresh window after cooldown")
	}
	if sess.restarts != 4 {
		t.Fatalf("expected 4 restarts, got %d", sess.restarts)
	}
}

// stubbornSession restarts without error but never reports healthy.
type stubbornSession struct{}

func (stubbornSession) Healthy(context.Context) bool  { return false }
func (stubbornSession) Restart(context.Context) error { return nil }

func TestRecoveryUnhealthyAfterRestart(t *testing.T) {
	m := NewRecoveryManager(stubbornSession{}, zap.NewNop())
	if m.Recover(context.Background()) {
		t.Fatalf("unhealthy session must fail recovery")
	}
	if m.Attempts() != 1 {
		t.Fatalf("failed recovery still burns an attempt, got %d", m.Attempts())
	}
}
