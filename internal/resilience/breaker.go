package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBreakerOpen is returned without invoking the wrapped operation while
// the breaker is cooling down.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is the classic three-state machine.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards one class of external operation: consecutive failures up
// to the threshold trip it open, the cooldown gates a single half-open
// probe, and a probe success closes it again.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
}

func NewBreaker(name string, threshold int, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// Do runs op under the breaker. While open it fails fast with
// ErrBreakerOpen; the first call after the cooldown is the half-open probe.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		remaining := b.cooldown - b.now().Sub(b.lastFailure)
		if remaining > 0 {
			return fmt.Errorf("%s: %w, retry in %s", b.name, ErrBreakerOpen, remaining.Round(time.Second))
		}
		b.state = StateHalfOpen
		b.logger.Info("breaker_half_open", zap.String("breaker", b.name))
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed || b.failures > 0 {
			b.logger.Info("breaker_closed", zap.String("breaker", b.name))
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("breaker_reopened", zap.String("breaker", b.name), zap.Error(err))
	case b.failures >= b.threshold && b.state == StateClosed:
		b.state = StateOpen
		b.logger.Warn("breaker_opened",
			zap.String("breaker", b.name),
			zap.Int("failures", b.failures),
			zap.Duration("cooldown", b.cooldown),
			zap.Error(err))
	}
}

// State reports the current state without advancing the machine.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures reports the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed, clearing the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}
