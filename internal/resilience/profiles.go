package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tuning per operation class. Session covers navigation and auth, element
// covers single DOM reads, move covers move submission.
const (
	sessionBreakerThreshold = 3
	sessionBreakerCooldown  = 120 * time.Second
	sessionRetryAttempts    = 3
	sessionRetryDelay       = 2 * time.Second
	sessionRetryFactor      = 1.5

	elementBreakerThreshold = 5
	elementBreakerCooldown  = 60 * time.Second
	elementRetryAttempts    = 2
	elementRetryDelay       = 500 * time.Millisecond
	elementRetryFactor      = 2.0

	moveBreakerThreshold = 7
	moveBreakerCooldown  = 30 * time.Second
	moveRetryAttempts    = 5
	moveRetryDelay       = 300 * time.Millisecond
	moveRetryFactor      = 1.2
)

// Profile pairs a breaker with a retry policy. The breaker sits outside:
// one Do call counts as a single breaker outcome no matter how many retry
// attempts it burned, and while open not even the first attempt runs.
type Profile struct {
	breaker *Breaker
	retry   Policy
	logger  *zap.Logger
}

func NewProfile(name string, breaker *Breaker, retry Policy, logger *zap.Logger) *Profile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profile{breaker: breaker, retry: retry, logger: logger}
}

// Do executes op with retries inside the breaker.
func (p *Profile) Do(ctx context.Context, opName string, op func(context.Context) error) error {
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return Retry(ctx, opName, p.retry, p.logger, op)
	})
}

// Breaker exposes the underlying breaker for health checks and resets.
func (p *Profile) Breaker() *Breaker { return p.breaker }

// Set bundles the three standard profiles.
type Set struct {
	Session *Profile
	Element *Profile
	Move    *Profile
}

// NewSet builds the standard profiles. retryable classifies errors worth
// retrying; nil means retry everything except context cancellation.
func NewSet(logger *zap.Logger, retryable func(error) bool) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{
		Session: NewProfile("session",
			NewBreaker("session", sessionBreakerThreshold, sessionBreakerCooldown, logger),
			Policy{
				MaxAttempts:  sessionRetryAttempts,
				InitialDelay: sessionRetryDelay,
				Factor:       sessionRetryFactor,
				Retryable:    retryable,
			}, logger),
		Element: NewProfile("element",
			NewBreaker("element", elementBreakerThreshold, elementBreakerCooldown, logger),
			Policy{
				MaxAttempts:  elementRetryAttempts,
				InitialDelay: elementRetryDelay,
				Factor:       elementRetryFactor,
				Retryable:    retryable,
			}, logger),
		Move: NewProfile("move",
			NewBreaker("move", moveBreakerThreshold, moveBreakerCooldown, logger),
			Policy{
				MaxAttempts:  moveRetryAttempts,
				InitialDelay: moveRetryDelay,
				Factor:       moveRetryFactor,
				Retryable:    retryable,
			}, logger),
	}
}

// ResetAll closes every breaker, used after a successful session recovery.
func (s *Set) ResetAll() {
	s.Session.Breaker().Reset()
	s.Element.Breaker().Reset()
	s.Move.Breaker().Reset()
}
