// Package input reads the manual-play trigger key from the terminal.
// When auto-play is off the engine only suggests; pressing the trigger
// arms a one-shot flag the turn handler consumes to actually move.
package input

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/term"
)

// Trigger owns stdin in raw mode for the lifetime of the bot. On a
// non-terminal stdin it degrades to a permanently disarmed no-op so the
// bot still runs under supervisors and in containers.
type Trigger struct {
	logger *zap.Logger

	mu      sync.Mutex
	key     byte
	restore func()

	armed   atomic.Bool
	enabled atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewTrigger(key string, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trigger{logger: logger, stopCh: make(chan struct{})}
	t.setKeyByte(key)
	return t
}

func (t *Trigger) setKeyByte(key string) {
	k := strings.ToLower(strings.TrimSpace(key))
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(k) == 1 {
		t.key = k[0]
	} else {
		t.key = 'm'
	}
}

// SetKey changes the trigger key, typically from a config reload.
func (t *Trigger) SetKey(key string) {
	t.setKeyByte(key)
	t.logger.Info("trigger_key_changed", zap.String("key", key))
}

// Start switches stdin to raw mode and begins listening. It is not an
// error to start on a pipe or under a supervisor; the trigger just stays
// disabled.
func (t *Trigger) Start(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		t.logger.Info("trigger_disabled_no_tty")
		return nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		t.logger.Warn("trigger_raw_mode_failed", zap.Error(err))
		return nil
	}
	t.mu.Lock()
	t.restore = func() { _ = term.Restore(fd, oldState) }
	t.mu.Unlock()
	t.enabled.Store(true)

	// A blocking stdin read cannot be interrupted, so the reader lives on
	// its own goroutine feeding a channel; at shutdown it stays parked on
	// the final read until the process exits.
	bytes := make(chan byte, 8)
	go t.pump(bytes)

	t.wg.Add(1)
	go t.listen(ctx, bytes)
	return nil
}

func (t *Trigger) pump(out chan<- byte) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			close(out)
			return
		}
		if n == 0 {
			continue
		}
		select {
		case out <- buf[0]:
		case <-t.stopCh:
			return
		}
	}
}

func (t *Trigger) listen(ctx context.Context, bytes <-chan byte) {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case b, ok := <-bytes:
			if !ok {
				t.logger.Warn("trigger_stdin_closed")
				return
			}
			t.handleByte(b)
		}
	}
}

func (t *Trigger) handleByte(b byte) {
	// Raw mode swallows Ctrl+C; re-raise it as an interrupt so shutdown
	// still works the way operators expect.
	if b == 0x03 {
		t.logger.Info("trigger_interrupt")
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(os.Interrupt)
		}
		return
	}

	t.mu.Lock()
	key := t.key
	t.mu.Unlock()
	if lower(b) == key {
		if !t.armed.Swap(true) {
			t.logger.Debug("trigger_armed")
		}
	}
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// Consume reports whether the trigger was pressed since the last call,
// clearing it.
func (t *Trigger) Consume() bool {
	return t.armed.Swap(false)
}

// Enabled reports whether a terminal is attached and listening.
func (t *Trigger) Enabled() bool {
	return t.enabled.Load()
}

// Arm sets the flag programmatically. Tests and remote observers use it.
func (t *Trigger) Arm() {
	t.armed.Store(true)
}

// Close restores the terminal and stops the listener.
func (t *Trigger) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()

	t.mu.Lock()
	restore := t.restore
	t.restore = nil
	t.mu.Unlock()
	if restore != nil {
		restore()
	}
	t.enabled.Store(false)
}
