// Package notify fans bot events out to observers. Sinks are registered
// by name; delivery is asynchronous through a bounded queue so a slow
// observer can never stall the game loop.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/pkg/botevent"
)

// Sink receives events. Deliver must tolerate being called from a single
// background goroutine; it does not need to be re-entrant.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev botevent.Event) error
	Close() error
}

const (
	defaultQueueSize      = 64
	defaultDeliverTimeout = 10 * time.Second
)

type Dispatcher struct {
	logger *zap.Logger
	queue  chan botevent.Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu    sync.Mutex
	sinks []Sink
}

type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan botevent.Event, n)
		}
	}
}

func NewDispatcher(logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		logger: logger,
		queue:  make(chan botevent.Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Register adds a sink. Registering a name again replaces the previous
// sink in place, keeping its position in the delivery order.
func (d *Dispatcher) Register(s Sink) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.sinks {
		if existing.Name() == s.Name() {
			d.sinks[i] = s
			return
		}
	}
	d.sinks = append(d.sinks, s)
}

// Unregister removes a sink by name. Unknown names are a no-op. The
// removed sink is not closed; the caller owns it at that point.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.sinks {
		if s.Name() == name {
			d.sinks = append(d.sinks[:i], d.sinks[i+1:]...)
			return
		}
	}
}

// SinkNames returns the registered names in delivery order.
func (d *Dispatcher) SinkNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Publish enqueues an event. When the queue is full the event is dropped
// with a warning rather than blocking the caller.
func (d *Dispatcher) Publish(ev botevent.Event) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("notify_queue_full",
			zap.String("event", string(ev.Type)),
			zap.String("id", ev.ID))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.done:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev botevent.Event) {
	d.mu.Lock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	for _, s := range sinks {
		d.deliverOne(s, ev)
	}
}

// deliverOne isolates one sink: a panic or error there must not affect
// the others.
func (d *Dispatcher) deliverOne(s Sink, ev botevent.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notify_sink_panic",
				zap.String("sink", s.Name()),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliverTimeout)
	defer cancel()
	if err := s.Deliver(ctx, ev); err != nil {
		d.logger.Warn("notify_sink_failed",
			zap.String("sink", s.Name()),
			zap.String("event", string(ev.Type)),
			zap.Error(err))
	}
}

// Close drains the queue, then closes every registered sink.
func (d *Dispatcher) Close() error {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()

	d.mu.Lock()
	sinks := d.sinks
	d.sinks = nil
	d.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
