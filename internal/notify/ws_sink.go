package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-autopilot/pkg/botevent"
)

type wsState int

const (
	wsDisconnected wsState = iota
	wsConnected
	wsReconnecting
	wsFailed
)

// WSSink streams events over a persistent WebSocket. The connection is
// push-only: incoming frames are discarded, a ping loop watches liveness,
// and drops trigger bounded reconnection with backoff.
type WSSink struct {
	url    string
	logger *zap.Logger

	maxReconnectAttempts int
	pingInterval         time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	state wsState

	rootCtx    context.Context
	rootCancel context.CancelFunc
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewWSSink(url string, logger *zap.Logger) *WSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WSSink{
		url:                  url,
		logger:               logger,
		maxReconnectAttempts: 5,
		pingInterval:         30 * time.Second,
		rootCtx:              ctx,
		rootCancel:           cancel,
		stopCh:               make(chan struct{}),
	}
}

// Connect dials the collector. On failure the sink keeps reconnecting in
// the background, so a down collector at startup is not fatal.
func (s *WSSink) Connect(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		s.setState(wsReconnecting)
		go s.reconnect()
		return fmt.Errorf("observer ws dial: %w", err)
	}
	return nil
}

func (s *WSSink) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = wsConnected
	s.mu.Unlock()

	// CloseRead discards inbound data frames while still answering
	// control frames; its context ends when the connection dies.
	readCtx := conn.CloseRead(s.rootCtx)
	s.wg.Add(2)
	go s.watch(conn, readCtx)
	go s.pingLoop(conn, readCtx)
	return nil
}

func (s *WSSink) watch(conn *websocket.Conn, readCtx context.Context) {
	defer s.wg.Done()
	select {
	case <-s.stopCh:
	case <-readCtx.Done():
		if s.isStopping() {
			return
		}
		s.handleDisconnect(conn)
	}
}

func (s *WSSink) pingLoop(conn *websocket.Conn, readCtx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-readCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					if s.isStopping() {
						return
					}
					s.handleDisconnect(conn)
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// handleDisconnect tears down one specific connection. The conn
// comparison makes it a no-op when another goroutine already replaced it.
func (s *WSSink) handleDisconnect(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = wsReconnecting
	s.mu.Unlock()

	_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	s.logger.Warn("observer_ws_disconnected", zap.String("url", s.url))
	go s.reconnect()
}

func (s *WSSink) reconnect() {
	for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
		select {
		case <-s.stopCh:
			return
		case <-time.After(backoffDuration(attempt)):
		}
		if err := s.dial(s.rootCtx); err == nil {
			s.logger.Info("observer_ws_reconnected", zap.Int("attempt", attempt))
			return
		}
	}
	s.setState(wsFailed)
	s.logger.Warn("observer_ws_gave_up",
		zap.String("url", s.url),
		zap.Int("attempts", s.maxReconnectAttempts))
}

func (s *WSSink) setState(st wsState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *WSSink) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Connected reports whether a live connection is available.
func (s *WSSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.state == wsConnected
}

func (s *WSSink) Name() string { return "ws" }

// Deliver writes one event frame. Calls arrive sequentially from the
// dispatcher worker; wsjson.Write is not safe for concurrent writers.
func (s *WSSink) Deliver(ctx context.Context, ev botevent.Event) error {
	s.mu.Lock()
	conn := s.conn
	st := s.state
	s.mu.Unlock()
	if conn == nil || st != wsConnected {
		return errors.New("observer ws not connected")
	}

	dctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return wsjson.Write(dctx, conn, ev)
}

func (s *WSSink) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = wsDisconnected
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	s.rootCancel()
	s.wg.Wait()
	return nil
}
