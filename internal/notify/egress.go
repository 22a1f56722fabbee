package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/msgcat"
	"github.com/park285/chess-autopilot/pkg/botevent"
)

// BuildDispatcher assembles the dispatcher for the configured observer
// mode. The log sink is always present; http/ws/auto add a remote sink on
// top of it.
func BuildDispatcher(ctx context.Context, env *config.Env, cat *msgcat.Catalog, logger *zap.Logger) *Dispatcher {
	d := NewDispatcher(logger)
	d.Register(NewLogSink(logger, cat))

	switch env.ObserverMode {
	case config.ObserverModeHTTP:
		d.Register(NewHTTPSink(env.ObserverPushURL))
	case config.ObserverModeWS:
		ws := NewWSSink(env.ObserverWSURL, logger)
		if err := ws.Connect(ctx); err != nil {
			logger.Warn("observer_ws_connect_failed", zap.Error(err))
		}
		d.Register(ws)
	case config.ObserverModeAuto:
		d.Register(buildAutoSink(ctx, env, logger))
	}
	return d
}

func buildAutoSink(ctx context.Context, env *config.Env, logger *zap.Logger) Sink {
	var ws *WSSink
	if env.ObserverWSURL != "" {
		ws = NewWSSink(env.ObserverWSURL, logger)
		if err := ws.Connect(ctx); err != nil {
			logger.Warn("observer_ws_connect_failed", zap.Error(err))
		}
	}
	var http *HTTPSink
	if env.ObserverPushURL != "" {
		http = NewHTTPSink(env.ObserverPushURL)
	}
	switch {
	case ws != nil && http != nil:
		return &autoSink{ws: ws, http: http, logger: logger}
	case ws != nil:
		return ws
	case http != nil:
		return http
	default:
		return nil
	}
}

// autoSink prefers the WebSocket while it is connected and falls back to
// HTTP for the individual event otherwise.
type autoSink struct {
	ws     *WSSink
	http   *HTTPSink
	logger *zap.Logger
}

func (a *autoSink) Name() string { return "auto" }

func (a *autoSink) Deliver(ctx context.Context, ev botevent.Event) error {
	if a.ws.Connected() {
		if err := a.ws.Deliver(ctx, ev); err == nil {
			return nil
		}
		a.logger.Warn("observer_fallback",
			zap.String("event", string(ev.Type)))
	}
	return a.http.Deliver(ctx, ev)
}

func (a *autoSink) Close() error {
	err := a.ws.Close()
	if cerr := a.http.Close(); err == nil {
		err = cerr
	}
	return err
}
