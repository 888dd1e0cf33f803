package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"roomchat/internal/services/presence"
)

var (
	ErrUnknownEvent  = errors.New("unknown_event")
	ErrMalformedBody = errors.New("malformed_body")
)

// ConnContext is what handlers know about the connection that sent the event.
type ConnContext struct {
	ConnID  string
	Session *presence.Session
	Server  *WsServer
}

// internal (untyped) handler signature. A nil result means "no reply".
type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) (any, error)

// Router keeps a map[event]handler, à-la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds an event to a strongly-typed handler whose result is sent
// back as "<event>-ack".
func Register[Req any, Res any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) (Res, error),
) {
	r.bind(event, func(ctx context.Context, c *ConnContext, body json.RawMessage) (any, error) {
		req, err := decode[Req](body)
		if err != nil {
			return nil, err
		}
		res, err := h(ctx, c, req)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// On binds an event whose outcome is delivered as events of its own, so the
// sender gets no ack.
func On[Req any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) error,
) {
	r.bind(event, func(ctx context.Context, c *ConnContext, body json.RawMessage) (any, error) {
		req, err := decode[Req](body)
		if err != nil {
			return nil, err
		}
		return nil, h(ctx, c, req)
	})
}

func (r *Router) bind(event string, h rawHandler) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = h
}

func decode[Req any](body json.RawMessage) (Req, error) {
	var req Req
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return req, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	}
	return req, nil
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownEvent
	}
	return h(ctx, c, env.Body)
}
