package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"roomchat/internal/services/presence"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 12 * time.Second
	pingPeriod = 3 * time.Second // must be < pongWait

	// MinReadLimit fits a send-message frame carrying the largest accepted
	// message with every byte JSON-escaped as \uXXXX, plus the envelope.
	MinReadLimit = 6*presence.MaxMessageBytes + 1024
)

type ServerOptions struct {
	ReadLimit    int64
	SendQueue    int
	EventTimeout time.Duration
}

type WsServer struct {
	hub      *Hub
	router   *Router
	coord    *presence.Coordinator
	upgrader websocket.Upgrader
	opts     ServerOptions
}

func NewWsServer(h *Hub, coord *presence.Coordinator, opts ServerOptions) *WsServer {
	if opts.ReadLimit < MinReadLimit {
		opts.ReadLimit = MinReadLimit
	}
	srv := &WsServer{
		hub:    h,
		router: NewRouter(),
		coord:  coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
		},
		opts: opts,
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.opts.ReadLimit)

	conn := newClientConn(uuid.NewString(), rawConn, s.opts.SendQueue)
	session := presence.NewSession(conn.id, ginCtx.ClientIP())
	s.hub.register(conn)

	zap.L().Debug("ws.connected",
		zap.String("conn_id", conn.id),
		zap.String("source", session.SourceKey))

	go conn.writePump()
	go s.reader(conn, session)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	On(s.router, EventJoin,
		func(ctx context.Context, cc *ConnContext, req presence.JoinRequest) error {
			return s.coord.Join(ctx, cc.Session, req)
		},
	)

	On(s.router, EventSendMessage,
		func(ctx context.Context, cc *ConnContext, req presence.SendMessageRequest) error {
			return s.coord.SendMessage(ctx, cc.Session, req)
		},
	)

	On(s.router, EventLeave,
		func(ctx context.Context, cc *ConnContext, _ struct{}) error {
			return s.coord.Leave(ctx, cc.Session)
		},
	)

	Register(s.router, EventPing,
		func(_ context.Context, _ *ConnContext, _ struct{}) (PongBody, error) {
			return PongBody{ServerTime: time.Now().UTC()}, nil
		},
	)
}

func (s *WsServer) reader(conn *clientConn, session *presence.Session) {
	defer func() {
		conn.close()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.EventTimeout)
		defer cancel()
		if err := s.coord.Disconnect(ctx, session); err != nil {
			zap.L().Error("ws.disconnect_failed", zap.String("conn_id", conn.id), zap.Error(err))
		}
		s.hub.unregister(conn)

		zap.L().Debug("ws.disconnected", zap.String("conn_id", conn.id))
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{ConnID: conn.id, Session: session, Server: s}

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}
		_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.replyError(conn, "malformed_frame")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.EventTimeout)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			code := errorCode(err)
			if code == "internal_error" {
				zap.L().Error("ws.event_failed",
					zap.String("conn_id", conn.id),
					zap.String("event", env.Event),
					zap.Error(err))
			}
			s.replyError(conn, code)
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		if res != nil {
			frame, err := encodeFrame(env.Event+"-ack", res)
			if err != nil {
				zap.L().Error("ws.encode_failed", zap.String("event", env.Event), zap.Error(err))
				continue
			}
			conn.enqueue(frame)
		}

		if session.State() == presence.StateTerminated {
			return
		}
	}
}

func (s *WsServer) replyError(conn *clientConn, code string) {
	frame, err := encodeFrame(EventError, ErrorBody{Error: code})
	if err != nil {
		return
	}
	conn.enqueue(frame)
}

// errorCode maps handler errors to the codes clients see.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrMalformedBody):
		return "malformed_body"
	case errors.Is(err, presence.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, presence.ErrNotJoined):
		return "not_joined"
	case errors.Is(err, presence.ErrSessionTerminated):
		return "terminated"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal_error"
}
