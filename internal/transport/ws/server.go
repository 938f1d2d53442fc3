// Package ws serves the multi-party websocket view of a session. Every
// participant connected to a session sees each turn as it streams.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/platform/ratelimiter"
	"github.com/b0ase/kintsugi/internal/service"
)

// Chatter is the part of the service the websocket server drives.
type Chatter interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	StreamChat(ctx context.Context, sessionID, message, senderID string, fn func(service.StreamEvent) error) error
}

// Options tunes connection handling. Zero values take defaults.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	TurnTimeout    time.Duration
	Limiter        *ratelimiter.MapLimiter
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = 5 * time.Minute
	}
	return o
}

// Server handles websocket connections.
type Server struct {
	ctx      context.Context
	hub      *Hub
	chatter  Chatter
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a websocket server. Turns started by clients run under
// ctx, so cancelling it stops them.
func NewServer(ctx context.Context, h *Hub, chatter Chatter, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctx:     ctx,
		hub:     h,
		chatter: chatter,
		opts:    opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// ServeSession upgrades the request and binds the connection to sessionID.
func (s *Server) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.chatter.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load session for websocket", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "session_id", sessionID, "error", err)
		return
	}

	conn := s.hub.NewConnection(ws, sessionID, remoteIP(r))
	s.hub.Register(conn)
	ws.SetReadLimit(s.opts.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// readPump reads messages from the websocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		_ = conn.Close()
	}()

	_ = conn.Conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "conn_id", conn.ID, "error", err)
			}
			return
		}
		s.handleMessage(conn, message)
	}
}

// writePump writes queued messages and keeps the connection alive.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{}, deadline)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message, deadline); err != nil {
				s.logger.Warn("websocket write failed", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeHello:
		s.handleHello(conn, data)
	case TypeChat:
		s.handleChat(conn, data)
	default:
		s.sendError(conn, base.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

// handleHello identifies the participant behind the connection.
func (s *Server) handleHello(conn *Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid hello message")
		return
	}
	if msg.SessionID != "" && msg.SessionID != conn.SessionID {
		s.sendError(conn, msg.RequestID, ErrorCodeInvalidMessage, "session_id does not match the connection")
		return
	}
	if strings.TrimSpace(msg.UserID) == "" {
		s.sendError(conn, msg.RequestID, ErrorCodeInvalidMessage, "user_id is required")
		return
	}

	conn.setUser(msg.UserID)
	_ = s.hub.SendJSON(conn, HelloAckMessage{
		BaseMessage: s.base(TypeHelloAck, msg.RequestID, conn.SessionID),
		UserID:      msg.UserID,
	})
	s.logger.Info("websocket hello", "session_id", conn.SessionID, "user_id", msg.UserID)
}

// handleChat runs a streamed turn and broadcasts it to the whole session.
func (s *Server) handleChat(conn *Connection, data []byte) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid chat message")
		return
	}
	userID := conn.user()
	if userID == "" {
		s.sendError(conn, msg.RequestID, ErrorCodeSessionRequired, "must send hello first")
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		s.sendError(conn, msg.RequestID, ErrorCodeInvalidMessage, "content is required")
		return
	}
	if !s.opts.Limiter.Allow(conn.RemoteIP, time.Now()) {
		s.sendError(conn, msg.RequestID, ErrorCodeRateLimited, "rate limit exceeded, retry later")
		return
	}

	sessionID := conn.SessionID
	_ = s.hub.BroadcastJSON(sessionID, UserMessageMessage{
		BaseMessage: s.base(TypeUserMessage, msg.RequestID, sessionID),
		SenderID:    userID,
		Content:     msg.Content,
	})

	// Turns run off the read loop.
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.TurnTimeout)
		defer cancel()

		err := s.chatter.StreamChat(ctx, sessionID, msg.Content, userID, func(ev service.StreamEvent) error {
			return s.hub.BroadcastJSON(sessionID, StreamMessage{
				BaseMessage: s.base(TypeStream, msg.RequestID, sessionID),
				SenderID:    userID,
				Event:       ev,
			})
		})
		if err != nil {
			s.logger.Warn("websocket turn failed", "session_id", sessionID, "user_id", userID, "error", err)
			s.broadcastError(sessionID, msg.RequestID, err)
		}
	}()
}

func (s *Server) broadcastError(sessionID, requestID string, err error) {
	message := "agent unavailable, retry"
	if errors.Is(err, service.ErrEmptyMessage) || errors.Is(err, service.ErrSessionNotFound) {
		message = err.Error()
	}
	_ = s.hub.BroadcastJSON(sessionID, ErrorMessage{
		BaseMessage: s.base(TypeError, requestID, sessionID),
		Code:        ErrorCodeTurnFailed,
		Message:     message,
	})
}

func (s *Server) base(msgType, requestID, sessionID string) BaseMessage {
	return BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		RequestID: requestID,
		SessionID: sessionID,
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, requestID, code, message string) {
	_ = s.hub.SendJSON(conn, ErrorMessage{
		BaseMessage: s.base(TypeError, requestID, conn.SessionID),
		Code:        code,
		Message:     message,
	})
}
