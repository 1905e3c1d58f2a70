package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/linkwell/linkwell/internal/auth"
)

// WSConfig tunes the websocket transport.
type WSConfig struct {
	WriteWait     time.Duration
	PongWait      time.Duration
	MaxFrameBytes int64
	// CheckOrigin, when nil, accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

func (c *WSConfig) setDefaults() {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 4096
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// pingPeriod must stay below pongWait so the peer's pong arrives in time.
func (c *WSConfig) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

const opTimeout = 5 * time.Second

// WSHandler serves the realtime channel. The channel only carries pushes
// and room joins; messages are sent over the HTTP API.
type WSHandler struct {
	relay    *Relay
	verifier auth.Verifier
	cfg      WSConfig
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewWSHandler builds the /ws endpoint.
func NewWSHandler(relay *Relay, verifier auth.Verifier, cfg WSConfig, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.setDefaults()
	return &WSHandler{
		relay:    relay,
		verifier: verifier,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		log: log,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	session, err := h.relay.Connect(ctx, identity.UserID)
	cancel()
	if err != nil {
		h.log.Error("session connect failed", zap.String("user_id", identity.UserID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "connect failed"),
			time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}

	go h.writePump(conn, session)
	h.readPump(conn, session)
}

// readPump blocks on the next client frame and handles it inline. It owns
// session teardown.
func (h *WSHandler) readPump(conn *websocket.Conn, s *Session) {
	defer func() {
		h.relay.Disconnect(s.ID)
		_ = conn.Close()
	}()

	conn.SetReadLimit(h.cfg.MaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Debug("ignoring malformed frame", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}

		switch frame.Type {
		case frameJoin:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			h.relay.Subscribe(ctx, s.ID, frame.ConversationID)
			cancel()
		case frameSuppress:
			s.Suppress(frame.IdempotencyKey)
		case framePing:
			_ = s.enqueue(pongFrame)
		default:
			h.log.Debug("ignoring unknown frame", zap.String("session_id", s.ID), zap.String("type", frame.Type))
		}
	}
}

// writePump is the only writer on conn.
func (h *WSHandler) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(h.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-s.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
				time.Now().Add(h.cfg.WriteWait))
			return
		case payload := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}
