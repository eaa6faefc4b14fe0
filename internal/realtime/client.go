package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/internal/moderation"
	"github.com/campuslive/backend/internal/presence"
	"github.com/campuslive/backend/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Presence opens and closes participation intervals for a connection.
type Presence interface {
	Join(ctx context.Context, sessionID, principalID uuid.UUID) (*presence.Handle, error)
	Leave(ctx context.Context, h *presence.Handle) error
}

// ChatSink accepts chat submissions. Satisfied by the moderation pipeline.
type ChatSink interface {
	Submit(ctx context.Context, sessionID, senderID uuid.UUID, body string, msgType models.MessageType, replyTo *uuid.UUID) (*moderation.Outcome, error)
}

// SignalRelay forwards negotiation payloads. Satisfied by the signaling
// coordinator.
type SignalRelay interface {
	Relay(sessionID, from, to uuid.UUID, p signaling.Payload)
}

// Client represents a single WebSocket connection in a live session.
type Client struct {
	ID          string
	SessionID   uuid.UUID
	PrincipalID uuid.UUID
	Role        string
	hub         *Hub
	tracker     Presence
	chat        ChatSink
	relay       SignalRelay
	handle      *presence.Handle
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// Authenticate validates a connection token and returns the principal and role.
type Authenticate func(token string) (uuid.UUID, string, error)

// Admission decides whether a principal may join a session's room
// (session live, capacity not exceeded). nil admits everyone.
type Admission func(ctx context.Context, sessionID, principalID uuid.UUID) error

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, tracker Presence, chat ChatSink, relay SignalRelay, auth Authenticate, admit Admission, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		principalID, role, err := auth(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if admit != nil {
			if err := admit(c.Request.Context(), sessionID, principalID); err != nil {
				switch {
				case errors.Is(err, models.ErrNotFound):
					c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				case errors.Is(err, models.ErrSessionFull):
					c.JSON(http.StatusConflict, gin.H{"error": "session is full"})
				case errors.Is(err, models.ErrSessionNotLive):
					c.JSON(http.StatusConflict, gin.H{"error": "session is not live"})
				default:
					c.JSON(http.StatusInternalServerError, gin.H{"error": "join refused"})
				}
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			PrincipalID: principalID,
			Role:        role,
			hub:         hub,
			tracker:     tracker,
			chat:        chat,
			relay:       relay,
			conn:        conn,
			send:        make(chan WSMessage, 256),
			logger:      logger,
		}

		handle, err := tracker.Join(c.Request.Context(), sessionID, principalID)
		if err != nil {
			logger.Warn("presence join failed", zap.Error(err),
				zap.String("session_id", sessionID.String()))
			_ = conn.Close()
			return
		}
		client.handle = handle

		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// sendSelf queues an event for this connection only.
func (c *Client) sendSelf(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.tracker.Leave(ctx, c.handle); err != nil {
			c.logger.Warn("presence leave failed", zap.Error(err),
				zap.String("session_id", c.SessionID.String()))
		}
		cancel()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "chat_message":
			c.handleChat(msg.Data)
		case "signal":
			c.handleSignal(msg.Data)
		default:
			// ignore
		}
	}
}

func (c *Client) handleChat(data json.RawMessage) {
	var payload struct {
		Body    string     `json:"body"`
		Type    string     `json:"type"`
		ReplyTo *uuid.UUID `json:"reply_to,omitempty"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Body == "" {
		c.sendSelf("error", gin.H{"error": "invalid chat payload"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := c.chat.Submit(ctx, c.SessionID, c.PrincipalID, payload.Body,
		models.MessageType(payload.Type), payload.ReplyTo)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotLive) {
			c.sendSelf("error", gin.H{"error": "session is not live"})
			return
		}
		c.logger.Error("chat submit failed", zap.Error(err),
			zap.String("session_id", c.SessionID.String()))
		c.sendSelf("error", gin.H{"error": "message not delivered"})
		return
	}
	if out.Status == moderation.OutcomeBlocked {
		// The sender learns why; the room never sees the message.
		c.sendSelf("chat_blocked", gin.H{"reason": out.Reason})
	}
}

func (c *Client) handleSignal(data json.RawMessage) {
	var payload struct {
		To   uuid.UUID       `json:"to"`
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.To == uuid.Nil {
		c.sendSelf("error", gin.H{"error": "invalid signal payload"})
		return
	}
	c.relay.Relay(c.SessionID, c.PrincipalID, payload.To, signaling.Payload{
		Kind: payload.Kind,
		Data: payload.Data,
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
