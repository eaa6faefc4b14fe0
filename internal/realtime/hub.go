package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Publisher publishes session events for cross-instance fan-out.
type Publisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a session's channel and invokes handler for
// incoming events from other instances.
type Subscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> connected clients and fans out events.
// It satisfies the Broadcaster/Unicaster interfaces of the session,
// moderation and signaling packages, decoupling the core from the
// WebSocket runtime.
type Hub struct {
	sessions map[uuid.UUID]map[string]*Client // sessionID -> clientID -> client
	subs     map[uuid.UUID]func()             // cancel cross-instance subscription per session
	mu       sync.RWMutex
	pub      Publisher
	sub      Subscriber
	logger   *zap.Logger
}

// NewHub creates a WebSocket hub. pub/sub may be nil for single-instance
// deployments and tests.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		pub:      pub,
		sub:      sub,
		logger:   logger,
	}
}

// Register adds a client to a session room, starting the cross-instance
// subscription when this is the first local client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.sub != nil {
			cancel, err := h.sub.SubscribeSession(c.SessionID, func(event string, payload []byte) {
				h.deliverLocal(c.SessionID, event, json.RawMessage(payload))
			})
			if err != nil {
				// Broadcast falls back to direct local delivery for
				// sessions without an active subscription.
				h.logger.Error("session subscribe failed",
					zap.String("session_id", c.SessionID.String()), zap.Error(err))
			} else {
				h.subs[c.SessionID] = cancel
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined session",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a client, cancelling the cross-instance
// subscription when the last local client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left session",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// deliverLocal sends an event to all locally connected clients.
func (h *Hub) deliverLocal(sessionID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	// Collect targets while the lock is held; Register/Unregister mutate
	// the same map.
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Broadcast sends an event to every participant of the session, local
// and on other instances. With Redis attached the event is published
// only; every instance (this one included) delivers through its
// subscription, so local clients never see the event twice. If the
// session has no working subscription the hub delivers locally itself
// rather than leaving its own clients deaf.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.pub != nil {
		err := h.pub.PublishSessionEvent(sessionID, event, data)
		h.mu.RLock()
		_, subscribed := h.subs[sessionID]
		h.mu.RUnlock()
		if err == nil && subscribed {
			return
		}
		// No loop-back will arrive (publish failed or the session has no
		// active subscription); deliver to local clients directly.
	}
	h.deliverLocal(sessionID, event, json.RawMessage(data))
}

// Unicast sends an event to every local connection of one principal.
// Negotiation payloads are best-effort: if the principal is not locally
// connected, the event is dropped here (the coordinator checks presence
// before calling).
func (h *Hub) Unicast(sessionID, principalID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.sessions[sessionID]
	var targets []*Client
	for _, c := range clients {
		if c.PrincipalID == principalID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// LocalCount returns the number of locally connected clients for a session.
func (h *Hub) LocalCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
