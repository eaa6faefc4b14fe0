package signaling

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
)

// Presence answers whether a principal is currently reachable in a session.
type Presence interface {
	Present(sessionID, principalID uuid.UUID) bool
}

// Unicaster delivers a payload to exactly one connected principal.
type Unicaster interface {
	Unicast(sessionID, principalID uuid.UUID, event string, payload interface{})
}

// RoomConfig is the negotiation configuration handed to peers. External
// credentials are globally fresher and win over per-session overrides.
type RoomConfig struct {
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
	ExpiresAt  int64              `json:"expires_at,omitempty"` // unix seconds, 0 = static
}

// Payload is one relayed negotiation message (offer/answer/candidate).
// The coordinator never interprets Data.
type Payload struct {
	Kind string          `json:"kind"` // offer | answer | candidate
	From uuid.UUID       `json:"from"`
	Data json.RawMessage `json:"data"`
}

// maxPendingPerPeer bounds held negotiation state per principal; older
// entries age out so a long-lived peer cannot grow the room unbounded.
const maxPendingPerPeer = 32

type room struct {
	sessionID uuid.UUID
	config    RoomConfig
	// pending negotiation state per principal; evicted on leave so a
	// reconnecting peer never sees a stale replay.
	pending map[uuid.UUID][]Payload
	mu      sync.Mutex
}

// Coordinator relays connection-negotiation messages between the host
// and viewers of a session. Room state is in-memory only.
type Coordinator struct {
	rooms    map[uuid.UUID]*room
	mu       sync.RWMutex
	presence Presence
	uni      Unicaster
	creds    CredentialProvider
	defaults []webrtc.ICEServer
	logger   *zap.Logger
}

// NewCoordinator creates a signaling coordinator. creds may be nil, in
// which case only the default ICE servers and per-session overrides apply.
func NewCoordinator(presence Presence, uni Unicaster, creds CredentialProvider, defaultICEUrls []string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		rooms:    make(map[uuid.UUID]*room),
		presence: presence,
		uni:      uni,
		creds:    creds,
		defaults: parseICEServers(defaultICEUrls),
		logger:   logger,
	}
}

// RegisterRoom ensures a room exists for the session and returns its
// merged configuration. Idempotent per session; a repeated call refreshes
// external credentials but keeps negotiation state.
func (c *Coordinator) RegisterRoom(ctx context.Context, sess *models.LiveSession) (RoomConfig, error) {
	cfg, err := c.mergedConfig(ctx, sess)

	c.mu.Lock()
	r, ok := c.rooms[sess.ID]
	if !ok {
		r = &room{sessionID: sess.ID, pending: make(map[uuid.UUID][]Payload)}
		c.rooms[sess.ID] = r
	}
	c.mu.Unlock()

	// On credential failure cfg still carries the best fallback (defaults
	// plus per-session overrides); a new room takes it rather than serving
	// an empty ICE config. An established config is never downgraded.
	r.mu.Lock()
	if err == nil || len(r.config.ICEServers) == 0 {
		r.config = cfg
	}
	cur := r.config
	r.mu.Unlock()

	if err != nil {
		// Degrade: the session stays live, negotiation is just not
		// possible until the credential source recovers.
		c.logger.Warn("relay credentials unavailable, signaling degraded",
			zap.String("session_id", sess.ID.String()), zap.Error(err))
		return cur, models.ErrRelayUnavailable
	}
	return cur, nil
}

// mergedConfig builds the room config: defaults, then per-session
// overrides, then external credentials (freshest wins).
func (c *Coordinator) mergedConfig(ctx context.Context, sess *models.LiveSession) (RoomConfig, error) {
	cfg := RoomConfig{ICEServers: c.defaults}

	if len(sess.RoomConfig) > 0 {
		var override RoomConfig
		if err := json.Unmarshal(sess.RoomConfig, &override); err == nil && len(override.ICEServers) > 0 {
			cfg = override
		}
	}
	if c.creds == nil {
		return cfg, nil
	}
	ext, err := c.creds.Credentials(ctx, sess.ID)
	if err != nil {
		return cfg, err
	}
	if len(ext.ICEServers) > 0 {
		cfg.ICEServers = ext.ICEServers
		cfg.ExpiresAt = ext.ExpiresAt
	}
	return cfg, nil
}

// Relay delivers a negotiation payload to exactly one recipient if that
// principal is currently present; otherwise the payload is dropped.
// Negotiation is best-effort and time-sensitive: no persistence, no retry.
func (c *Coordinator) Relay(sessionID, from, to uuid.UUID, p Payload) {
	c.mu.RLock()
	r := c.rooms[sessionID]
	c.mu.RUnlock()
	if r == nil {
		c.logger.Debug("relay to unregistered room dropped", zap.String("session_id", sessionID.String()))
		return
	}
	if !c.presence.Present(sessionID, to) {
		c.logger.Debug("relay target not present, dropped",
			zap.String("session_id", sessionID.String()),
			zap.String("to", to.String()))
		return
	}
	p.From = from
	r.mu.Lock()
	q := append(r.pending[to], p)
	if len(q) > maxPendingPerPeer {
		q = q[len(q)-maxPendingPerPeer:]
	}
	r.pending[to] = q
	r.mu.Unlock()

	c.uni.Unicast(sessionID, to, "signal", p)
}

// EvictParticipant releases held negotiation state for a principal.
// Wired to presence leave so a reconnect starts clean.
func (c *Coordinator) EvictParticipant(sessionID, principalID uuid.UUID) {
	c.mu.RLock()
	r := c.rooms[sessionID]
	c.mu.RUnlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.pending, principalID)
	r.mu.Unlock()
}

// CloseRoom tears down all room state for a session (end/cancel).
func (c *Coordinator) CloseRoom(sessionID uuid.UUID) {
	c.mu.Lock()
	delete(c.rooms, sessionID)
	c.mu.Unlock()
	c.logger.Debug("room closed", zap.String("session_id", sessionID.String()))
}

// PendingCount returns how many undelivered-state entries are held for a
// principal. Used by tests and the moderation audit surface.
func (c *Coordinator) PendingCount(sessionID, principalID uuid.UUID) int {
	c.mu.RLock()
	r := c.rooms[sessionID]
	c.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[principalID])
}

// HasRoom reports whether a room is registered for the session.
func (c *Coordinator) HasRoom(sessionID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[sessionID]
	return ok
}

var defaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

func parseICEServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return defaultICE
	}
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(out) == 0 {
		return defaultICE
	}
	return out
}
