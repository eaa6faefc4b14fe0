package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslive/backend/internal/models"
)

type fakePresence struct {
	mu      sync.Mutex
	present map[uuid.UUID]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{present: make(map[uuid.UUID]bool)}
}

func (f *fakePresence) set(principalID uuid.UUID, here bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[principalID] = here
}

func (f *fakePresence) Present(_, principalID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[principalID]
}

type sentPayload struct {
	to      uuid.UUID
	event   string
	payload interface{}
}

type fakeUnicaster struct {
	mu   sync.Mutex
	sent []sentPayload
}

func (f *fakeUnicaster) Unicast(_, principalID uuid.UUID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{to: principalID, event: event, payload: payload})
}

func (f *fakeUnicaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type failingCreds struct{}

func (failingCreds) Credentials(context.Context, uuid.UUID) (RoomConfig, error) {
	return RoomConfig{}, errors.New("relay vendor down")
}

func liveSession() *models.LiveSession {
	return &models.LiveSession{
		ID:     uuid.New(),
		RoomID: uuid.New().String(),
		Status: models.SessionLive,
	}
}

func TestRegisterRoomIdempotent(t *testing.T) {
	coord := NewCoordinator(newFakePresence(), &fakeUnicaster{}, nil, nil, nil)
	sess := liveSession()

	cfg1, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)
	require.NotEmpty(t, cfg1.ICEServers)

	// Registering again keeps the room and its state.
	viewer := uuid.New()
	cfg2, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, cfg1, cfg2)
	assert.True(t, coord.HasRoom(sess.ID))
	assert.Equal(t, 0, coord.PendingCount(sess.ID, viewer))
}

func TestRegisterRoomSessionOverride(t *testing.T) {
	coord := NewCoordinator(newFakePresence(), &fakeUnicaster{}, nil,
		[]string{"stun:default.example.com:3478"}, nil)
	sess := liveSession()
	override := RoomConfig{ICEServers: []webrtc.ICEServer{{URLs: []string{"turn:override.example.com:3478"}}}}
	raw, err := json.Marshal(override)
	require.NoError(t, err)
	sess.RoomConfig = raw

	cfg, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"turn:override.example.com:3478"}, cfg.ICEServers[0].URLs)
}

func TestRegisterRoomDegradesWhenCredentialsUnavailable(t *testing.T) {
	coord := NewCoordinator(newFakePresence(), &fakeUnicaster{}, failingCreds{},
		[]string{"stun:default.example.com:3478"}, nil)
	sess := liveSession()

	cfg, err := coord.RegisterRoom(context.Background(), sess)
	assert.ErrorIs(t, err, models.ErrRelayUnavailable)
	// The session stays usable: the room exists and defaults are served.
	assert.True(t, coord.HasRoom(sess.ID))
	assert.NotEmpty(t, cfg.ICEServers)
}

type flakyCreds struct {
	fail bool
}

func (f *flakyCreds) Credentials(context.Context, uuid.UUID) (RoomConfig, error) {
	if f.fail {
		return RoomConfig{}, errors.New("relay vendor down")
	}
	return RoomConfig{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"turn:vendor.example.com:3478"}}},
		ExpiresAt:  4102444800,
	}, nil
}

func TestRegisterRoomKeepsEstablishedConfigOnDegradedRefresh(t *testing.T) {
	creds := &flakyCreds{}
	coord := NewCoordinator(newFakePresence(), &fakeUnicaster{}, creds,
		[]string{"stun:default.example.com:3478"}, nil)
	sess := liveSession()

	good, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, []string{"turn:vendor.example.com:3478"}, good.ICEServers[0].URLs)

	// A refresh while the provider is down must not downgrade the room
	// to the fallback config.
	creds.fail = true
	cfg, err := coord.RegisterRoom(context.Background(), sess)
	assert.ErrorIs(t, err, models.ErrRelayUnavailable)
	assert.Equal(t, good, cfg)
}

func TestRelayDeliversToPresentTarget(t *testing.T) {
	pres := newFakePresence()
	uni := &fakeUnicaster{}
	coord := NewCoordinator(pres, uni, nil, nil, nil)
	sess := liveSession()
	_, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)

	host, viewer := uuid.New(), uuid.New()
	pres.set(viewer, true)

	coord.Relay(sess.ID, host, viewer, Payload{Kind: "offer", Data: json.RawMessage(`{"sdp":"x"}`)})

	require.Equal(t, 1, uni.count())
	got := uni.sent[0]
	assert.Equal(t, viewer, got.to)
	assert.Equal(t, "signal", got.event)
	p, ok := got.payload.(Payload)
	require.True(t, ok)
	assert.Equal(t, host, p.From, "relay must stamp the sender")
	assert.Equal(t, 1, coord.PendingCount(sess.ID, viewer))
}

func TestRelayDropsForAbsentTargetOrMissingRoom(t *testing.T) {
	pres := newFakePresence()
	uni := &fakeUnicaster{}
	coord := NewCoordinator(pres, uni, nil, nil, nil)
	sess := liveSession()
	host, viewer := uuid.New(), uuid.New()

	// No room registered yet.
	coord.Relay(sess.ID, host, viewer, Payload{Kind: "offer"})
	assert.Equal(t, 0, uni.count())

	_, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)

	// Target not present: dropped, no pending state, no delivery.
	coord.Relay(sess.ID, host, viewer, Payload{Kind: "offer"})
	assert.Equal(t, 0, uni.count())
	assert.Equal(t, 0, coord.PendingCount(sess.ID, viewer))
}

func TestEvictParticipantClearsPendingState(t *testing.T) {
	pres := newFakePresence()
	uni := &fakeUnicaster{}
	coord := NewCoordinator(pres, uni, nil, nil, nil)
	sess := liveSession()
	_, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)

	host, viewer := uuid.New(), uuid.New()
	pres.set(viewer, true)
	coord.Relay(sess.ID, host, viewer, Payload{Kind: "offer"})
	coord.Relay(sess.ID, host, viewer, Payload{Kind: "candidate"})
	require.Equal(t, 2, coord.PendingCount(sess.ID, viewer))

	coord.EvictParticipant(sess.ID, viewer)
	assert.Equal(t, 0, coord.PendingCount(sess.ID, viewer),
		"a reconnecting peer must start clean")
	assert.True(t, coord.HasRoom(sess.ID), "eviction must not tear down the room")
}

func TestRelayCapsHeldNegotiationState(t *testing.T) {
	pres := newFakePresence()
	uni := &fakeUnicaster{}
	coord := NewCoordinator(pres, uni, nil, nil, nil)
	sess := liveSession()
	_, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)

	host, viewer := uuid.New(), uuid.New()
	pres.set(viewer, true)
	for i := 0; i < maxPendingPerPeer+8; i++ {
		coord.Relay(sess.ID, host, viewer, Payload{Kind: "candidate"})
	}

	assert.Equal(t, maxPendingPerPeer+8, uni.count(), "delivery is never throttled by the cap")
	assert.Equal(t, maxPendingPerPeer, coord.PendingCount(sess.ID, viewer),
		"held state must stay bounded for a long-lived peer")
}

func TestCloseRoomTearsDownState(t *testing.T) {
	coord := NewCoordinator(newFakePresence(), &fakeUnicaster{}, nil, nil, nil)
	sess := liveSession()
	_, err := coord.RegisterRoom(context.Background(), sess)
	require.NoError(t, err)

	coord.CloseRoom(sess.ID)
	assert.False(t, coord.HasRoom(sess.ID))
}
