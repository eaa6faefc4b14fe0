package realtime

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(sessionID, principalID uuid.UUID) *Client {
	return &Client{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		PrincipalID: principalID,
		send:        make(chan WSMessage, 8),
	}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHubBroadcastReachesAllSessionClients(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	other := uuid.New()

	a := newTestClient(sessionID, uuid.New())
	b := newTestClient(sessionID, uuid.New())
	c := newTestClient(other, uuid.New())
	hub.Register(a)
	hub.Register(b)
	hub.Register(c)

	hub.Broadcast(sessionID, "chat_message", map[string]string{"body": "hi"})

	require.Len(t, drain(a), 1)
	require.Len(t, drain(b), 1)
	assert.Empty(t, drain(c), "other sessions must not receive the event")
}

func TestHubUnicastTargetsOnePrincipal(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	target := uuid.New()

	// Two connections for the same principal, one for someone else.
	t1 := newTestClient(sessionID, target)
	t2 := newTestClient(sessionID, target)
	other := newTestClient(sessionID, uuid.New())
	hub.Register(t1)
	hub.Register(t2)
	hub.Register(other)

	hub.Unicast(sessionID, target, "signal", map[string]string{"kind": "offer"})

	msgs := drain(t1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "signal", msgs[0].Event)
	require.Len(t, drain(t2), 1, "every connection of the principal receives the payload")
	assert.Empty(t, drain(other))
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New())
	hub.Register(a)
	assert.Equal(t, 1, hub.LocalCount(sessionID))

	hub.Unregister(a)
	assert.Equal(t, 0, hub.LocalCount(sessionID))
	hub.Broadcast(sessionID, "chat_message", map[string]string{"body": "late"})
	assert.Empty(t, drain(a))
}

type fakeBridge struct {
	mu        sync.Mutex
	published []string
	handlers  map[uuid.UUID]func(event string, payload []byte)
	cancels   int
	subErr    error
	pubErr    error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{handlers: make(map[uuid.UUID]func(string, []byte))}
}

func (f *fakeBridge) PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error {
	f.mu.Lock()
	if f.pubErr != nil {
		f.mu.Unlock()
		return f.pubErr
	}
	f.published = append(f.published, event)
	handler := f.handlers[sessionID]
	f.mu.Unlock()
	// Loop back like Redis would for a subscribed instance.
	if handler != nil {
		handler(event, payload)
	}
	return nil
}

func (f *fakeBridge) SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.handlers[sessionID] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, sessionID)
		f.cancels++
	}, nil
}

func TestHubWithBridgeDeliversExactlyOnce(t *testing.T) {
	bridge := newFakeBridge()
	hub := NewHub(nil, bridge, bridge)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New())
	hub.Register(a)

	hub.Broadcast(sessionID, "chat_message", map[string]string{"body": "hi"})

	msgs := drain(a)
	require.Len(t, msgs, 1, "publish loop-back must not duplicate local delivery")
	assert.Equal(t, "chat_message", msgs[0].Event)
	assert.Equal(t, []string{"chat_message"}, bridge.published)
}

func TestHubDeliversLocallyWhenSubscribeFails(t *testing.T) {
	bridge := newFakeBridge()
	bridge.subErr = errors.New("redis down")
	hub := NewHub(nil, bridge, bridge)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New())
	hub.Register(a)

	hub.Broadcast(sessionID, "chat_message", map[string]string{"body": "hi"})

	msgs := drain(a)
	require.Len(t, msgs, 1, "clients must not go deaf when the subscription is unavailable")
	assert.Equal(t, "chat_message", msgs[0].Event)
}

func TestHubDeliversLocallyWhenPublishFails(t *testing.T) {
	bridge := newFakeBridge()
	hub := NewHub(nil, bridge, bridge)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New())
	hub.Register(a)
	bridge.mu.Lock()
	bridge.pubErr = errors.New("redis down")
	bridge.mu.Unlock()

	hub.Broadcast(sessionID, "chat_message", map[string]string{"body": "hi"})
	require.Len(t, drain(a), 1)
}

func TestHubBroadcastDuringMembershipChurn(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	stop := make(chan struct{})
	var bcast sync.WaitGroup
	bcast.Add(1)
	go func() {
		defer bcast.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Broadcast(sessionID, "chat_message", map[string]string{"body": "x"})
			}
		}
	}()

	var churn sync.WaitGroup
	for i := 0; i < 8; i++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for j := 0; j < 200; j++ {
				c := newTestClient(sessionID, uuid.New())
				hub.Register(c)
				drain(c)
				hub.Unregister(c)
			}
		}()
	}
	churn.Wait()
	close(stop)
	bcast.Wait()
}

func TestHubCancelsSubscriptionWhenLastClientLeaves(t *testing.T) {
	bridge := newFakeBridge()
	hub := NewHub(nil, bridge, bridge)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New())
	b := newTestClient(sessionID, uuid.New())
	hub.Register(a)
	hub.Register(b)

	hub.Unregister(a)
	bridge.mu.Lock()
	assert.Equal(t, 0, bridge.cancels, "subscription stays while clients remain")
	bridge.mu.Unlock()

	hub.Unregister(b)
	bridge.mu.Lock()
	assert.Equal(t, 1, bridge.cancels)
	bridge.mu.Unlock()
}
