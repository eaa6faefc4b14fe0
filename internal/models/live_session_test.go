package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{SessionScheduled, SessionLive, true},
		{SessionScheduled, SessionCancelled, true},
		{SessionScheduled, SessionEnded, false},
		{SessionLive, SessionEnded, true},
		{SessionLive, SessionCancelled, true},
		{SessionLive, SessionScheduled, false},
		{SessionEnded, SessionLive, false},
		{SessionEnded, SessionCancelled, false},
		{SessionCancelled, SessionLive, false},
		{SessionCancelled, SessionEnded, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.allowed, c.from.CanTransitionTo(c.to),
			"%s -> %s", c.from, c.to)
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.False(t, SessionScheduled.Terminal())
	assert.False(t, SessionLive.Terminal())
	assert.True(t, SessionEnded.Terminal())
	assert.True(t, SessionCancelled.Terminal())
}

func TestModerationStatusTerminal(t *testing.T) {
	assert.False(t, ModerationPending.Terminal())
	assert.False(t, ModerationFlagged.Terminal())
	assert.True(t, ModerationApproved.Terminal())
	assert.True(t, ModerationRejected.Terminal())
	assert.True(t, ModerationBlocked.Terminal())
}
