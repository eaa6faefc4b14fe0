package models

import "errors"

// Domain errors. State-machine and moderation-gate violations are
// returned to callers as typed failures, never swallowed.
var (
	// ErrInvalidTransition is returned for state machine misuse; not retried.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotLive is returned when chat or signaling targets a session that is not live.
	ErrSessionNotLive = errors.New("session is not live")
	// ErrNotHost is returned when a transition requires the host (or an admin override).
	ErrNotHost = errors.New("principal is not the session host")
	// ErrSessionFull is returned when a join would exceed max participants.
	ErrSessionFull = errors.New("session participant cap reached")
	// ErrRelayUnavailable is returned when relay credentials cannot be obtained;
	// signaling degrades, the session stays live.
	ErrRelayUnavailable = errors.New("relay credentials unavailable")
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
)
