package model

// SessionState is the lifecycle state of the external session.
type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionInitializing SessionState = "initializing"
	SessionAwaitingScan SessionState = "awaiting_scan"
	SessionConnected    SessionState = "connected"
	SessionFailed       SessionState = "failed"
)

// SessionStatus is a read-only snapshot of the session.
type SessionStatus struct {
	State        SessionState `json:"state"`
	Connected    bool         `json:"connected"`
	Initializing bool         `json:"initializing"`
	Challenge    *string      `json:"qr,omitempty"`
	LastError    *string      `json:"last_error,omitempty"`
}

// SessionEventType names an event emitted by the external session.
type SessionEventType string

const (
	SessionEventChallenge     SessionEventType = "challenge"
	SessionEventAuthenticated SessionEventType = "authenticated"
	SessionEventReady         SessionEventType = "ready"
	SessionEventAuthFailure   SessionEventType = "auth_failure"
	SessionEventDisconnected  SessionEventType = "disconnected"
	SessionEventMessage       SessionEventType = "message"
)

// SessionEvent is one event from the external session. Payload carries the
// challenge for SessionEventChallenge and the reason for failures; Message is
// set for SessionEventMessage.
type SessionEvent struct {
	Type    SessionEventType `json:"type"`
	Payload string           `json:"payload,omitempty"`
	Message *ExternalMessage `json:"message,omitempty"`
}
