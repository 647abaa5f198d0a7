package model

import (
	"time"
)

// Direction tells who authored a message.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status is the delivery outcome of an outgoing message.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Message represents one stored chat message.
type Message struct {
	// Identity
	ID         string `json:"id"`
	ExternalID string `json:"external_id,omitempty"`

	// Content
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	Status    Status    `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

// ExternalMessage is a message as reported by the external session, either
// pushed as an event or returned by a history fetch.
type ExternalMessage struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Body      string `json:"body"`
	FromMe    bool   `json:"from_me"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix seconds, 0 when unknown
}

// Time returns the external timestamp, or the zero time when absent.
func (m *ExternalMessage) Time() time.Time {
	if m.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(m.Timestamp, 0)
}

// SendMessageRequest is the request to send a message.
type SendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessageResponse is the response after a successful send.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}

// ErrorEvent represents an error pushed over the event stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
