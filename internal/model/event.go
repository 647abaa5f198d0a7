package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeRead    EventType = "read"
	EventTypeCleared EventType = "cleared"
	EventTypeStatus  EventType = "status"
)

// ConversationEvent is published whenever the local view changes.
type ConversationEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	CounterpartID string         `json:"counterpart_id,omitempty"`
	Conversation  *Conversation  `json:"conversation,omitempty"`
	Message       *Message       `json:"message,omitempty"`
	Status        *SessionStatus `json:"status,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
