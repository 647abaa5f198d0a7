// Package model defines data structures for the chat synchronization service.
package model

import (
	"time"
)

// Conversation represents the thread with one counterpart.
type Conversation struct {
	ID            string    `json:"id"`
	CounterpartID string    `json:"counterpart_id"`
	DisplayName   string    `json:"display_name"`
	UnreadCount   int       `json:"unread_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Messages      []Message `json:"messages"`
}

// LastMessage returns the newest message, or nil for an empty conversation.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// OpenConversationRequest is the request to open (get or create) a conversation.
type OpenConversationRequest struct {
	Phone string `json:"phone"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
