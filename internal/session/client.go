// Package session manages the lifecycle of the external chat session and
// keeps the conversation store reconciled with it.
package session

import (
	"context"
	"errors"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// ErrNotConnected is returned by operations that need a ready session.
var ErrNotConnected = errors.New("session not connected")

// Client is a handle on one external chat session.
type Client interface {
	// Start begins connecting. Progress is reported as events.
	Start(ctx context.Context) error

	// FetchRecentMessages returns up to limit of the newest messages
	// exchanged with address.
	FetchRecentMessages(ctx context.Context, address string, limit int) ([]model.ExternalMessage, error)

	// SendMessage delivers text to address and returns the external id of the
	// sent message when the session reports one.
	SendMessage(ctx context.Context, address, text string) (string, error)

	// Destroy tears the session down.
	Destroy(ctx context.Context) error
}

// Factory builds a new Client that reports its events on events.
type Factory func(events chan<- model.SessionEvent) (Client, error)
