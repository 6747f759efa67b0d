package gateway

import (
	"context"
	"fmt"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Handler turns one inbound chat message into a reply.
type Handler interface {
	Handle(ctx context.Context, chatID, text string) (string, error)
}

// ReplyText renders a handler result for a chat. Errors are shown to the
// operator rather than swallowed.
func ReplyText(reply string, err error) string {
	if err != nil {
		return fmt.Sprintf("⚠️ %v", err)
	}
	return reply
}
