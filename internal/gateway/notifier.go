package gateway

import (
	"log"

	"github.com/rahul/planpilot/internal/plan"
)

// Notifier forwards session events to one chat.
type Notifier struct {
	Messenger Messenger
	ChatID    string
}

func NewNotifier(m Messenger, chatID string) *Notifier {
	return &Notifier{Messenger: m, ChatID: chatID}
}

func (n *Notifier) Notify(ev plan.Event) {
	text := FormatEvent(ev)
	if text == "" {
		return
	}
	if err := n.Messenger.Send(n.ChatID, text); err != nil {
		log.Printf("Warning: failed to notify chat %s: %v", n.ChatID, err)
	}
}
