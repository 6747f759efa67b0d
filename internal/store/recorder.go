package store

import (
	"log"

	"github.com/rahul/planpilot/internal/plan"
)

// Recorder mirrors driver events into the store so a session can be
// inspected, or its plan reloaded, after the process exits.
type Recorder struct {
	Store  *Store
	ChatID string
}

func NewRecorder(s *Store, chatID string) *Recorder {
	return &Recorder{Store: s, ChatID: chatID}
}

func (r *Recorder) Notify(ev plan.Event) {
	if ev.Step != nil && ev.Index >= 0 && ev.Index < ev.Total {
		if err := r.Store.SaveStep(ev.PlanID, ev.Index, *ev.Step); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
	err := r.Store.SaveSession(SessionRecord{
		ID:        ev.SessionID,
		PlanID:    ev.PlanID,
		ChatID:    r.ChatID,
		Mode:      ev.Mode,
		State:     ev.State,
		Index:     ev.Index,
		UpdatedAt: ev.At,
	})
	if err != nil {
		log.Printf("Warning: failed to persist session %s: %v", ev.SessionID, err)
	}
}
