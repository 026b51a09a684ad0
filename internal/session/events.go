package session

import (
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/activity"
	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"github.com/MarcoPoloResearchLab/notemate/internal/users"
)

// EventType names the kind of state change carried by an Event.
type EventType string

const (
	EventDocument EventType = "document"
	EventPresence EventType = "presence"
	EventLog      EventType = "log"
	EventChat     EventType = "chat"
	EventStats    EventType = "stats"
)

// Event is a state change pushed to the view layer.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Publisher receives session events. Implementations must not block.
type Publisher interface {
	Publish(event Event)
}

// DocumentEvent describes an accepted document mutation.
type DocumentEvent struct {
	Kind     editor.ChangeKind `json:"kind"`
	ActorID  editor.UserID     `json:"actor_id"`
	Version  int64             `json:"version"`
	Document editor.Document   `json:"document"`
	Cursors  []editor.Cursor   `json:"cursors"`
}

// DocumentChanged implements editor.Observer.
func (s *Session) DocumentChanged(change editor.Change) {
	s.publish(EventDocument, DocumentEvent{
		Kind:     change.Kind,
		ActorID:  change.ActorID,
		Version:  change.Version,
		Document: s.store.Document(),
		Cursors:  s.store.Cursors(),
	})
}

// UserChanged implements users.Observer.
func (s *Session) UserChanged(user users.User) {
	s.publish(EventPresence, user)
}

// EntryAdded implements activity.LogObserver.
func (s *Session) EntryAdded(entry activity.Entry) {
	s.publish(EventLog, entry)
}

// MessagePosted implements activity.ChatObserver. Local messages feed the reactive layer.
func (s *Session) MessagePosted(message activity.Message) {
	s.publish(EventChat, message)
	if message.UserID == s.localUserID && s.scheduler != nil {
		s.scheduler.HandleMessage(message)
	}
}

func (s *Session) publish(eventType EventType, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(Event{Type: eventType, Timestamp: s.clock(), Payload: payload})
}
