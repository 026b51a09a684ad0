package activity

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
)

// DefaultChatCapacity bounds the chat history.
const DefaultChatCapacity = 100

// Message is an immutable chat message.
type Message struct {
	ID        string        `json:"id"`
	UserID    editor.UserID `json:"userId"`
	UserName  string        `json:"userName"`
	UserColor string        `json:"userColor"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}

// ChatObserver is notified after each posted message.
type ChatObserver interface {
	MessagePosted(message Message)
}

// ChatConfig describes the dependencies of a Chat.
type ChatConfig struct {
	Capacity   int
	IDProvider IDProvider
	Clock      func() time.Time
	// Mirror receives a chat entry for every posted message when set.
	Mirror   *Log
	Observer ChatObserver
}

// Chat is the bounded chat history with unread and typing bookkeeping.
type Chat struct {
	mu       sync.RWMutex
	messages *ring[Message]
	unread   int
	typing   map[editor.UserID]bool
	ids      IDProvider
	now      func() time.Time
	mirror   *Log
	observer ChatObserver
}

// NewChat constructs an empty chat.
func NewChat(cfg ChatConfig) *Chat {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultChatCapacity
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Chat{
		messages: newRing[Message](capacity),
		typing:   make(map[editor.UserID]bool),
		ids:      ids,
		now:      clock,
		mirror:   cfg.Mirror,
		observer: cfg.Observer,
	}
}

// Post appends a message from actor and mirrors it into the activity log.
func (c *Chat) Post(actor Actor, content string) Message {
	message := Message{
		ID:        c.ids.NewID(),
		UserID:    actor.ID,
		UserName:  actor.Name,
		UserColor: actor.Color,
		Content:   content,
		Timestamp: c.now(),
	}
	c.mu.Lock()
	c.messages.push(message)
	c.typing[actor.ID] = false
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.Add(Entry{
			Type:      EntryChat,
			UserID:    actor.ID,
			UserName:  actor.Name,
			UserColor: actor.Color,
			Message:   content,
			Timestamp: message.Timestamp,
		})
	}
	if c.observer != nil {
		c.observer.MessagePosted(message)
	}
	return message
}

// Messages returns every retained message, oldest first.
func (c *Chat) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages.slice()
}

// Last returns the most recent message.
func (c *Chat) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	messages := c.messages.slice()
	if len(messages) == 0 {
		return Message{}, false
	}
	return messages[len(messages)-1], true
}

// Remove deletes the message with id. It reports whether a message was removed.
func (c *Chat) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.messages.len()
	c.messages.filter(func(message Message) bool {
		return message.ID != id
	})
	return c.messages.len() != before
}

// Clear drops every message and resets the unread counter.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages.reset()
	c.unread = 0
}

// SetTyping records whether userID is composing a message.
func (c *Chat) SetTyping(userID editor.UserID, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing[userID] = typing
}

// Typing returns the ids currently composing a message.
func (c *Chat) Typing() []editor.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var typing []editor.UserID
	for userID, active := range c.typing {
		if active {
			typing = append(typing, userID)
		}
	}
	return typing
}

// IncrementUnread bumps the unread counter.
func (c *Chat) IncrementUnread() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread++
}

// ClearUnread resets the unread counter.
func (c *Chat) ClearUnread() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread = 0
}

// Unread returns the unread counter.
func (c *Chat) Unread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unread
}
