package activity

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
)

// DefaultLogCapacity bounds the activity log.
const DefaultLogCapacity = 200

// EntryType classifies a log entry.
type EntryType string

const (
	EntryEdit       EntryType = "edit"
	EntryCursor     EntryType = "cursor"
	EntrySync       EntryType = "sync"
	EntryConnect    EntryType = "connect"
	EntryDisconnect EntryType = "disconnect"
	EntrySystem     EntryType = "system"
	EntryChat       EntryType = "chat"
)

var entryTypes = []EntryType{EntryEdit, EntryCursor, EntrySync, EntryConnect, EntryDisconnect, EntrySystem, EntryChat}

// ParseEntryType maps user input onto an EntryType.
func ParseEntryType(value string) (EntryType, error) {
	normalized := EntryType(strings.ToLower(strings.TrimSpace(value)))
	for _, entryType := range entryTypes {
		if entryType == normalized {
			return entryType, nil
		}
	}
	return "", fmt.Errorf("activity: unknown entry type %q", value)
}

// Actor names the participant an entry is attributed to.
type Actor struct {
	ID    editor.UserID
	Name  string
	Color string
}

// Entry is an immutable activity record.
type Entry struct {
	ID        string        `json:"id"`
	Type      EntryType     `json:"type"`
	UserID    editor.UserID `json:"userId,omitempty"`
	UserName  string        `json:"userName,omitempty"`
	UserColor string        `json:"userColor,omitempty"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// LogObserver is notified after each append.
type LogObserver interface {
	EntryAdded(entry Entry)
}

// LogConfig describes the dependencies of a Log.
type LogConfig struct {
	Capacity   int
	IDProvider IDProvider
	Clock      func() time.Time
	Observer   LogObserver
}

// Log is the bounded activity log. Appends never fail and never block on readers.
type Log struct {
	mu       sync.RWMutex
	entries  *ring[Entry]
	filters  map[EntryType]struct{}
	ids      IDProvider
	now      func() time.Time
	observer LogObserver
}

// NewLog constructs an empty activity log.
func NewLog(cfg LogConfig) *Log {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Log{
		entries:  newRing[Entry](capacity),
		filters:  make(map[EntryType]struct{}),
		ids:      ids,
		now:      clock,
		observer: cfg.Observer,
	}
}

// Add appends entry, filling in a missing id and timestamp.
func (l *Log) Add(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = l.ids.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	l.mu.Lock()
	l.entries.push(entry)
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.EntryAdded(entry)
	}
	return entry
}

// AddSystem appends an unattributed system entry.
func (l *Log) AddSystem(message, details string) Entry {
	return l.Add(Entry{Type: EntrySystem, Message: message, Details: details})
}

// AddUser appends an entry attributed to actor.
func (l *Log) AddUser(entryType EntryType, actor Actor, message, details string) Entry {
	return l.Add(Entry{
		Type:      entryType,
		UserID:    actor.ID,
		UserName:  actor.Name,
		UserColor: actor.Color,
		Message:   message,
		Details:   details,
	})
}

// Entries returns every retained entry, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.slice()
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.len()
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.reset()
}

// ToggleFilter adds entryType to the active filter set, or removes it when already present.
// It reports whether the type is active afterwards.
func (l *Log) ToggleFilter(entryType EntryType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.filters[entryType]; ok {
		delete(l.filters, entryType)
		return false
	}
	l.filters[entryType] = struct{}{}
	return true
}

// ClearFilters empties the active filter set.
func (l *Log) ClearFilters() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters = make(map[EntryType]struct{})
}

// ActiveFilters returns the active filter set in a stable order.
func (l *Log) ActiveFilters() []EntryType {
	l.mu.RLock()
	defer l.mu.RUnlock()
	active := make([]EntryType, 0, len(l.filters))
	for _, entryType := range entryTypes {
		if _, ok := l.filters[entryType]; ok {
			active = append(active, entryType)
		}
	}
	return active
}

// Filtered returns the entries whose type is in the active filter set, or every entry when it is empty.
func (l *Log) Filtered() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.entries.slice()
	if len(l.filters) == 0 {
		return entries
	}
	matched := entries[:0]
	for _, entry := range entries {
		if _, ok := l.filters[entry.Type]; ok {
			matched = append(matched, entry)
		}
	}
	return matched
}

// Export serializes every retained entry as an indented JSON array.
func (l *Log) Export() ([]byte, error) {
	entries := l.Entries()
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("activity: export: %w", err)
	}
	return payload, nil
}

// ExportFileName is the download name for an export taken at moment.
func ExportFileName(prefix string, moment time.Time) string {
	return fmt.Sprintf("%s-%d.json", prefix, moment.Unix())
}
