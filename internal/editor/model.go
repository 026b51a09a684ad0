package editor

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds bounds.
	ErrInvalidUserID = errors.New("editor: invalid user id")
	// ErrInvalidOperation indicates that an operation kind is unknown or its actor is missing.
	ErrInvalidOperation = errors.New("editor: invalid operation")
)

// UserID identifies an actor participating in the session.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// OperationKind enumerates the text operations an actor can perform.
type OperationKind string

const (
	// OperationInsert inserts the payload at the position.
	OperationInsert OperationKind = "insert"
	// OperationDelete removes len(payload) characters before the position.
	OperationDelete OperationKind = "delete"
)

// Position is a 1-based line and column into the document. Columns count runes.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Operation is a single insert or delete from an actor.
// RemoteVersion is the sender's document version, zero when unknown.
type Operation struct {
	ActorID       UserID        `json:"actor_id"`
	Kind          OperationKind `json:"kind"`
	Position      Position      `json:"position"`
	Payload       string        `json:"payload"`
	RemoteVersion int64         `json:"remote_version,omitempty"`
}

// Insert builds an insert operation.
func Insert(actorID UserID, position Position, text string) Operation {
	return Operation{ActorID: actorID, Kind: OperationInsert, Position: position, Payload: text}
}

// Delete builds a delete operation removing as many characters as payload holds.
func Delete(actorID UserID, position Position, payload string) Operation {
	return Operation{ActorID: actorID, Kind: OperationDelete, Position: position, Payload: payload}
}

// DeleteCount is the number of runes a delete removes; an empty payload removes one.
func (op Operation) DeleteCount() int {
	count := utf8.RuneCountInString(op.Payload)
	if count == 0 {
		return 1
	}
	return count
}

func (op Operation) validate() error {
	if op.ActorID == "" {
		return fmt.Errorf("%w: empty actor id", ErrInvalidOperation)
	}
	if op.Kind != OperationInsert && op.Kind != OperationDelete {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// Cursor is the advisory display position of an actor.
type Cursor struct {
	UserID    UserID   `json:"user_id"`
	Position  Position `json:"position"`
	LatencyMS int      `json:"latency_ms"`
	Visible   bool     `json:"visible"`
}

// Snapshot is an undo/redo history entry for the local actor.
type Snapshot struct {
	Text     string   `json:"text"`
	Position Position `json:"position"`
}

// Document is a point-in-time copy of the store state.
type Document struct {
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	Version   int64     `json:"version"`
	SizeBytes int       `json:"size_bytes"`
	Encoding  string    `json:"encoding"`
	Language  string    `json:"language"`
	IsDirty   bool      `json:"is_dirty"`
	LastSync  time.Time `json:"last_sync"`
}
