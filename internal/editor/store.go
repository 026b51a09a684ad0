package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHistoryLimit     = 50
	defaultSnapshotInterval = time.Second
	defaultEncoding         = "UTF-8"
	defaultLanguage         = "markdown"

	opStoreNew       = "editor.store.new"
	opLoadFromStore  = "editor.load_from_storage"
	opPersistContent = "editor.persist"
)

var (
	errMissingLocalUser = errors.New("local user identifier is required")
	noOpLogger          = zap.NewNop()
)

// Persistence stores the latest document text under a single key. Writes are best-effort.
type Persistence interface {
	SaveDocument(ctx context.Context, key string, text string, version int64) error
	LoadDocument(ctx context.Context, key string) (text string, version int64, found bool, err error)
}

// ChangeKind labels the origin of a document mutation.
type ChangeKind string

const (
	ChangeLocal  ChangeKind = "local"
	ChangeRemote ChangeKind = "remote"
	ChangeUndo   ChangeKind = "undo"
	ChangeRedo   ChangeKind = "redo"
	ChangeLoad   ChangeKind = "load"
)

// Change describes an accepted mutation.
type Change struct {
	Kind      ChangeKind
	ActorID   UserID
	Version   int64
	Operation *Operation
}

// Observer is notified after each accepted mutation, outside the store lock.
type Observer interface {
	DocumentChanged(change Change)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	LocalUserID      UserID
	DocumentName     string
	InitialText      string
	StorageKey       string
	HistoryLimit     int
	SnapshotInterval time.Duration
	Persistence      Persistence
	Observer         Observer
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Store owns the document text, its version, the cursor set and the local undo/redo history.
// Mutations are serialized by a mutex.
type Store struct {
	mu sync.Mutex

	localUserID      UserID
	name             string
	text             string
	version          int64
	isDirty          bool
	lastSync         time.Time
	cursors          map[UserID]Cursor
	undoStack        []Snapshot
	redoStack        []Snapshot
	lastSnapshotAt   time.Time
	historyLimit     int
	snapshotInterval time.Duration

	storageKey  string
	persistence Persistence
	observer    Observer
	clock       func() time.Time
	logger      *zap.Logger
}

// NewStore constructs a Store seeded with the initial text at version 1.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.LocalUserID == "" {
		return nil, fmt.Errorf("%s: %w", opStoreNew, errMissingLocalUser)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	snapshotInterval := cfg.SnapshotInterval
	if snapshotInterval <= 0 {
		snapshotInterval = defaultSnapshotInterval
	}

	return &Store{
		localUserID:      cfg.LocalUserID,
		name:             cfg.DocumentName,
		text:             cfg.InitialText,
		version:          1,
		lastSync:         clock(),
		cursors:          make(map[UserID]Cursor),
		historyLimit:     historyLimit,
		snapshotInterval: snapshotInterval,
		storageKey:       cfg.StorageKey,
		persistence:      cfg.Persistence,
		observer:         cfg.Observer,
		clock:            clock,
		logger:           logger,
	}, nil
}

// LoadFromStorage seeds the text from persistence and clears both history stacks.
// It reports whether a persisted document was found.
func (s *Store) LoadFromStorage(ctx context.Context) bool {
	if s.persistence == nil {
		return false
	}
	text, _, found, err := s.persistence.LoadDocument(ctx, s.storageKey)
	if err != nil {
		s.logger.Warn("document load failed",
			zap.String("operation", opLoadFromStore),
			zap.String("key", s.storageKey),
			zap.Error(err))
		return false
	}
	if !found {
		return false
	}

	s.mu.Lock()
	s.text = text
	s.undoStack = nil
	s.redoStack = nil
	s.clampCursorsLocked()
	change := Change{Kind: ChangeLoad, ActorID: s.localUserID, Version: s.version}
	s.mu.Unlock()

	s.notify(change)
	return true
}

// Document returns a copy of the current document state.
func (s *Store) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentLocked()
}

// Text returns the current document text.
func (s *Store) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Version returns the current document version.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// SetDocumentName renames the document.
func (s *Store) SetDocumentName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// MarkSynced records a sync point and clears the dirty flag.
func (s *Store) MarkSynced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = s.clock()
	s.isDirty = false
}

// SetLocalContent replaces the whole text with the editing surface's buffer.
// A snapshot is pushed first when the edit forms a logical break.
func (s *Store) SetLocalContent(ctx context.Context, text string) Document {
	s.mu.Lock()
	now := s.clock()
	if text != s.text && s.shouldSnapshotLocked(text, now) {
		s.pushUndoLocked(Snapshot{Text: s.text, Position: s.localPositionLocked()})
		s.redoStack = nil
		s.lastSnapshotAt = now
	}
	s.text = text
	s.version++
	s.isDirty = true
	s.clampCursorsLocked()
	s.persistLocked(ctx)
	document := s.documentLocked()
	change := Change{Kind: ChangeLocal, ActorID: s.localUserID, Version: s.version}
	s.mu.Unlock()

	s.notify(change)
	return document
}

// ApplyRemoteOperation composes op onto the current text. Out-of-range positions are clamped.
// Operations from any actor other than the local one are replayed onto every history snapshot.
func (s *Store) ApplyRemoteOperation(ctx context.Context, op Operation) (Document, error) {
	if err := op.validate(); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	text, edit := applyOperation(s.text, op)
	s.text = text

	if op.ActorID != s.localUserID {
		s.replayOntoHistoryLocked(op)
	}

	for userID, cursor := range s.cursors {
		if userID == op.ActorID {
			cursor.Position = endOfEdit(edit)
		} else {
			cursor.Position = transformPosition(cursor.Position, edit)
		}
		s.cursors[userID] = cursor
	}
	s.clampCursorsLocked()

	if op.RemoteVersion > s.version {
		s.version = op.RemoteVersion
	}
	s.version++
	s.isDirty = true
	s.persistLocked(ctx)
	document := s.documentLocked()
	applied := op
	change := Change{Kind: ChangeRemote, ActorID: op.ActorID, Version: s.version, Operation: &applied}
	s.mu.Unlock()

	s.notify(change)
	return document, nil
}

func (s *Store) documentLocked() Document {
	return Document{
		Name:      s.name,
		Text:      s.text,
		Version:   s.version,
		SizeBytes: len(s.text),
		Encoding:  defaultEncoding,
		Language:  defaultLanguage,
		IsDirty:   s.isDirty,
		LastSync:  s.lastSync,
	}
}

func (s *Store) persistLocked(ctx context.Context) {
	if s.persistence == nil {
		return
	}
	// Best effort, and still written after the caller's context is done.
	if err := s.persistence.SaveDocument(context.WithoutCancel(ctx), s.storageKey, s.text, s.version); err != nil {
		s.logger.Warn("document persistence failed",
			zap.String("operation", opPersistContent),
			zap.String("key", s.storageKey),
			zap.Int64("version", s.version),
			zap.Error(err))
	}
}

func (s *Store) notify(change Change) {
	if s.observer != nil {
		s.observer.DocumentChanged(change)
	}
}
