package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/activity"
	"github.com/MarcoPoloResearchLab/notemate/internal/actors"
	"github.com/MarcoPoloResearchLab/notemate/internal/config"
	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"github.com/MarcoPoloResearchLab/notemate/internal/network"
	"github.com/MarcoPoloResearchLab/notemate/internal/users"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	opSessionNew = "session.new"
	opSync       = "session.sync"
	opExport     = "session.export"

	tickInterval = time.Second

	syncLatencyMin = 50 * time.Millisecond
	syncLatencyMax = 300 * time.Millisecond
)

// ErrEmptyMessage indicates a chat message without content.
var ErrEmptyMessage = errors.New("session: empty chat message")

// ErrEmptyDocumentName indicates a rename without a name.
var ErrEmptyDocumentName = errors.New("session: empty document name")

var errLocalUserNotInRoster = errors.New("local user is not part of the roster")

// Config describes the dependencies of a Session.
type Config struct {
	App         config.AppConfig
	Persistence editor.Persistence
	Publisher   Publisher
	Roster      []users.Profile
	Script      *actors.Script
	InitialText string
	Clock       func() time.Time
	Random      *rand.Rand
	Sleep       network.SleepFunc
	Logger      *zap.Logger
}

// Stats is the session summary shown next to the editor.
type Stats struct {
	SessionID       string        `json:"session_id"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds int64         `json:"duration_seconds"`
	Duration        string        `json:"duration"`
	OnlineUsers     int           `json:"online_users"`
	Network         network.State `json:"network"`
	Version         int64         `json:"version"`
	UndoDepth       int           `json:"undo_depth"`
	RedoDepth       int           `json:"redo_depth"`
	UnreadMessages  int           `json:"unread_messages"`
}

// Session is the application context: it owns every service of a collaborative editing session
// and the local user's flows into them.
type Session struct {
	app         config.AppConfig
	localUserID editor.UserID
	localActor  activity.Actor
	store       *editor.Store
	network     *network.Simulator
	users       *users.Service
	log         *activity.Log
	chat        *activity.Chat
	scheduler   *actors.Scheduler
	publisher   Publisher
	clock       func() time.Time
	sleep       network.SleepFunc
	logger      *zap.Logger

	mu              sync.Mutex
	startedAt       time.Time
	durationSeconds int64
	lastEditLog     time.Time
}

// New composes a session and seeds the document from persistence when a copy exists.
func New(ctx context.Context, cfg Config) (*Session, error) {
	app := cfg.App
	localUserID, err := editor.NewUserID(app.LocalUserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opSessionNew, err)
	}
	roster := cfg.Roster
	if len(roster) == 0 {
		roster = users.DefaultRoster()
	}
	localProfile, ok := findProfile(roster, localUserID)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", opSessionNew, errLocalUserNotInRoster, localUserID)
	}
	script := actors.DefaultScript()
	if cfg.Script != nil {
		script = *cfg.Script
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = network.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	random := cfg.Random
	if random == nil {
		random = rand.New(rand.NewSource(clock().UnixNano()))
	}
	initialText := cfg.InitialText
	if initialText == "" {
		initialText = DefaultDocument
	}

	session := &Session{
		app:         app,
		localUserID: localUserID,
		localActor:  activity.Actor{ID: localProfile.ID, Name: localProfile.Name, Color: localProfile.Color},
		publisher:   cfg.Publisher,
		clock:       clock,
		sleep:       sleep,
		logger:      logger,
		startedAt:   clock(),
	}

	session.store, err = editor.NewStore(editor.StoreConfig{
		LocalUserID:  localUserID,
		DocumentName: app.DocumentName,
		InitialText:  initialText,
		StorageKey:   app.StorageKey,
		HistoryLimit: app.HistoryCapacity,
		Persistence:  cfg.Persistence,
		Observer:     session,
		Clock:        clock,
		Logger:       logger.Named("editor"),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opSessionNew, err)
	}

	session.network = network.NewSimulator(network.Config{
		MinLatency:      app.MinLatency,
		MaxLatency:      app.MaxLatency,
		LossProbability: app.PacketLossRate,
		SimulatedLagMS:  app.SimulatedLagMS,
		Random:          rand.New(rand.NewSource(random.Int63())),
		Sleep:           sleep,
		Logger:          logger.Named("network"),
	})

	session.users, err = users.NewService(users.ServiceConfig{
		Roster:        roster,
		TypingTimeout: app.TypingTimeout,
		IdleAfter:     app.IdleAfter,
		Clock:         clock,
		Observer:      session,
		Logger:        logger.Named("users"),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opSessionNew, err)
	}

	session.log = activity.NewLog(activity.LogConfig{Capacity: app.LogCapacity, Clock: clock, Observer: session})
	session.chat = activity.NewChat(activity.ChatConfig{
		Capacity: app.ChatCapacity,
		Clock:    clock,
		Mirror:   session.log,
		Observer: session,
	})

	timing := actors.DefaultTiming()
	timing.StartDelay = app.StartDelay
	timing.IntervalMin = app.IntervalMin
	timing.IntervalMax = app.IntervalMax
	timing.RecoveryDelay = app.RecoveryDelay
	session.scheduler, err = actors.NewScheduler(actors.Config{
		Store:           session.store,
		Network:         session.network,
		Users:           session.users,
		Log:             session.log,
		Chat:            session.chat,
		Actors:          users.Remote(roster, localUserID),
		LocalUserID:     localUserID,
		Timing:          timing,
		TypoProbability: app.TypoProbability,
		Weights: actors.Weights{
			Edit:   app.Weights.Edit,
			Cursor: app.Weights.Cursor,
			Chat:   app.Weights.Chat,
			Idle:   app.Weights.Idle,
		},
		Script: script,
		Random: rand.New(rand.NewSource(random.Int63())),
		Sleep:  sleep,
		Logger: logger.Named("actors"),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opSessionNew, err)
	}

	if session.store.LoadFromStorage(ctx) {
		session.log.Add(activity.Entry{Type: activity.EntrySync, Message: "document restored from local storage"})
	}
	session.store.SetCursor(editor.Cursor{UserID: localUserID, Position: editor.Position{Line: 1, Column: 1}, Visible: true})
	session.log.AddUser(activity.EntryConnect, session.localActor, "joined the session", app.SessionID)
	return session, nil
}

// Run drives the simulated collaborators, the session timer and background sync until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		return s.runTimer(groupCtx)
	})
	group.Go(func() error {
		return s.runSync(groupCtx)
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Stop cancels pending presence timers. Run calls it on exit.
func (s *Session) Stop() {
	s.users.Stop()
}

// Document returns the current document.
func (s *Session) Document() editor.Document {
	return s.store.Document()
}

// Cursors returns every live cursor.
func (s *Session) Cursors() []editor.Cursor {
	return s.store.Cursors()
}

// Users returns the roster with presence state.
func (s *Session) Users() []users.User {
	return s.users.Users()
}

// Logs returns the activity log through the active filters.
func (s *Session) Logs() []activity.Entry {
	return s.log.Filtered()
}

// ActivityLog exposes the activity log for filtering.
func (s *Session) ActivityLog() *activity.Log {
	return s.log
}

// Messages returns the chat history.
func (s *Session) Messages() []activity.Message {
	return s.chat.Messages()
}

// Edit applies the editing surface's whole buffer. The local user is marked typing and at most
// one edit entry is logged per debounce window. An unchanged buffer only bumps the version.
func (s *Session) Edit(ctx context.Context, text string) editor.Document {
	changed := s.store.Text() != text
	document := s.store.SetLocalContent(ctx, text)
	if !changed {
		return document
	}
	s.markLocalActivity()

	now := s.clock()
	s.mu.Lock()
	shouldLog := s.lastEditLog.IsZero() || now.Sub(s.lastEditLog) >= s.app.LogDebounce
	if shouldLog {
		s.lastEditLog = now
	}
	s.mu.Unlock()
	if shouldLog {
		s.log.AddUser(activity.EntryEdit, s.localActor, "is editing the document", fmt.Sprintf("version %d", document.Version))
	}
	return document
}

// RenameDocument changes the document name shown to collaborators.
func (s *Session) RenameDocument(name string) (editor.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return editor.Document{}, ErrEmptyDocumentName
	}
	s.store.SetDocumentName(name)
	s.log.AddUser(activity.EntrySystem, s.localActor, "renamed the document", name)
	return s.store.Document(), nil
}

// MoveCursor records the local caret.
func (s *Session) MoveCursor(position editor.Position) editor.Cursor {
	s.store.SetCursor(editor.Cursor{UserID: s.localUserID, Position: position, Visible: true})
	cursor, _ := s.store.Cursor(s.localUserID)
	return cursor
}

// Undo restores the previous local snapshot.
func (s *Session) Undo(ctx context.Context) (editor.Document, bool) {
	return s.store.Undo(ctx)
}

// Redo re-applies the last undone snapshot.
func (s *Session) Redo(ctx context.Context) (editor.Document, bool) {
	return s.store.Redo(ctx)
}

// History returns copies of the undo and redo stacks, oldest first.
func (s *Session) History() (undo []editor.Snapshot, redo []editor.Snapshot) {
	return s.store.UndoStack(), s.store.RedoStack()
}

// SendChat posts a message from the local user; collaborators may react to it.
func (s *Session) SendChat(content string) (activity.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return activity.Message{}, ErrEmptyMessage
	}
	message := s.chat.Post(s.localActor, content)
	if err := s.users.RecordAction(s.localUserID); err != nil {
		s.logger.Warn("local action not recorded", zap.Error(err))
	}
	return message, nil
}

// MarkChatRead clears the unread counter.
func (s *Session) MarkChatRead() {
	s.chat.ClearUnread()
}

// SetSimulatedLag updates the lag control and returns the applied value.
func (s *Session) SetSimulatedLag(lagMS int) int {
	applied := s.network.SetSimulatedLag(lagMS)
	s.log.AddSystem(fmt.Sprintf("simulated lag set to %d ms", applied), "")
	return applied
}

// SetConnected is the manual connect/disconnect toggle.
func (s *Session) SetConnected(connected bool) network.State {
	s.network.SetConnected(connected)
	if connected {
		s.log.AddUser(activity.EntryConnect, s.localActor, "reconnected", "")
		for _, cursor := range s.store.Cursors() {
			if cursor.UserID != s.localUserID && !cursor.Visible {
				s.store.SetCursorVisibility(cursor.UserID, true)
			}
		}
	} else {
		s.log.AddUser(activity.EntryDisconnect, s.localActor, "went offline", "")
	}
	return s.network.State()
}

// Network returns the simulated network state.
func (s *Session) Network() network.State {
	return s.network.State()
}

// Stats summarizes the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	duration := s.durationSeconds
	s.mu.Unlock()
	undo, redo := s.store.HistoryDepth()
	return Stats{
		SessionID:       s.app.SessionID,
		StartedAt:       s.startedAt,
		DurationSeconds: duration,
		Duration:        FormatDuration(time.Duration(duration) * time.Second),
		OnlineUsers:     s.users.OnlineCount(),
		Network:         s.network.State(),
		Version:         s.store.Version(),
		UndoDepth:       undo,
		RedoDepth:       redo,
		UnreadMessages:  s.chat.Unread(),
	}
}

// ExportLogs serializes the activity log and names the download.
func (s *Session) ExportLogs() ([]byte, string, error) {
	payload, err := s.log.Export()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", opExport, err)
	}
	return payload, activity.ExportFileName(s.app.ExportPrefix, s.clock()), nil
}

// ExportToFile writes the activity log into directory and returns the file path.
func (s *Session) ExportToFile(directory string) (string, error) {
	payload, name, err := s.ExportLogs()
	if err != nil {
		return "", err
	}
	if directory == "" {
		directory = s.app.ExportDirectory
	}
	path := filepath.Join(directory, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("%s: %w", opExport, err)
	}
	s.log.AddSystem("activity log exported", name)
	return path, nil
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

func (s *Session) markLocalActivity() {
	if err := s.users.MarkTyping(s.localUserID); err != nil {
		s.logger.Warn("local typing not recorded", zap.Error(err))
	}
	if err := s.users.RecordAction(s.localUserID); err != nil {
		s.logger.Warn("local action not recorded", zap.Error(err))
	}
}

func (s *Session) runTimer(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick refreshes the duration counter, sweeps idle users and publishes the stats.
func (s *Session) tick() {
	elapsed := s.clock().Sub(s.startedAt)
	s.mu.Lock()
	s.durationSeconds = int64(elapsed / time.Second)
	s.mu.Unlock()
	s.users.SweepIdle()
	s.publish(EventStats, s.Stats())
}

func (s *Session) runSync(ctx context.Context) error {
	interval := s.app.LogDebounce
	if interval <= 0 {
		interval = tickInterval
	}
	for {
		if err := s.sleep(ctx, interval); err != nil {
			return err
		}
		if err := s.syncOnce(ctx); err != nil {
			return err
		}
	}
}

// syncOnce pushes a dirty document through the network and marks it synced. A lost packet is
// retried on the next round.
func (s *Session) syncOnce(ctx context.Context) error {
	if !s.store.Document().IsDirty {
		return nil
	}
	s.network.SetSyncing(true)
	defer s.network.SetSyncing(false)
	err := s.network.Do(ctx, func() error {
		s.store.MarkSynced()
		return nil
	}, network.WithLatencyRange(syncLatencyMin, syncLatencyMax))
	switch {
	case err == nil:
		s.log.Add(activity.Entry{Type: activity.EntrySync, Message: "document synchronized",
			Details: fmt.Sprintf("version %d", s.store.Version())})
		return nil
	case errors.Is(err, network.ErrPacketLost):
		s.logger.Debug("sync lost", zap.String("operation", opSync))
		return nil
	default:
		return err
	}
}

func findProfile(roster []users.Profile, id editor.UserID) (users.Profile, bool) {
	for _, profile := range roster {
		if profile.ID == id {
			return profile, true
		}
	}
	return users.Profile{}, false
}
