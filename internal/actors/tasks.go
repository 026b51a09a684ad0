package actors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/notemate/internal/activity"
	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"github.com/MarcoPoloResearchLab/notemate/internal/network"
	"github.com/MarcoPoloResearchLab/notemate/internal/users"
	"go.uber.org/zap"
)

const (
	minTypoLength    = 6
	preferredLineLen = 10
	linePickAttempts = 5
)

// perform runs one task to completion. Only context errors stop the worker.
func (s *Scheduler) perform(ctx context.Context, actor *agent, next task) error {
	if err := s.sleep(ctx, next.delay); err != nil {
		return err
	}

	var err error
	switch next.action {
	case ActionEdit:
		err = s.network.Do(ctx, func() error { return s.edit(ctx, actor) })
	case ActionCursor:
		err = s.network.Do(ctx, func() error { return s.moveCursor(actor) })
	case ActionChat:
		err = s.sendChat(ctx, actor, next.message)
	case ActionIdle:
		err = s.network.Do(ctx, func() error { return s.users.SetStatus(actor.profile.ID, users.StatusIdle) })
	default:
		err = fmt.Errorf("unknown action %q", next.action)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, network.ErrPacketLost):
		return s.recoverFromLoss(ctx, actor)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.Warn("actor action failed",
			zap.String("operation", opPerform),
			zap.String("actor_id", actor.profile.ID.String()),
			zap.String("action", string(next.action)),
			zap.Error(err))
		return nil
	}
}

// recoverFromLoss hides the actor's cursor and flags the connection down, then restores both
// after the recovery delay. A user-forced disconnect keeps the connection flag down.
func (s *Scheduler) recoverFromLoss(ctx context.Context, actor *agent) error {
	s.network.MarkDisconnected()
	s.store.SetCursorVisibility(actor.profile.ID, false)
	s.log.AddUser(activity.EntrySystem, actorOf(actor.profile), "packet loss detected", "(action cancelled)")

	if err := s.sleep(ctx, s.timing.RecoveryDelay); err != nil {
		return err
	}

	if s.network.Heal() {
		s.logger.Debug("connection restored", zap.String("actor_id", actor.profile.ID.String()))
	}
	s.store.SetCursorVisibility(actor.profile.ID, true)
	s.store.UpdateCursorLatency(actor.profile.ID, s.latencyMS())
	return nil
}

// edit picks a line, preferring substantial ones, parks the cursor on it and writes a contribution.
func (s *Scheduler) edit(ctx context.Context, actor *agent) error {
	text := s.store.Text()
	lines := strings.Split(text, "\n")

	index := s.rng.Intn(len(lines))
	for attempt := 0; attempt < linePickAttempts; attempt++ {
		if utf8.RuneCountInString(strings.TrimSpace(lines[index])) > preferredLineLen {
			break
		}
		index = s.rng.Intn(len(lines))
	}
	line := lines[index]
	lineNumber := index + 1
	endColumn := utf8.RuneCountInString(line) + 1

	s.store.SetCursor(editor.Cursor{
		UserID:    actor.profile.ID,
		Position:  editor.Position{Line: lineNumber, Column: 1},
		LatencyMS: s.latencyMS(),
		Visible:   true,
	})
	if err := s.sleep(ctx, s.timing.ReadPause); err != nil {
		return err
	}

	lowered := strings.ToLower(line)
	switch {
	case strings.Contains(lowered, "todo") || strings.Contains(line, "- [ ]"):
		return s.typeText(ctx, actor, editor.Position{Line: lineNumber, Column: endColumn}, s.script.CheckedSuffix)
	case line != "" && s.rng.Float64() > 0.3:
		note := fmt.Sprintf(s.script.NoteFormat, actor.profile.Name)
		return s.typeText(ctx, actor, editor.Position{Line: lineNumber, Column: endColumn}, note)
	default:
		return s.typeText(ctx, actor, editor.Position{Line: lineNumber, Column: 1}, s.script.NewIdea)
	}
}

// typeText inserts text at position. Sometimes a wrong fragment is typed first, then deleted
// and replaced, producing three operations instead of one.
func (s *Scheduler) typeText(ctx context.Context, actor *agent, position editor.Position, text string) error {
	actorID := actor.profile.ID
	if err := s.users.MarkTyping(actorID); err != nil {
		return err
	}
	s.network.SetSyncing(true)
	defer s.network.SetSyncing(false)

	s.store.SetCursor(editor.Cursor{UserID: actorID, Position: position, Visible: true})
	s.store.UpdateCursorLatency(actorID, s.latencyMS())
	baseVersion := s.store.Version()

	message := "edited the document"
	if s.shouldTypo(text) {
		wrong := typo(text)
		if err := s.apply(ctx, editor.Insert(actorID, position, wrong), baseVersion); err != nil {
			return err
		}
		if err := s.sleep(ctx, s.timing.TypoPause); err != nil {
			return err
		}
		if err := s.apply(ctx, editor.Delete(actorID, s.cursorOf(actorID, position), wrong), baseVersion); err != nil {
			return err
		}
		if err := s.sleep(ctx, s.timing.FixPause); err != nil {
			return err
		}
		message = "fixed a typo"
	}
	if err := s.apply(ctx, editor.Insert(actorID, s.cursorOf(actorID, position), text), baseVersion); err != nil {
		return err
	}

	s.log.AddUser(activity.EntryEdit, actorOf(actor.profile), message, fmt.Sprintf("line %d", position.Line))
	if err := s.users.SetStatus(actorID, users.StatusOnline); err != nil {
		return err
	}
	return s.users.RecordAction(actorID)
}

func (s *Scheduler) apply(ctx context.Context, op editor.Operation, baseVersion int64) error {
	op.RemoteVersion = baseVersion
	_, err := s.store.ApplyRemoteOperation(ctx, op)
	return err
}

// shouldTypo only fires for single-line text; a delete never crosses a line break.
func (s *Scheduler) shouldTypo(text string) bool {
	if utf8.RuneCountInString(text) < minTypoLength || strings.Contains(text, "\n") {
		return false
	}
	return s.rng.Float64() < s.typoProbability
}

// typo replaces the middle character of text with "zx".
func typo(text string) string {
	runes := []rune(text)
	half := len(runes) / 2
	return string(runes[:half]) + "zx" + string(runes[half+1:])
}

func (s *Scheduler) cursorOf(actorID editor.UserID, fallback editor.Position) editor.Position {
	if cursor, ok := s.store.Cursor(actorID); ok {
		return cursor.Position
	}
	return fallback
}

func (s *Scheduler) moveCursor(actor *agent) error {
	lines := strings.Split(s.store.Text(), "\n")
	index := s.rng.Intn(len(lines))
	column := s.rng.Intn(utf8.RuneCountInString(lines[index])+1) + 1
	position := editor.Position{Line: index + 1, Column: column}

	s.store.SetCursor(editor.Cursor{
		UserID:    actor.profile.ID,
		Position:  position,
		LatencyMS: s.latencyMS(),
		Visible:   true,
	})
	s.log.AddUser(activity.EntryCursor, actorOf(actor.profile), "moved the cursor",
		fmt.Sprintf("line %d:%d", position.Line, position.Column))
	return s.users.RecordAction(actor.profile.ID)
}

// sendChat composes for a while, then posts through the network. An empty message takes the
// actor's next conversation line.
func (s *Scheduler) sendChat(ctx context.Context, actor *agent, message string) error {
	if message == "" {
		message = s.nextLine(actor)
	}
	if message == "" {
		return nil
	}
	actorID := actor.profile.ID

	s.log.AddUser(activity.EntryChat, actorOf(actor.profile), "is writing a message...", "")
	s.chat.SetTyping(actorID, true)
	if err := s.users.MarkTyping(actorID); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.rng.Between(s.timing.ComposeMin, s.timing.ComposeMax)); err != nil {
		return err
	}

	err := s.network.Do(ctx, func() error {
		s.network.SetSyncing(true)
		defer s.network.SetSyncing(false)
		s.chat.Post(actorOf(actor.profile), message)
		s.chat.IncrementUnread()
		return s.users.RecordAction(actorID)
	})
	s.chat.SetTyping(actorID, false)
	if statusErr := s.users.SetStatus(actorID, users.StatusOnline); statusErr != nil && err == nil {
		err = statusErr
	}
	return err
}

func (s *Scheduler) nextLine(actor *agent) string {
	lines := actor.lines
	if len(lines) == 0 {
		lines = s.script.Generic
	}
	if len(lines) == 0 {
		return ""
	}
	line := lines[actor.lineIndex%len(lines)]
	actor.lineIndex++
	return line
}
