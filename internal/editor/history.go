package editor

import (
	"context"
	"time"
)

// Undo restores the most recent snapshot. It reports false and changes nothing when the stack is empty.
func (s *Store) Undo(ctx context.Context) (Document, bool) {
	return s.travel(ctx, ChangeUndo)
}

// Redo re-applies the most recently undone snapshot. It reports false when there is nothing to redo.
func (s *Store) Redo(ctx context.Context) (Document, bool) {
	return s.travel(ctx, ChangeRedo)
}

// HistoryDepth returns the sizes of the undo and redo stacks.
func (s *Store) HistoryDepth() (undo int, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack), len(s.redoStack)
}

// UndoStack returns a copy of the undo stack, oldest first.
func (s *Store) UndoStack() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.undoStack...)
}

// RedoStack returns a copy of the redo stack, oldest first.
func (s *Store) RedoStack() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.redoStack...)
}

func (s *Store) travel(ctx context.Context, kind ChangeKind) (Document, bool) {
	s.mu.Lock()
	source, target := &s.undoStack, &s.redoStack
	if kind == ChangeRedo {
		source, target = &s.redoStack, &s.undoStack
	}
	if len(*source) == 0 {
		document := s.documentLocked()
		s.mu.Unlock()
		return document, false
	}

	last := len(*source) - 1
	snapshot := (*source)[last]
	*source = (*source)[:last]
	*target = appendBounded(*target, Snapshot{Text: s.text, Position: s.localPositionLocked()}, s.historyLimit)

	s.text = snapshot.Text
	if cursor, ok := s.cursors[s.localUserID]; ok {
		cursor.Position = snapshot.Position
		s.cursors[s.localUserID] = cursor
	}
	s.version++
	s.isDirty = true
	s.clampCursorsLocked()
	s.persistLocked(ctx)
	document := s.documentLocked()
	change := Change{Kind: kind, ActorID: s.localUserID, Version: s.version}
	s.mu.Unlock()

	s.notify(change)
	return document, true
}

func (s *Store) shouldSnapshotLocked(next string, now time.Time) bool {
	if s.lastSnapshotAt.IsZero() {
		return true
	}
	if now.Sub(s.lastSnapshotAt) >= s.snapshotInterval {
		return true
	}
	return isLogicalBreak(s.text, next)
}

func (s *Store) pushUndoLocked(snapshot Snapshot) {
	s.undoStack = appendBounded(s.undoStack, snapshot, s.historyLimit)
}

// replayOntoHistoryLocked applies op to every stored snapshot so undo keeps concurrent remote work.
func (s *Store) replayOntoHistoryLocked(op Operation) {
	replay := func(stack []Snapshot) {
		for index := range stack {
			text, edit := applyOperation(stack[index].Text, op)
			stack[index].Text = text
			stack[index].Position = transformPosition(stack[index].Position, edit)
		}
	}
	replay(s.undoStack)
	replay(s.redoStack)
}

func (s *Store) localPositionLocked() Position {
	if cursor, ok := s.cursors[s.localUserID]; ok {
		return cursor.Position
	}
	return Position{Line: 1, Column: 1}
}

func appendBounded(stack []Snapshot, snapshot Snapshot, limit int) []Snapshot {
	stack = append(stack, snapshot)
	if overflow := len(stack) - limit; overflow > 0 {
		stack = append([]Snapshot(nil), stack[overflow:]...)
	}
	return stack
}
