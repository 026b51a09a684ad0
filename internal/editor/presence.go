package editor

import "sort"

// SetCursor records an actor's cursor, clamped to the current text.
func (s *Store) SetCursor(cursor Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor.Position = clampPosition(s.text, cursor.Position)
	s.cursors[cursor.UserID] = cursor
}

// RemoveCursor forgets an actor's cursor. The document version is untouched.
func (s *Store) RemoveCursor(userID UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, userID)
}

// UpdateCursorLatency sets the latency shown next to an actor's cursor.
func (s *Store) UpdateCursorLatency(userID UserID, latencyMS int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor, ok := s.cursors[userID]; ok {
		cursor.LatencyMS = latencyMS
		s.cursors[userID] = cursor
	}
}

// SetCursorVisibility shows or hides a known cursor; unknown actors get a cursor at the document start.
func (s *Store) SetCursorVisibility(userID UserID, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[userID]
	if !ok {
		cursor = Cursor{UserID: userID, Position: Position{Line: 1, Column: 1}}
	}
	cursor.Visible = visible
	s.cursors[userID] = cursor
}

// Cursor returns an actor's cursor.
func (s *Store) Cursor(userID UserID) (Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[userID]
	return cursor, ok
}

// Cursors returns every cursor ordered by user id.
func (s *Store) Cursors() []Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors := make([]Cursor, 0, len(s.cursors))
	for _, cursor := range s.cursors {
		cursors = append(cursors, cursor)
	}
	sort.Slice(cursors, func(i, j int) bool {
		return cursors[i].UserID < cursors[j].UserID
	})
	return cursors
}

func (s *Store) clampCursorsLocked() {
	for userID, cursor := range s.cursors {
		cursor.Position = clampPosition(s.text, cursor.Position)
		s.cursors[userID] = cursor
	}
}
