package editor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const lineSeparator = "\n"

// resolvedEdit records where an operation actually landed after clamping.
type resolvedEdit struct {
	kind     OperationKind
	line     int
	column   int
	inserted string
	removed  int
}

// applyOperation splices op into text, clamping its position to the text bounds.
func applyOperation(text string, op Operation) (string, resolvedEdit) {
	lines := strings.Split(text, lineSeparator)
	lineIndex := clampInt(op.Position.Line-1, 0, len(lines)-1)
	line := []rune(lines[lineIndex])
	columnIndex := clampInt(op.Position.Column-1, 0, len(line))

	edit := resolvedEdit{kind: op.Kind, line: lineIndex + 1}
	switch op.Kind {
	case OperationInsert:
		lines[lineIndex] = string(line[:columnIndex]) + op.Payload + string(line[columnIndex:])
		edit.column = columnIndex + 1
		edit.inserted = op.Payload
	case OperationDelete:
		start := columnIndex - op.DeleteCount()
		if start < 0 {
			start = 0
		}
		lines[lineIndex] = string(line[:start]) + string(line[columnIndex:])
		edit.column = columnIndex + 1
		edit.removed = columnIndex - start
	}
	return strings.Join(lines, lineSeparator), edit
}

// transformPosition shifts a position recorded before edit so it addresses the same text afterwards.
func transformPosition(position Position, edit resolvedEdit) Position {
	switch edit.kind {
	case OperationInsert:
		newlines := strings.Count(edit.inserted, lineSeparator)
		if position.Line == edit.line && position.Column >= edit.column {
			if newlines == 0 {
				position.Column += utf8.RuneCountInString(edit.inserted)
				return position
			}
			tail := edit.inserted[strings.LastIndex(edit.inserted, lineSeparator)+1:]
			position.Line += newlines
			position.Column = utf8.RuneCountInString(tail) + 1 + (position.Column - edit.column)
			return position
		}
		if position.Line > edit.line {
			position.Line += newlines
		}
	case OperationDelete:
		if position.Line != edit.line || edit.removed == 0 {
			return position
		}
		start := edit.column - edit.removed
		if position.Column >= edit.column {
			position.Column -= edit.removed
		} else if position.Column > start {
			position.Column = start
		}
	}
	return position
}

// endOfEdit is where the acting actor's caret rests once edit is applied.
func endOfEdit(edit resolvedEdit) Position {
	if edit.kind == OperationDelete {
		return Position{Line: edit.line, Column: edit.column - edit.removed}
	}
	return transformPosition(Position{Line: edit.line, Column: edit.column}, edit)
}

// clampPosition returns the nearest valid position inside text.
func clampPosition(text string, position Position) Position {
	lines := strings.Split(text, lineSeparator)
	lineIndex := clampInt(position.Line-1, 0, len(lines)-1)
	lineLength := utf8.RuneCountInString(lines[lineIndex])
	return Position{
		Line:   lineIndex + 1,
		Column: clampInt(position.Column, 1, lineLength+1),
	}
}

// isLogicalBreak reports whether next grows previous by typing whitespace or punctuation.
func isLogicalBreak(previous, next string) bool {
	previousRunes := []rune(previous)
	nextRunes := []rune(next)
	if len(nextRunes) <= len(previousRunes) {
		return false
	}
	prefix := 0
	for prefix < len(previousRunes) && previousRunes[prefix] == nextRunes[prefix] {
		prefix++
	}
	typed := nextRunes[prefix]
	return unicode.IsSpace(typed) || unicode.IsPunct(typed)
}

func clampInt(value, minimum, maximum int) int {
	if value < minimum {
		return minimum
	}
	if value > maximum {
		return maximum
	}
	return value
}
