package schema

import (
	"regexp"
	"strings"
)

// NormalizeSessionRef trims both fields and rejects an empty id.
func NormalizeSessionRef(ref SessionRef) (SessionRef, error) {
	out := SessionRef{
		ID:          SessionID(strings.TrimSpace(string(ref.ID))),
		Coordinator: CoordinatorName(strings.TrimSpace(string(ref.Coordinator))),
	}
	if out.ID == "" {
		return SessionRef{}, ErrInvalidSession
	}
	return out, nil
}

// ParseSessionRef accepts "id" or "coordinator:id".
func ParseSessionRef(value string) (SessionRef, error) {
	trimmed := strings.TrimSpace(value)
	coordinator, id, found := strings.Cut(trimmed, ":")
	if !found {
		return NormalizeSessionRef(SessionRef{ID: SessionID(trimmed)})
	}
	return NormalizeSessionRef(SessionRef{ID: SessionID(id), Coordinator: CoordinatorName(coordinator)})
}

// NormalizeCursorStyle maps a producer style name to a CursorStyle.
func NormalizeCursorStyle(value string) (CursorStyle, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "block":
		return CursorBlock, nil
	case "underline":
		return CursorUnderline, nil
	case "bar", "beam":
		return CursorBar, nil
	default:
		return "", ErrInvalidCursorStyle
	}
}

var lineBreak = regexp.MustCompile(`\r?\n`)

// NormalizeInputText converts line feeds to carriage returns, which is what
// a terminal sends for Enter.
func NormalizeInputText(text string) string {
	return lineBreak.ReplaceAllString(text, "\r")
}

// NormalizeSelection orders the endpoints by row, then column.
func NormalizeSelection(sel Selection) Selection {
	if sel.End.Before(sel.Start) {
		sel.Start, sel.End = sel.End, sel.Start
	}
	return sel
}

// ValidateSelection rejects negative coordinates.
func ValidateSelection(sel Selection) error {
	if sel.Start.Row < 0 || sel.Start.Col < 0 || sel.End.Row < 0 || sel.End.Col < 0 {
		return ErrInvalidSelection
	}
	return nil
}
