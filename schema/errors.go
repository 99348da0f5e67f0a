package schema

import "errors"

var (
	// ErrInvalidSession indicates an empty or malformed session reference.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidTheme indicates an unknown theme name.
	ErrInvalidTheme = errors.New("invalid theme")
	// ErrInvalidCursorStyle indicates an unknown cursor style.
	ErrInvalidCursorStyle = errors.New("invalid cursor style")
	// ErrInvalidSelection indicates a selection with negative coordinates.
	ErrInvalidSelection = errors.New("invalid selection")
)
