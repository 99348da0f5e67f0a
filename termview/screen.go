package termview

import (
	"fmt"
	"io"
)

// Screen switches the local terminal in and out of the alternate screen.
type Screen struct {
	out io.Writer
}

// NewScreen wraps out.
func NewScreen(out io.Writer) *Screen {
	return &Screen{out: out}
}

// Enter switches to the alternate screen and clears it.
func (s *Screen) Enter() error {
	_, err := io.WriteString(s.out, "\x1b[?1049h"+ansiHome+ansiClear)
	return err
}

// Exit restores the main screen, the default cursor and its visibility.
func (s *Screen) Exit() error {
	_, err := io.WriteString(s.out, ansiReset+"\x1b[0 q\x1b[?1049l"+ansiShowCursor)
	return err
}

func cursorTo(row, col int) string {
	if row < 1 {
		row = 1
	}
	if col < 1 {
		col = 1
	}
	return fmt.Sprintf("\x1b[%d;%dH", row, col)
}
