// Package termview paints mirrored screens into a local ANSI terminal.
package termview

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/x/ansi"

	"pkt.systems/vtview"
	"pkt.systems/vtview/core"
	"pkt.systems/vtview/schema"
	"pkt.systems/vtview/stream"
)

// Options configures a Painter.
type Options struct {
	Theme schema.ThemeName
	// Width of the local terminal; zero uses the screen width.
	Width int
	// Hint is shown at the right edge of the status line.
	Hint string
}

// Painter writes frames as ANSI sequences, repainting every row with the
// cursor hidden.
type Painter struct {
	out   io.Writer
	theme Theme
	hint  string
	width atomic.Int64
}

// NewPainter builds a painter writing to out.
func NewPainter(out io.Writer, opts Options) *Painter {
	p := &Painter{out: out, theme: ThemeFor(opts.Theme), hint: opts.Hint}
	p.width.Store(int64(opts.Width))
	return p
}

// SetWidth updates the local terminal width. Safe to call from any goroutine.
func (p *Painter) SetWidth(width int) {
	p.width.Store(int64(width))
}

// Theme returns the active theme.
func (p *Painter) Theme() Theme {
	return p.theme
}

// Paint draws frame.
func (p *Painter) Paint(frame vtview.Frame) error {
	var b strings.Builder
	b.WriteString(ansiHideCursor)
	b.WriteString(ansiHome)

	screen := frame.Screen
	rows := 0
	width := int(p.width.Load())
	if screen == nil {
		b.WriteString(ansiReset)
		b.WriteString(ansiClear)
	} else {
		rows = screen.Rows
		if width <= 0 {
			width = screen.Cols
		}
		for r := 0; r < screen.Rows; r++ {
			b.WriteString(cursorTo(r+1, 1))
			for _, run := range core.BuildRuns(screen.Row(r), core.SelectionRange(frame.Selection, r)) {
				b.WriteString(p.sgr(run.Style))
				b.WriteString(cellText(run.Text))
			}
			b.WriteString(ansiReset)
			b.WriteString(ansiBgRGB(p.theme.DefaultBG))
			b.WriteString(ansiEraseLine)
			b.WriteString(ansiReset)
		}
	}
	if width <= 0 {
		width = 80
	}
	b.WriteString(cursorTo(rows+1, 1))
	b.WriteString(ansiEraseDown)
	b.WriteString(p.statusLine(frame, width))
	b.WriteString(ansiReset)

	if screen != nil && screen.CursorVisible && screen.CursorInBounds() {
		b.WriteString(cursorTo(screen.CursorY+1, screen.CursorX+1))
		b.WriteString(cursorShape(screen.CursorStyle))
		b.WriteString(ansiShowCursor)
	}
	_, err := io.WriteString(p.out, b.String())
	return err
}

// sgr returns the full SGR sequence for a run style, starting from a reset.
func (p *Painter) sgr(style core.Style) string {
	params := []string{"0"}
	params = append(params, "38;2;"+rgbParams(p.resolve(style.FG)))
	params = append(params, "48;2;"+rgbParams(p.resolve(style.BG)))
	if style.Bold {
		params = append(params, "1")
	}
	if style.Faint {
		params = append(params, "2")
	}
	if style.Italic {
		params = append(params, "3")
	}
	for _, decor := range strings.Fields(style.Decoration) {
		switch decor {
		case core.DecorUnderline:
			params = append(params, "4")
		case core.DecorLineThrough:
			params = append(params, "9")
		case core.DecorOverline:
			params = append(params, "53")
		}
	}
	return "\x1b[" + strings.Join(params, ";") + "m"
}

func (p *Painter) resolve(c core.Color) rgb {
	switch c.Role {
	case core.RoleRGB:
		return rgbFromHex(c.RGB)
	case core.RoleDefaultBG:
		return p.theme.DefaultBG
	case core.RoleSelectionFG:
		return p.theme.SelectionFG
	case core.RoleSelectionBG:
		return p.theme.SelectionBG
	default:
		return p.theme.DefaultFG
	}
}

func (p *Painter) statusLine(frame vtview.Frame, width int) string {
	base := ansiBgRGB(p.theme.StatusBG) + ansiFgRGB(p.theme.StatusFG)
	segments := make([]string, 0, 5)
	add := func(fg rgb, text string) {
		segments = append(segments, ansiFgRGB(fg)+statusText(text)+base)
	}

	target := frame.Transport.Target.String()
	if target == "" {
		target = "no session"
	}
	add(p.theme.StatusFG, target)
	add(p.statusColor(frame.Transport.Status), string(frame.Transport.Status))
	if frame.Transport.Status == stream.StatusReconnecting && frame.Transport.Attempts > 0 {
		add(p.theme.MetaFG, "attempt "+strconv.Itoa(frame.Transport.Attempts))
	}
	if frame.Transport.Err != "" {
		add(p.theme.ErrorFG, frame.Transport.Err)
	}
	if frame.Screen != nil && frame.Screen.WaitingForKeyframe {
		add(p.theme.WarnFG, "resyncing")
	}
	if frame.Exited != nil {
		add(p.theme.WarnFG, fmt.Sprintf("exited %d", frame.Exited.ExitCode))
	}

	line := " " + strings.Join(segments, " · ") + " "
	visible := ansi.StringWidth(line)
	if p.hint != "" && visible+ansi.StringWidth(p.hint)+1 <= width {
		pad := width - visible - ansi.StringWidth(p.hint) - 1
		line += strings.Repeat(" ", pad) + ansiFgRGB(p.theme.MetaFG) + p.hint + base + " "
		visible = width
	}
	if visible > width {
		line = ansi.Truncate(line, width, "…")
		visible = ansi.StringWidth(line)
	}
	if visible < width {
		line += strings.Repeat(" ", width-visible)
	}
	return base + line + ansiReset
}

func (p *Painter) statusColor(status stream.Status) rgb {
	switch status {
	case stream.StatusOpen:
		return p.theme.OpenFG
	case stream.StatusError:
		return p.theme.ErrorFG
	case stream.StatusConnecting, stream.StatusReconnecting:
		return p.theme.WarnFG
	default:
		return p.theme.MetaFG
	}
}

// cellText replaces control characters in remote cell text with spaces so a
// peer cannot emit escape sequences into the local terminal.
func cellText(text string) string {
	if strings.IndexFunc(text, isControl) < 0 {
		return text
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return ' '
		}
		return r
	}, text)
}

// statusText strips escape sequences and drops remaining control characters.
func statusText(text string) string {
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, ansi.Strip(text))
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f || (r >= 0x80 && r <= 0x9f)
}

// cursorShape returns the steady DECSCUSR sequence for style.
func cursorShape(style schema.CursorStyle) string {
	switch style {
	case schema.CursorUnderline:
		return "\x1b[4 q"
	case schema.CursorBar:
		return "\x1b[6 q"
	default:
		return "\x1b[2 q"
	}
}
