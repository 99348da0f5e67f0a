package core

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"pkt.systems/vtview/schema"
)

// ColorRole says how a painter should resolve a Color.
type ColorRole uint8

const (
	RoleDefaultFG ColorRole = iota
	RoleDefaultBG
	RoleRGB
	RoleSelectionFG
	RoleSelectionBG
)

// Color is a resolved run colour. RGB is only meaningful for RoleRGB.
type Color struct {
	Role ColorRole
	RGB  uint32
}

func (c Color) key() string {
	if c.Role == RoleRGB {
		return "#" + strconv.FormatUint(uint64(c.RGB), 16)
	}
	return "r" + strconv.Itoa(int(c.Role))
}

func fgColor(raw int32) Color {
	if raw == 0 {
		return Color{Role: RoleDefaultFG}
	}
	return Color{Role: RoleRGB, RGB: uint32(raw) & 0xFFFFFF}
}

func bgColor(raw int32) Color {
	if raw == 0 {
		return Color{Role: RoleDefaultBG}
	}
	return Color{Role: RoleRGB, RGB: uint32(raw) & 0xFFFFFF}
}

// Decoration names, in signature order.
const (
	DecorUnderline   = "underline"
	DecorLineThrough = "line-through"
	DecorOverline    = "overline"
)

// Style is the resolved paint style of a run.
type Style struct {
	FG         Color
	BG         Color
	Bold       bool
	Italic     bool
	Decoration string
	Faint      bool
	Selected   bool
}

// Key is the style signature used to merge runs.
func (s Style) Key() string {
	var b strings.Builder
	b.WriteString(s.FG.key())
	b.WriteByte('|')
	b.WriteString(s.BG.key())
	b.WriteByte('|')
	writeFlag(&b, s.Bold)
	writeFlag(&b, s.Italic)
	writeFlag(&b, s.Faint)
	writeFlag(&b, s.Selected)
	b.WriteByte('|')
	b.WriteString(s.Decoration)
	return b.String()
}

func writeFlag(b *strings.Builder, on bool) {
	if on {
		b.WriteByte('1')
		return
	}
	b.WriteByte('0')
}

// Run is a maximal span of adjacent cells sharing one style. Cols counts the
// grid columns the run covers, including consumed wide-glyph placeholders.
type Run struct {
	Text  string
	Style Style
	Cols  int
}

// OpenEnd marks a column range that extends to the end of the row.
const OpenEnd = int(^uint(0) >> 1)

// ColumnRange is an inclusive span of columns on one row.
type ColumnRange struct {
	Start int
	End   int
}

// Contains reports whether col falls inside the range.
func (r ColumnRange) Contains(col int) bool {
	return col >= r.Start && col <= r.End
}

// CellWidth returns the display width of a glyph, never less than one.
func CellWidth(char string) int {
	return max(runewidth.StringWidth(char), 1)
}

// StyleFor resolves the paint style of a cell.
func StyleFor(cell schema.Cell, selected bool) Style {
	fg := fgColor(cell.FG)
	bg := bgColor(cell.BG)
	if cell.Attrs.Has(schema.AttrInverse) {
		fg, bg = bg, fg
	}
	if cell.Attrs.Has(schema.AttrInvisible) {
		fg = bg
	}
	if selected {
		fg = Color{Role: RoleSelectionFG}
		bg = Color{Role: RoleSelectionBG}
	}
	return Style{
		FG:         fg,
		BG:         bg,
		Bold:       cell.Attrs.Has(schema.AttrBold),
		Italic:     cell.Attrs.Has(schema.AttrItalic),
		Decoration: decoration(cell.Attrs),
		Faint:      cell.Attrs.Has(schema.AttrFaint),
		Selected:   selected,
	}
}

func decoration(attrs schema.Attr) string {
	parts := make([]string, 0, 3)
	if attrs.Has(schema.AttrUnderline) {
		parts = append(parts, DecorUnderline)
	}
	if attrs.Has(schema.AttrStrike) {
		parts = append(parts, DecorLineThrough)
	}
	if attrs.Has(schema.AttrOverline) {
		parts = append(parts, DecorOverline)
	}
	return strings.Join(parts, " ")
}

// BuildRuns turns a row of cells into styled runs. sel is the selected column
// range on this row, or nil.
func BuildRuns(cells []schema.Cell, sel *ColumnRange) []Run {
	runs := make([]Run, 0, 4)
	var text strings.Builder
	var cur Run
	var curKey string
	open := false

	for col := 0; col < len(cells); col++ {
		cell := cells[col]
		selected := sel != nil && sel.Contains(col)
		style := StyleFor(cell, selected)
		key := style.Key()
		char := cell.Char
		if char == "" {
			char = schema.BlankChar
		}
		span := 1
		if CellWidth(char) == 2 && col+1 < len(cells) {
			next := cells[col+1]
			if next.IsPlaceholder() && next.SameStyle(cell) {
				col++
				span = 2
			}
		}

		if open && key == curKey {
			text.WriteString(char)
			cur.Cols += span
			continue
		}
		if open {
			cur.Text = text.String()
			runs = append(runs, cur)
			text.Reset()
		}
		text.WriteString(char)
		cur = Run{Style: style, Cols: span}
		curKey = key
		open = true
	}
	if open {
		cur.Text = text.String()
		runs = append(runs, cur)
	}
	return runs
}
