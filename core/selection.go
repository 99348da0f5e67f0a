package core

import (
	"strings"
	"unicode"

	"pkt.systems/vtview/schema"
)

// Normalize orders a selection so Start precedes End.
func Normalize(sel schema.Selection) schema.Selection {
	return schema.NormalizeSelection(sel)
}

// RangeForRow returns the selected columns on row, or false when the row is
// outside the selection.
func RangeForRow(sel schema.Selection, row int) (ColumnRange, bool) {
	sel = Normalize(sel)
	if row < sel.Start.Row || row > sel.End.Row {
		return ColumnRange{}, false
	}
	switch {
	case sel.Start.Row == sel.End.Row:
		return ColumnRange{Start: sel.Start.Col, End: sel.End.Col}, true
	case row == sel.Start.Row:
		return ColumnRange{Start: sel.Start.Col, End: OpenEnd}, true
	case row == sel.End.Row:
		return ColumnRange{Start: 0, End: sel.End.Col}, true
	default:
		return ColumnRange{Start: 0, End: OpenEnd}, true
	}
}

// SelectionRange is RangeForRow for an optional selection, in the form
// BuildRuns takes.
func SelectionRange(sel *schema.Selection, row int) *ColumnRange {
	if sel == nil {
		return nil
	}
	rng, ok := RangeForRow(*sel, row)
	if !ok {
		return nil
	}
	return &rng
}

// ExtractText returns the selected text, one line per row with trailing
// whitespace removed. Rows outside the screen are ignored.
func ExtractText(screen *schema.ScreenState, sel schema.Selection) string {
	if screen == nil {
		return ""
	}
	sel = Normalize(sel)
	first := max(sel.Start.Row, 0)
	last := min(sel.End.Row, screen.Rows-1)
	if first > last {
		return ""
	}
	lines := make([]string, 0, last-first+1)
	for row := first; row <= last; row++ {
		cells := screen.Row(row)
		if cells == nil {
			continue
		}
		rng, ok := RangeForRow(sel, row)
		if !ok {
			continue
		}
		var b strings.Builder
		for col, cell := range cells {
			if !rng.Contains(col) {
				continue
			}
			if cell.Char == "" {
				b.WriteString(schema.BlankChar)
				continue
			}
			b.WriteString(cell.Char)
		}
		lines = append(lines, strings.TrimRightFunc(b.String(), unicode.IsSpace))
	}
	return strings.TrimRightFunc(strings.Join(lines, "\n"), unicode.IsSpace)
}

// FullSelection spans the whole screen.
func FullSelection(screen *schema.ScreenState) schema.Selection {
	if screen == nil || screen.Rows == 0 {
		return schema.Selection{}
	}
	return schema.Selection{
		Start: schema.Position{},
		End:   schema.Position{Row: screen.Rows - 1, Col: OpenEnd},
	}
}
