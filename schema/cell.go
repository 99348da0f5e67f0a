package schema

// Attr is the cell attribute bitmask produced by the upstream terminal.
type Attr uint32

// Attribute bits. Bit 4 is reserved.
const (
	AttrBold      Attr = 1 << 0
	AttrItalic    Attr = 1 << 1
	AttrUnderline Attr = 1 << 2
	AttrFaint     Attr = 1 << 3
	AttrInverse   Attr = 1 << 5
	AttrInvisible Attr = 1 << 6
	AttrStrike    Attr = 1 << 7
	AttrOverline  Attr = 1 << 8
)

// Has reports whether every bit of flag is set.
func (a Attr) Has(flag Attr) bool {
	return a&flag == flag
}

// BlankChar is the glyph of an empty cell.
const BlankChar = " "

// Cell is one screen column. FG and BG are packed 0xRRGGBB values, 0 means
// the terminal default.
type Cell struct {
	Char  string
	FG    int32
	BG    int32
	Attrs Attr
}

// BlankCell returns a default-styled space.
func BlankCell() Cell {
	return Cell{Char: BlankChar}
}

// IsPlaceholder reports whether the cell can be the second column of a wide
// glyph. Only an explicit blank qualifies; an empty char is a regular cell.
func (c Cell) IsPlaceholder() bool {
	return c.Char == BlankChar
}

// SameStyle reports whether both cells carry the same raw colours and attributes.
func (c Cell) SameStyle(other Cell) bool {
	return c.FG == other.FG && c.BG == other.BG && c.Attrs == other.Attrs
}

// Normalized returns the cell with an empty glyph replaced by a space.
func (c Cell) Normalized() Cell {
	if c.Char == "" {
		c.Char = BlankChar
	}
	return c
}
