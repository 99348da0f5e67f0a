package schema

// CursorStyle is the shape of the terminal cursor.
type CursorStyle string

const (
	CursorBlock     CursorStyle = "block"
	CursorUnderline CursorStyle = "underline"
	CursorBar       CursorStyle = "bar"
)

// DefaultCursorStyle is used when the producer does not report a style.
const DefaultCursorStyle = CursorBlock

// ScreenState is a fully reconciled screen buffer. RowsData always holds
// Rows rows of exactly Cols cells. Values are treated as immutable; updates
// produce a new state.
type ScreenState struct {
	Cols               int
	Rows               int
	CursorX            int
	CursorY            int
	CursorStyle        CursorStyle
	CursorVisible      bool
	FrameID            uint64
	WaitingForKeyframe bool
	RowsData           [][]Cell
}

// CursorInBounds reports whether the cursor lies inside the grid.
func (s *ScreenState) CursorInBounds() bool {
	if s == nil {
		return false
	}
	return s.CursorX >= 0 && s.CursorX < s.Cols && s.CursorY >= 0 && s.CursorY < s.Rows
}

// Row returns the cells of row r or nil when out of range.
func (s *ScreenState) Row(r int) []Cell {
	if s == nil || r < 0 || r >= len(s.RowsData) {
		return nil
	}
	return s.RowsData[r]
}

// ScreenSnapshot is a complete screen sent with a keyframe.
type ScreenSnapshot struct {
	Name          string
	Cols          int
	Rows          int
	CursorX       int
	CursorY       int
	CursorVisible *bool
	CursorStyle   CursorStyle
	RowData       [][]Cell
}

// RowDelta replaces one row wholesale.
type RowDelta struct {
	Row   int
	Cells []Cell
}

// ScreenDelta is a sparse update relative to a base frame. Nil pointers mean
// the field was absent on the wire.
type ScreenDelta struct {
	Cols          int
	Rows          int
	CursorX       *int
	CursorY       *int
	CursorVisible *bool
	CursorStyle   *CursorStyle
	RowDeltas     []RowDelta
}

// ScreenUpdate is one inbound frame.
type ScreenUpdate struct {
	FrameID     uint64
	BaseFrameID uint64
	IsKeyframe  bool
	Snapshot    *ScreenSnapshot
	Delta       *ScreenDelta
}

// Position addresses a cell.
type Position struct {
	Row int
	Col int
}

// Before reports whether p precedes other in reading order.
func (p Position) Before(other Position) bool {
	if p.Row != other.Row {
		return p.Row < other.Row
	}
	return p.Col < other.Col
}

// Selection is an inclusive span of cells. Start and End may be given in any order.
type Selection struct {
	Start Position
	End   Position
}
