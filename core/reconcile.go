package core

import "pkt.systems/vtview/schema"

// Outcome classifies what Apply did with an update.
type Outcome int

const (
	// OutcomeIgnored means the update left the state untouched.
	OutcomeIgnored Outcome = iota
	// OutcomeKeyframe means the state was rebuilt from a snapshot.
	OutcomeKeyframe
	// OutcomeDelta means a delta was applied.
	OutcomeDelta
	// OutcomeDesync means a delta was rejected and the state now waits for a keyframe.
	OutcomeDesync
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKeyframe:
		return "keyframe"
	case OutcomeDelta:
		return "delta"
	case OutcomeDesync:
		return "desync"
	default:
		return "ignored"
	}
}

// Result reports the outcome of Apply. Err is set for ignored and desync
// outcomes that had a reason.
type Result struct {
	Outcome Outcome
	Err     error
}

// Reconcile folds an update into prev and returns the resulting state.
// prev is never modified.
func Reconcile(prev *schema.ScreenState, update schema.ScreenUpdate) *schema.ScreenState {
	next, _ := Apply(prev, update)
	return next
}

// Apply is Reconcile with diagnostics.
func Apply(prev *schema.ScreenState, update schema.ScreenUpdate) (*schema.ScreenState, Result) {
	if update.Snapshot != nil {
		next := stateFromSnapshot(update.Snapshot)
		if next == nil {
			return prev, Result{Outcome: OutcomeIgnored, Err: ErrDegenerateSnapshot}
		}
		next.FrameID = update.FrameID
		return next, Result{Outcome: OutcomeKeyframe}
	}
	if update.Delta == nil {
		return prev, Result{Outcome: OutcomeIgnored}
	}
	if prev == nil {
		return prev, Result{Outcome: OutcomeIgnored, Err: ErrNoBaseFrame}
	}
	if prev.WaitingForKeyframe {
		return prev, Result{Outcome: OutcomeIgnored, Err: ErrAwaitingKeyframe}
	}
	if err := validateDelta(prev, update); err != nil {
		desynced := *prev
		desynced.WaitingForKeyframe = true
		return &desynced, Result{
			Outcome: OutcomeDesync,
			Err: &DesyncError{
				FrameID:      update.FrameID,
				BaseFrameID:  update.BaseFrameID,
				StateFrameID: prev.FrameID,
				Err:          err,
			},
		}
	}
	return applyDelta(prev, update), Result{Outcome: OutcomeDelta}
}

func validateDelta(prev *schema.ScreenState, update schema.ScreenUpdate) error {
	delta := update.Delta
	if update.BaseFrameID != prev.FrameID {
		return ErrBaseMismatch
	}
	if update.FrameID <= prev.FrameID {
		return ErrFrameNotMonotonic
	}
	if delta.Cols != prev.Cols || delta.Rows != prev.Rows {
		return ErrDimensionMismatch
	}
	for _, rd := range delta.RowDeltas {
		if rd.Row < 0 || rd.Row >= prev.Rows {
			return ErrRowOutOfRange
		}
	}
	return nil
}

func stateFromSnapshot(snap *schema.ScreenSnapshot) *schema.ScreenState {
	if snap.Cols <= 0 || snap.Rows <= 0 || snap.Cols > MaxScreenDim || snap.Rows > MaxScreenDim {
		return nil
	}
	if snap.Cols*snap.Rows > MaxScreenCells {
		return nil
	}
	rows := make([][]schema.Cell, snap.Rows)
	for r := range rows {
		var src []schema.Cell
		if r < len(snap.RowData) {
			src = snap.RowData[r]
		}
		rows[r] = fitRow(src, snap.Cols)
	}
	style := snap.CursorStyle
	if style == "" {
		style = schema.DefaultCursorStyle
	}
	return &schema.ScreenState{
		Cols:          snap.Cols,
		Rows:          snap.Rows,
		CursorX:       snap.CursorX,
		CursorY:       snap.CursorY,
		CursorStyle:   style,
		CursorVisible: resolveCursorVisible(snap.CursorVisible, snap.CursorX, snap.CursorY, snap.Cols, snap.Rows),
		RowsData:      rows,
	}
}

func applyDelta(prev *schema.ScreenState, update schema.ScreenUpdate) *schema.ScreenState {
	delta := update.Delta
	rows := make([][]schema.Cell, prev.Rows)
	copy(rows, prev.RowsData)
	for _, rd := range delta.RowDeltas {
		rows[rd.Row] = fitRow(rd.Cells, prev.Cols)
	}

	next := &schema.ScreenState{
		Cols:        prev.Cols,
		Rows:        prev.Rows,
		CursorX:     prev.CursorX,
		CursorY:     prev.CursorY,
		CursorStyle: prev.CursorStyle,
		FrameID:     update.FrameID,
		RowsData:    rows,
	}
	if delta.CursorX != nil {
		next.CursorX = *delta.CursorX
	}
	if delta.CursorY != nil {
		next.CursorY = *delta.CursorY
	}
	if delta.CursorStyle != nil && *delta.CursorStyle != "" {
		next.CursorStyle = *delta.CursorStyle
	}
	next.CursorVisible = resolveCursorVisible(delta.CursorVisible, next.CursorX, next.CursorY, next.Cols, next.Rows)
	return next
}

// fitRow returns a fresh row of exactly cols cells.
func fitRow(src []schema.Cell, cols int) []schema.Cell {
	row := make([]schema.Cell, cols)
	for c := range row {
		if c < len(src) {
			row[c] = src[c].Normalized()
			continue
		}
		row[c] = schema.BlankCell()
	}
	return row
}

func resolveCursorVisible(explicit *bool, x, y, cols, rows int) bool {
	if explicit != nil {
		return *explicit
	}
	return x >= 0 && x < cols && y >= 0 && y < rows
}
