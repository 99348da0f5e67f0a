package core

import (
	"errors"
	"fmt"
)

// Snapshot size limits. Larger snapshots are ignored like degenerate ones.
const (
	MaxScreenDim   = 4096
	MaxScreenCells = 1 << 22
)

var (
	// ErrDegenerateSnapshot indicates a snapshot with non-positive or
	// oversized dimensions.
	ErrDegenerateSnapshot = errors.New("snapshot has degenerate dimensions")
	// ErrNoBaseFrame indicates a delta arrived before any keyframe.
	ErrNoBaseFrame = errors.New("delta has no base frame")
	// ErrAwaitingKeyframe indicates a delta arrived while resyncing.
	ErrAwaitingKeyframe = errors.New("awaiting keyframe")
	// ErrBaseMismatch indicates the delta base is not the current frame.
	ErrBaseMismatch = errors.New("delta base frame mismatch")
	// ErrFrameNotMonotonic indicates the delta frame id does not advance.
	ErrFrameNotMonotonic = errors.New("delta frame id does not advance")
	// ErrDimensionMismatch indicates the delta grid size differs from the screen.
	ErrDimensionMismatch = errors.New("delta dimensions mismatch")
	// ErrRowOutOfRange indicates a row delta outside the grid.
	ErrRowOutOfRange = errors.New("delta row out of range")
)

// DesyncError describes a rejected delta.
type DesyncError struct {
	FrameID      uint64
	BaseFrameID  uint64
	StateFrameID uint64
	Err          error
}

func (e *DesyncError) Error() string {
	if e == nil {
		return "screen desync"
	}
	return fmt.Sprintf("screen desync at frame %d (base %d, current %d): %v", e.FrameID, e.BaseFrameID, e.StateFrameID, e.Err)
}

func (e *DesyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
