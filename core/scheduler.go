package core

import "pkt.systems/vtview/schema"

// FrameRequester arranges for paint to be called at the next paint
// opportunity and returns a function that cancels the request.
type FrameRequester func(paint func()) (cancel func())

// PaintFunc receives the latest pending update, or nil when only a redraw
// was requested.
type PaintFunc func(update *schema.ScreenUpdate)

// Scheduler coalesces inbound updates so that at most one paint happens per
// paint opportunity. Only the most recent pending update survives; the
// synchronizer recovers from any delta skipped this way on the next keyframe.
// A Scheduler must only be used from one goroutine.
type Scheduler struct {
	request     FrameRequester
	paint       PaintFunc
	pending     *schema.ScreenUpdate
	dirty       bool
	outstanding bool
	cancel      func()
	gen         uint64
}

// NewScheduler builds a scheduler. A nil requester paints synchronously.
func NewScheduler(request FrameRequester, paint PaintFunc) *Scheduler {
	return &Scheduler{request: request, paint: paint}
}

// Schedule replaces the pending update and requests a paint if none is outstanding.
func (s *Scheduler) Schedule(update schema.ScreenUpdate) {
	s.pending = &update
	s.dirty = true
	s.ensureToken()
}

// Invalidate requests a repaint without a new update.
func (s *Scheduler) Invalidate() {
	s.dirty = true
	s.ensureToken()
}

// Flush paints now with the pending update, cancelling any outstanding token.
func (s *Scheduler) Flush() {
	s.dropToken()
	s.flush()
}

// Reset cancels the outstanding paint token and drops the pending update.
func (s *Scheduler) Reset() {
	s.dropToken()
	s.pending = nil
	s.dirty = false
}

// Pending reports whether a paint token is outstanding.
func (s *Scheduler) Pending() bool {
	return s.outstanding
}

func (s *Scheduler) flush() {
	if !s.dirty {
		return
	}
	update := s.pending
	s.pending = nil
	s.dirty = false
	if s.paint != nil {
		s.paint(update)
	}
}

func (s *Scheduler) dropToken() {
	if s.outstanding && s.cancel != nil {
		s.cancel()
	}
	s.outstanding = false
	s.cancel = nil
	s.gen++
}

func (s *Scheduler) ensureToken() {
	if s.outstanding {
		return
	}
	if s.request == nil {
		s.flush()
		return
	}
	s.gen++
	gen := s.gen
	s.outstanding = true
	cancel := s.request(func() {
		if gen != s.gen || !s.outstanding {
			return
		}
		s.outstanding = false
		s.cancel = nil
		s.flush()
	})
	if s.outstanding && gen == s.gen {
		s.cancel = cancel
	}
}
