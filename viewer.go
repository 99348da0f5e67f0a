// Package vtview mirrors a remote terminal session onto a local painter.
package vtview

import (
	"context"
	"errors"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vtview/core"
	"pkt.systems/vtview/internal/clock"
	"pkt.systems/vtview/internal/logx"
	"pkt.systems/vtview/internal/loop"
	"pkt.systems/vtview/internal/transport"
	"pkt.systems/vtview/schema"
	"pkt.systems/vtview/stream"
)

// DefaultFrameInterval is the paint cadence when none is configured.
const DefaultFrameInterval = 16 * time.Millisecond

// Frame is everything a painter needs for one paint.
type Frame struct {
	Screen    *schema.ScreenState
	Selection *schema.Selection
	Transport stream.State
	Exited    *schema.SessionExited
}

// Painter draws frames. Paint is called on the viewer's event loop.
type Painter interface {
	Paint(frame Frame) error
}

// PainterFunc adapts a function to Painter.
type PainterFunc func(frame Frame) error

func (f PainterFunc) Paint(frame Frame) error { return f(frame) }

// Config configures a Viewer.
type Config struct {
	URL              string
	Target           schema.SessionRef
	IncludeRawOutput bool
	Backoff          stream.Backoff
	// FrameInterval spaces paints; zero uses DefaultFrameInterval and a
	// negative value paints on every update.
	FrameInterval time.Duration
}

// Deps captures the collaborators of a Viewer.
type Deps struct {
	Dialer  transport.Dialer
	Clock   clock.Clock
	Painter Painter
	Sinks   []Sink
	Logger  pslog.Logger
}

// Viewer wires the stream client, the screen synchronizer, the paint
// scheduler and the selection model onto one event loop.
type Viewer struct {
	cfg     Config
	loop    *loop.Loop
	client  *stream.Client
	clk     clock.Clock
	painter Painter
	sink    Sink
	log     pslog.Logger

	// Loop-confined state.
	target    schema.SessionRef
	screen    *schema.ScreenState
	selection *schema.Selection
	exited    *schema.SessionExited
	transport stream.State
	sched     *core.Scheduler
	size      [2]int
}

// New constructs a Viewer. Call Run to start it.
func New(cfg Config, deps Deps) (*Viewer, error) {
	if deps.Painter == nil {
		return nil, errors.New("painter is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("stream url is required")
	}
	log := deps.Logger
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	lp := loop.New(log)
	client, err := stream.New(stream.Options{
		URL:              cfg.URL,
		Dialer:           deps.Dialer,
		Clock:            clk,
		Loop:             lp,
		Backoff:          cfg.Backoff,
		IncludeRawOutput: cfg.IncludeRawOutput,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}
	v := &Viewer{
		cfg:       cfg,
		loop:      lp,
		client:    client,
		clk:       clk,
		painter:   deps.Painter,
		sink:      fanoutSinks(deps.Sinks),
		log:       log,
		transport: stream.State{Status: stream.StatusIdle},
	}
	var request core.FrameRequester
	if cfg.FrameInterval > 0 {
		request = v.requestFrame
	}
	v.sched = core.NewScheduler(request, v.paint)
	client.SetEventHandler(v.onEvent)
	client.SetStateHandler(v.onState)
	return v, nil
}

// Run drives the viewer until ctx ends or Stop is called. The configured
// target, if any, is connected first.
func (v *Viewer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !v.cfg.Target.IsZero() {
		v.SetTarget(v.cfg.Target)
	}
	v.loop.Post(v.sched.Invalidate)
	log := logx.WithSession(v.log, v.cfg.Target)
	log.Info("viewer start", "url", v.cfg.URL, "frame_interval", v.cfg.FrameInterval)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			v.Stop()
		case <-done:
		}
	}()
	err := v.loop.Run(context.Background())
	if errors.Is(err, loop.ErrStopped) {
		log.Info("viewer stopped")
		return nil
	}
	return err
}

// Stop closes the connection and makes Run return.
func (v *Viewer) Stop() {
	v.loop.Post(func() {
		v.client.Shutdown()
		v.loop.Post(v.loop.Stop)
	})
}

// SetTarget switches to another session, discarding the screen and selection.
func (v *Viewer) SetTarget(ref schema.SessionRef) {
	v.loop.Post(func() {
		if ref == v.target {
			return
		}
		v.target = ref
		v.screen = nil
		v.selection = nil
		v.exited = nil
		v.sched.Reset()
		v.client.SetTargetOnLoop(ref)
		v.sched.Invalidate()
	})
}

// Select sets the selection and repaints. Negative coordinates are rejected
// with schema.ErrInvalidSelection.
func (v *Viewer) Select(sel schema.Selection) error {
	if err := schema.ValidateSelection(sel); err != nil {
		return err
	}
	sel = core.Normalize(sel)
	v.loop.Post(func() {
		v.selection = &sel
		v.sched.Invalidate()
	})
	return nil
}

// ClearSelection removes the selection.
func (v *Viewer) ClearSelection() {
	v.loop.Post(func() {
		if v.selection == nil {
			return
		}
		v.selection = nil
		v.sched.Invalidate()
	})
}

// SelectionText returns the text under the current selection.
func (v *Viewer) SelectionText(ctx context.Context) (string, error) {
	var text string
	err := v.loop.Call(ctx, func() {
		if v.selection == nil {
			return
		}
		text = core.ExtractText(v.screen, *v.selection)
	})
	return text, err
}

// Snapshot returns the current screen. The returned state must not be modified.
func (v *Viewer) Snapshot(ctx context.Context) (*schema.ScreenState, error) {
	var screen *schema.ScreenState
	err := v.loop.Call(ctx, func() { screen = v.screen })
	return screen, err
}

// Resize forwards new dimensions unless they match the last ones sent.
func (v *Viewer) Resize(cols, rows int) {
	v.loop.Post(func() {
		if cols <= 0 || rows <= 0 || v.size == [2]int{cols, rows} {
			return
		}
		v.size = [2]int{cols, rows}
		v.client.Resize(cols, rows)
	})
}

// SendText sends text input to the session.
func (v *Viewer) SendText(text string) { v.client.SendText(text) }

// SendKey sends a named key to the session.
func (v *Viewer) SendKey(key string) { v.client.SendKey(key) }

// SendBytes sends raw input to the session.
func (v *Viewer) SendBytes(data []byte) { v.client.SendBytes(data) }

// Close disconnects without reconnecting.
func (v *Viewer) Close() { v.client.Close() }

func (v *Viewer) onEvent(ev schema.SubscribeEvent) {
	switch {
	case ev.ScreenUpdate != nil:
		v.sched.Schedule(*ev.ScreenUpdate)
	case ev.SessionExited != nil:
		exited := *ev.SessionExited
		v.exited = &exited
		v.logger().Info("session exited", "exit_code", exited.ExitCode)
		if v.sink != nil {
			v.sink.OnExit(exited.ExitCode)
		}
		v.sched.Invalidate()
	case len(ev.RawOutput) > 0:
		if v.sink != nil {
			v.sink.OnRawOutput(ev.RawOutput)
		}
	}
}

func (v *Viewer) onState(st stream.State) {
	prev := v.transport
	v.transport = st
	if st.Status == stream.StatusOpen && prev.Status != stream.StatusOpen && v.size != [2]int{} {
		// The server forgets the size across connections.
		v.client.Resize(v.size[0], v.size[1])
	}
	v.sched.Invalidate()
}

func (v *Viewer) paint(update *schema.ScreenUpdate) {
	if update != nil {
		next, res := core.Apply(v.screen, *update)
		switch res.Outcome {
		case core.OutcomeDesync:
			v.logger().Debug("screen desync", "frame", update.FrameID, "base", update.BaseFrameID, "reason", res.Err)
		case core.OutcomeIgnored:
			if res.Err != nil {
				v.logger().Debug("screen update ignored", "frame", update.FrameID, "reason", res.Err)
			}
		default:
			v.logger().Trace("screen update", "frame", update.FrameID, "outcome", res.Outcome.String())
		}
		v.screen = next
	}
	frame := Frame{
		Screen:    v.screen,
		Selection: v.selection,
		Transport: v.transport,
		Exited:    v.exited,
	}
	if err := v.painter.Paint(frame); err != nil {
		v.logger().Warn("paint failed", "error", err)
	}
}

func (v *Viewer) requestFrame(paint func()) func() {
	t := v.clk.AfterFunc(v.cfg.FrameInterval, func() { v.loop.Post(paint) })
	return func() { t.Stop() }
}

func (v *Viewer) logger() pslog.Logger {
	return logx.WithSession(v.log, v.target)
}
