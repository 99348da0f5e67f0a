// Package stream keeps a subscription to one remote session alive over a
// reconnecting websocket and exposes the session's events and input actions.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"

	"pkt.systems/pslog"
	"pkt.systems/vtview/internal/clock"
	"pkt.systems/vtview/internal/logx"
	"pkt.systems/vtview/internal/loop"
	"pkt.systems/vtview/internal/transport"
	"pkt.systems/vtview/internal/wire"
	"pkt.systems/vtview/schema"
)

// Status is the connection status of a Client.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
	StatusClosed       Status = "closed"
)

const (
	maxPendingEvents = 1024
	outboundQueue    = 256

	msgStreamError    = "stream error"
	msgWebsocketError = "websocket error"
)

// State is the observable transport state.
type State struct {
	Status   Status
	Err      string
	Code     codes.Code
	Attempts int
	Target   schema.SessionRef
}

// Halted reports whether a terminal status stopped the client; it will not
// reconnect until the target changes.
func (s State) Halted() bool {
	return s.Status == StatusError && wire.IsTerminalCode(s.Code)
}

// EventHandler receives session events on the event loop.
type EventHandler func(ev schema.SubscribeEvent)

// StateHandler receives transport state changes on the event loop.
type StateHandler func(st State)

// Options configures a Client.
type Options struct {
	URL              string
	Dialer           transport.Dialer
	Clock            clock.Clock
	Loop             *loop.Loop
	Backoff          Backoff
	IncludeRawOutput bool
	Logger           pslog.Logger
}

// Client owns the connection lifecycle for one target session. Public methods
// may be called from any goroutine; their effects run on the event loop.
type Client struct {
	url        string
	dialer     transport.Dialer
	clk        clock.Clock
	loop       *loop.Loop
	ownsLoop   bool
	backoff    Backoff
	includeRaw bool
	log        pslog.Logger

	// Everything below is confined to the loop.
	target       schema.SessionRef
	state        State
	cycle        *cycle
	timer        *clock.Timer
	closedByUser bool
	halted       bool
	stopped      bool
	handler      EventHandler
	onState      StateHandler
	pending      []schema.SubscribeEvent
}

// cycle is one connect attempt. Callbacks from dial, read and write
// goroutines compare their cycle against the current one and drop
// themselves when it has moved on.
type cycle struct {
	cancel context.CancelFunc
	conn   transport.Conn
	out    chan []byte
	closed bool
}

// New constructs a Client. Without an explicit Loop the client creates its
// own and Run must be called to drive it.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("stream url is required")
	}
	c := &Client{
		url:        opts.URL,
		dialer:     opts.Dialer,
		clk:        opts.Clock,
		loop:       opts.Loop,
		backoff:    opts.Backoff.withDefaults(),
		includeRaw: opts.IncludeRawOutput,
		log:        opts.Logger,
		state:      State{Status: StatusIdle},
	}
	if c.log == nil {
		c.log = pslog.Ctx(context.Background())
	}
	c.log = logx.WithURL(c.log, c.url)
	if c.dialer == nil {
		c.dialer = transport.WSDialer{}
	}
	if c.clk == nil {
		c.clk = clock.Real()
	}
	if c.loop == nil {
		c.loop = loop.New(c.log)
		c.ownsLoop = true
	}
	return c, nil
}

// Run drives a client-owned loop until ctx ends or Shutdown is called.
func (c *Client) Run(ctx context.Context) error {
	if !c.ownsLoop {
		return fmt.Errorf("stream client does not own its loop")
	}
	err := c.loop.Run(ctx)
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}

// Loop returns the event loop the client runs on.
func (c *Client) Loop() *loop.Loop {
	return c.loop
}

// SetTarget switches the client to ref. An empty id disconnects and goes idle.
func (c *Client) SetTarget(ref schema.SessionRef) {
	c.loop.Post(func() { c.setTarget(ref) })
}

// SetTargetOnLoop is SetTarget for callers already running on the client's
// loop. The old cycle is invalidated before the call returns, so callbacks
// from it that are still queued are dropped.
func (c *Client) SetTargetOnLoop(ref schema.SessionRef) {
	c.setTarget(ref)
}

// SetEventHandler installs the single event handler, replacing any previous
// one, and delivers events buffered while no handler was set.
func (c *Client) SetEventHandler(fn EventHandler) {
	c.loop.Post(func() { c.setEventHandler(fn) })
}

// SetStateHandler installs the single state observer and reports the
// current state to it.
func (c *Client) SetStateHandler(fn StateHandler) {
	c.loop.Post(func() {
		c.onState = fn
		if fn != nil {
			fn(c.state)
		}
	})
}

// Close disconnects and suppresses reconnection until a new target is set.
func (c *Client) Close() {
	c.loop.Post(c.close)
}

// Shutdown closes the client for good and stops a client-owned loop.
func (c *Client) Shutdown() {
	c.loop.Post(func() {
		c.close()
		c.stopped = true
		c.handler = nil
		c.onState = nil
		if c.ownsLoop {
			c.loop.Stop()
		}
	})
}

// SendText sends text to the current target with newlines normalized to
// carriage returns.
func (c *Client) SendText(text string) {
	c.loop.Post(func() { c.sendText(c.target, text) })
}

// SendTextTo sends text to an explicit session.
func (c *Client) SendTextTo(ref schema.SessionRef, text string) {
	c.loop.Post(func() { c.sendText(ref, text) })
}

// SendKey sends a named key to the current target.
func (c *Client) SendKey(key string) {
	c.loop.Post(func() { c.sendKey(c.target, key) })
}

// SendKeyTo sends a named key to an explicit session.
func (c *Client) SendKeyTo(ref schema.SessionRef, key string) {
	c.loop.Post(func() { c.sendKey(ref, key) })
}

// SendBytes sends raw input bytes to the current target.
func (c *Client) SendBytes(data []byte) {
	buf := append([]byte(nil), data...)
	c.loop.Post(func() {
		if len(buf) == 0 || c.target.IsZero() {
			return
		}
		c.send(&wire.SendBytes{Session: c.target, Data: buf})
	})
}

// Resize asks the remote terminal to take the given dimensions.
func (c *Client) Resize(cols, rows int) {
	c.loop.Post(func() {
		if cols <= 0 || rows <= 0 || c.target.IsZero() {
			return
		}
		c.send(&wire.Resize{Session: c.target, Cols: int32(cols), Rows: int32(rows)})
	})
}

func (c *Client) setTarget(ref schema.SessionRef) {
	if c.stopped {
		return
	}
	ref.ID = schema.SessionID(strings.TrimSpace(string(ref.ID)))
	ref.Coordinator = schema.CoordinatorName(strings.TrimSpace(string(ref.Coordinator)))
	if ref.IsZero() {
		c.stopTimer()
		c.dropCycle()
		c.target = schema.SessionRef{}
		c.pending = nil
		c.setState(State{Status: StatusIdle})
		return
	}
	if ref == c.target && !c.target.IsZero() {
		return
	}
	c.stopTimer()
	c.dropCycle()
	c.target = ref
	c.closedByUser = false
	c.halted = false
	c.pending = nil
	c.setState(State{Status: StatusConnecting, Target: ref})
	c.connect()
}

func (c *Client) setEventHandler(fn EventHandler) {
	c.handler = fn
	if fn == nil || len(c.pending) == 0 {
		return
	}
	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		if c.handler == nil {
			c.buffer(ev)
			continue
		}
		c.handler(ev)
	}
}

func (c *Client) close() {
	c.closedByUser = true
	c.stopTimer()
	c.dropCycle()
	next := c.state
	next.Status = StatusClosed
	c.setState(next)
	c.logger().Info("stream closed")
}

// connect starts a dial for the current target on a fresh cycle.
func (c *Client) connect() {
	ctx, cancel := context.WithCancel(context.Background())
	cyc := &cycle{cancel: cancel}
	c.cycle = cyc
	if c.state.Status != StatusReconnecting {
		next := c.state
		next.Status = StatusConnecting
		c.setState(next)
	}
	log := logx.WithAttempt(c.logger(), c.state.Attempts)
	log.Debug("stream dialing")
	url := c.url
	go func() {
		conn, err := c.dialer.Dial(ctx, url)
		if !c.loop.Post(func() { c.onDial(cyc, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Client) onDial(cyc *cycle, conn transport.Conn, err error) {
	if cyc != c.cycle || cyc.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.logger().Warn("stream dial failed", "error", err)
		c.onSocketError(cyc)
		return
	}
	cyc.conn = conn
	cyc.out = make(chan []byte, outboundQueue)
	go c.writeLoop(cyc)
	go c.readLoop(cyc)

	handshake := &wire.Subscribe{
		Session:              c.target,
		IncludeScreenUpdates: true,
		IncludeRawOutput:     c.includeRaw,
	}
	if !c.enqueue(cyc, handshake) {
		c.onSocketError(cyc)
		return
	}
	c.setState(State{Status: StatusOpen, Target: c.target})
	c.logger().Info("stream open")
}

func (c *Client) readLoop(cyc *cycle) {
	for {
		data, err := cyc.conn.ReadMessage()
		if err != nil {
			c.loop.Post(func() { c.onReadError(cyc, err) })
			return
		}
		if !c.loop.Post(func() { c.onMessage(cyc, data) }) {
			_ = cyc.conn.Close()
			return
		}
	}
}

func (c *Client) writeLoop(cyc *cycle) {
	for data := range cyc.out {
		if err := cyc.conn.WriteMessage(data); err != nil {
			c.loop.Post(func() {
				if cyc != c.cycle || cyc.closed {
					return
				}
				c.logger().Warn("stream write failed", "error", err)
				c.onSocketError(cyc)
			})
			return
		}
	}
}

func (c *Client) onReadError(cyc *cycle, err error) {
	if cyc != c.cycle || cyc.closed {
		return
	}
	if transport.IsCleanClose(err) {
		c.logger().Info("stream closed by server", "error", err)
		c.onClosed(cyc)
		return
	}
	c.logger().Warn("stream read failed", "error", err)
	c.onSocketError(cyc)
}

func (c *Client) onMessage(cyc *cycle, data []byte) {
	if cyc != c.cycle || cyc.closed {
		return
	}
	msg, err := wire.Decode(data)
	if err != nil {
		c.logger().Warn("stream message dropped", "error", err)
		return
	}
	switch m := msg.(type) {
	case *wire.Status:
		c.onStatus(cyc, m)
	case *wire.Event:
		c.dispatch(schema.SubscribeEvent(*m))
	default:
		c.logger().Warn("stream message dropped", "error", &wire.UnsupportedKindError{TypeURL: wire.TypeURLPrefix + msg.TypeName()})
	}
}

func (c *Client) onStatus(cyc *cycle, st *wire.Status) {
	text := strings.TrimSpace(st.Message)
	if text == "" {
		text = msgStreamError
	}
	terminal := st.Terminal()
	c.logger().Warn("stream status", "code", st.Code.String(), "message", st.Message, "terminal", terminal)
	next := c.state
	next.Status = StatusError
	next.Err = text
	next.Code = st.Code
	c.setState(next)
	if terminal {
		c.halted = true
		c.dropCycle()
		return
	}
	c.onClosed(cyc)
}

func (c *Client) onSocketError(cyc *cycle) {
	next := c.state
	next.Status = StatusError
	next.Err = msgWebsocketError
	next.Code = codes.Unavailable
	c.setState(next)
	c.onClosed(cyc)
}

// onClosed tears the cycle down and schedules a reconnect unless the user
// closed the client or a terminal status halted it.
func (c *Client) onClosed(cyc *cycle) {
	if cyc != c.cycle {
		return
	}
	c.dropCycle()
	if c.closedByUser || c.halted || c.stopped || c.target.IsZero() {
		return
	}
	next := c.state
	next.Attempts++
	next.Status = StatusReconnecting
	c.setState(next)
	delay := c.backoff.Delay(next.Attempts)
	logx.WithAttempt(c.logger(), next.Attempts).Info("stream reconnect scheduled", "delay", delay)

	wait := &cycle{cancel: func() {}}
	c.cycle = wait
	c.timer = c.clk.AfterFunc(delay, func() {
		c.loop.Post(func() {
			if c.cycle != wait || c.closedByUser || c.stopped {
				return
			}
			c.timer = nil
			c.connect()
		})
	})
}

func (c *Client) dispatch(ev schema.SubscribeEvent) {
	if c.handler == nil {
		c.buffer(ev)
		return
	}
	c.handler(ev)
}

func (c *Client) buffer(ev schema.SubscribeEvent) {
	if len(c.pending) >= maxPendingEvents {
		copy(c.pending, c.pending[1:])
		c.pending = c.pending[:len(c.pending)-1]
	}
	c.pending = append(c.pending, ev)
}

func (c *Client) sendText(ref schema.SessionRef, text string) {
	if text == "" || ref.IsZero() {
		return
	}
	c.send(&wire.SendText{Session: ref, Text: schema.NormalizeInputText(text)})
}

func (c *Client) sendKey(ref schema.SessionRef, key string) {
	key = strings.TrimSpace(key)
	if key == "" || ref.IsZero() {
		return
	}
	c.send(&wire.SendKey{Session: ref, Key: key})
}

func (c *Client) send(msg wire.Message) {
	cyc := c.cycle
	if c.state.Status != StatusOpen || cyc == nil || cyc.out == nil || cyc.closed {
		c.logger().Debug("stream send dropped", "kind", msg.TypeName(), "status", c.state.Status)
		return
	}
	if !c.enqueue(cyc, msg) {
		c.logger().Debug("stream send dropped", "kind", msg.TypeName(), "reason", "queue full")
	}
}

func (c *Client) enqueue(cyc *cycle, msg wire.Message) bool {
	data, err := wire.Encode(msg)
	if err != nil {
		c.logger().Warn("stream encode failed", "kind", msg.TypeName(), "error", err)
		return false
	}
	select {
	case cyc.out <- data:
		return true
	default:
		return false
	}
}

// dropCycle invalidates the current cycle and closes its connection.
func (c *Client) dropCycle() {
	cyc := c.cycle
	c.cycle = nil
	if cyc == nil || cyc.closed {
		return
	}
	cyc.closed = true
	cyc.cancel()
	if cyc.out != nil {
		close(cyc.out)
	}
	if cyc.conn != nil {
		_ = cyc.conn.Close()
	}
}

func (c *Client) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setState(next State) {
	next.Target = c.target
	if next == c.state {
		return
	}
	c.state = next
	if c.onState != nil {
		c.onState(next)
	}
}

func (c *Client) logger() pslog.Logger {
	return logx.WithSession(c.log, c.target)
}
