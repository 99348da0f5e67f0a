package stream

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"

	"pkt.systems/pslog"
	"pkt.systems/vtview/internal/clock"
	"pkt.systems/vtview/internal/loop"
	"pkt.systems/vtview/internal/transport"
	"pkt.systems/vtview/internal/wire"
	"pkt.systems/vtview/schema"
)

const waitTimeout = 2 * time.Second

type fakeConn struct {
	inbound chan []byte
	errs    chan error
	writes  chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte),
		errs:    make(chan error, 1),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialAttempt struct {
	url     string
	conn    *fakeConn
	err     error
	release chan struct{}
}

type fakeDialer struct {
	mu       sync.Mutex
	hold     bool
	failures []error
	attempts chan *dialAttempt
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{attempts: make(chan *dialAttempt, 16)}
}

func (d *fakeDialer) holdDials() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hold = true
}

func (d *fakeDialer) failNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	attempt := &dialAttempt{url: url, release: make(chan struct{})}
	if len(d.failures) > 0 {
		attempt.err = d.failures[0]
		d.failures = d.failures[1:]
	} else {
		attempt.conn = newFakeConn()
	}
	hold := d.hold
	d.mu.Unlock()

	d.attempts <- attempt
	if hold {
		<-attempt.release
	}
	if attempt.err != nil {
		return nil, attempt.err
	}
	return attempt.conn, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t      *testing.T
	clk    *clock.FakeClock
	loop   *loop.Loop
	dialer *fakeDialer
	client *Client
	states chan State
	logs   *syncBuffer
}

func newHarness(t *testing.T, includeRaw bool) *harness {
	t.Helper()
	logs := &syncBuffer{}
	logger := pslog.NewWithOptions(logs, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.TraceLevel,
	})
	h := &harness{
		t:      t,
		clk:    clock.Fake(time.Unix(0, 0)),
		loop:   loop.New(logger),
		dialer: newFakeDialer(),
		states: make(chan State, 256),
		logs:   logs,
	}
	client, err := New(Options{
		URL:              "ws://vtr.test/api/ws",
		Dialer:           h.dialer,
		Clock:            h.clk,
		Loop:             h.loop,
		IncludeRawOutput: includeRaw,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	h.client = client
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.loop.Done()
	})
	client.SetStateHandler(func(st State) { h.states <- st })
	if got := h.waitState(func(st State) bool { return true }); got.Status != StatusIdle {
		t.Fatalf("expected idle initial state, got %+v", got)
	}
	return h
}

// settle waits until everything already posted to the loop has run.
func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.loop.Call(ctx, func() {}); err != nil {
		h.t.Fatalf("loop barrier: %v", err)
	}
}

func (h *harness) waitState(match func(State) bool) State {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case st := <-h.states:
			if match(st) {
				return st
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for state")
			return State{}
		}
	}
}

func (h *harness) waitStatus(want Status) State {
	h.t.Helper()
	return h.waitState(func(st State) bool { return st.Status == want })
}

func (h *harness) nextAttempt() *dialAttempt {
	h.t.Helper()
	select {
	case a := <-h.dialer.attempts:
		return a
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func (h *harness) expectNoAttempt() {
	h.t.Helper()
	h.settle()
	select {
	case a := <-h.dialer.attempts:
		h.t.Fatalf("unexpected dial to %s", a.url)
	default:
	}
}

// open targets ref and returns the connection once the client is open.
func (h *harness) open(ref schema.SessionRef) *fakeConn {
	h.t.Helper()
	h.client.SetTarget(ref)
	attempt := h.nextAttempt()
	h.waitStatus(StatusOpen)
	return attempt.conn
}

func (h *harness) push(conn *fakeConn, msg wire.Message) {
	h.t.Helper()
	data, err := wire.Encode(msg)
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	h.pushRaw(conn, data)
}

func (h *harness) pushRaw(conn *fakeConn, data []byte) {
	h.t.Helper()
	select {
	case conn.inbound <- data:
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out delivering message")
	}
}

// drain makes sure every message pushed so far has been handled: the reader
// only accepts the marker after posting the previous message.
func (h *harness) drain(conn *fakeConn) {
	h.t.Helper()
	h.push(conn, &wire.SendKey{Key: "marker"})
	h.settle()
}

func readWrite(t *testing.T, conn *fakeConn) wire.Message {
	t.Helper()
	select {
	case data := <-conn.writes:
		msg, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decode write: %v", err)
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for write")
		return nil
	}
}

func expectNoWrite(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case data := <-conn.writes:
		msg, _ := wire.Decode(data)
		t.Fatalf("unexpected write %#v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestHandshakeOnOpen(t *testing.T) {
	h := newHarness(t, true)
	ref := schema.SessionRef{ID: "build", Coordinator: "edge"}
	h.client.SetTarget(ref)
	if st := h.waitStatus(StatusConnecting); st.Target != ref {
		t.Fatalf("unexpected connecting target %+v", st.Target)
	}
	attempt := h.nextAttempt()
	if attempt.url != "ws://vtr.test/api/ws" {
		t.Fatalf("unexpected dial url %q", attempt.url)
	}
	st := h.waitStatus(StatusOpen)
	if st.Attempts != 0 || st.Err != "" {
		t.Fatalf("unexpected open state %+v", st)
	}
	got := readWrite(t, attempt.conn)
	want := &wire.Subscribe{Session: ref, IncludeScreenUpdates: true, IncludeRawOutput: true}
	if diff := cmp.Diff(wire.Message(want), got); diff != "" {
		t.Fatalf("handshake mismatch (-want +got):\n%s", diff)
	}
}

func TestSetSameTargetIsNoop(t *testing.T) {
	h := newHarness(t, false)
	ref := schema.SessionRef{ID: "s1"}
	conn := h.open(ref)
	h.client.SetTarget(ref)
	h.expectNoAttempt()
	if conn.isClosed() {
		t.Fatalf("expected connection to stay open")
	}
}

func TestEmptyTargetGoesIdle(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "s1"})
	h.client.SetTarget(schema.SessionRef{ID: "  "})
	st := h.waitStatus(StatusIdle)
	if !st.Target.IsZero() {
		t.Fatalf("expected empty target, got %+v", st.Target)
	}
	if !conn.isClosed() {
		t.Fatalf("expected connection closed")
	}
	h.expectNoAttempt()
}

func TestReconnectBackoffAndAttemptReset(t *testing.T) {
	h := newHarness(t, false)
	ref := schema.SessionRef{ID: "s1"}
	conn := h.open(ref)
	readWrite(t, conn)

	conn.errs <- wsutil.ClosedError{Code: ws.StatusGoingAway, Reason: "restart"}
	st := h.waitStatus(StatusReconnecting)
	if st.Attempts != 1 || st.Err != "" {
		t.Fatalf("unexpected reconnect state %+v", st)
	}
	h.clk.WaitForTimers(1)
	if delay, ok := h.clk.NextDeadline(); !ok || delay != 700*time.Millisecond {
		t.Fatalf("expected 700ms reconnect timer, got %s ok=%v", delay, ok)
	}

	h.dialer.failNext(errors.New("connection refused"))
	h.clk.Advance(700 * time.Millisecond)
	h.nextAttempt()
	failed := h.waitStatus(StatusError)
	if failed.Err != "websocket error" {
		t.Fatalf("unexpected dial failure state %+v", failed)
	}
	st = h.waitStatus(StatusReconnecting)
	if st.Attempts != 2 {
		t.Fatalf("expected second attempt, got %+v", st)
	}
	h.clk.WaitForTimers(1)
	if delay, _ := h.clk.NextDeadline(); delay != 1400*time.Millisecond {
		t.Fatalf("expected 1400ms reconnect timer, got %s", delay)
	}

	h.clk.Advance(1400 * time.Millisecond)
	attempt := h.nextAttempt()
	seen := []Status{}
	st = h.waitState(func(st State) bool {
		seen = append(seen, st.Status)
		return st.Status == StatusOpen
	})
	if st.Attempts != 0 || st.Err != "" {
		t.Fatalf("expected attempts reset on open, got %+v", st)
	}
	for _, status := range seen {
		if status == StatusConnecting {
			t.Fatalf("reconnect dial must not report connecting, saw %v", seen)
		}
	}
	if got, ok := readWrite(t, attempt.conn).(*wire.Subscribe); !ok || got.Session != ref {
		t.Fatalf("expected handshake on reconnect, got %#v", got)
	}
}

func TestAbnormalReadErrorReportsWebsocketError(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "s1"})
	conn.errs <- errors.New("connection reset by peer")
	if st := h.waitStatus(StatusError); st.Err != "websocket error" {
		t.Fatalf("unexpected error state %+v", st)
	}
	if st := h.waitStatus(StatusReconnecting); st.Attempts != 1 {
		t.Fatalf("unexpected reconnect state %+v", st)
	}
	if !conn.isClosed() {
		t.Fatalf("expected failed connection closed")
	}
}

func TestStaleCycleIgnoredAfterRetarget(t *testing.T) {
	h := newHarness(t, false)
	h.dialer.holdDials()
	first := schema.SessionRef{ID: "first"}
	second := schema.SessionRef{ID: "second"}

	h.client.SetTarget(first)
	a := h.nextAttempt()
	h.client.SetTarget(second)
	b := h.nextAttempt()

	close(a.release)
	select {
	case <-a.conn.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("expected stale connection to be closed")
	}
	h.settle()
	select {
	case data := <-a.conn.writes:
		t.Fatalf("stale connection received %d bytes", len(data))
	default:
	}

	close(b.release)
	st := h.waitStatus(StatusOpen)
	if st.Target != second {
		t.Fatalf("expected open on second target, got %+v", st)
	}
	if got := readWrite(t, b.conn).(*wire.Subscribe); got.Session != second {
		t.Fatalf("unexpected handshake target %+v", got.Session)
	}
}

func TestRetargetCancelsReconnectTimer(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "first"})
	conn.errs <- wsutil.ClosedError{Code: ws.StatusNormalClosure}
	h.waitStatus(StatusReconnecting)
	h.clk.WaitForTimers(1)

	h.client.SetTarget(schema.SessionRef{ID: "second"})
	h.nextAttempt()
	h.waitStatus(StatusOpen)
	if n := h.clk.PendingCount(); n != 0 {
		t.Fatalf("expected reconnect timer cancelled, %d pending", n)
	}
	h.clk.Advance(10 * time.Second)
	h.expectNoAttempt()
}

func TestCloseSuppressesReconnect(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "s1"})
	h.client.Close()
	h.waitStatus(StatusClosed)
	if !conn.isClosed() {
		t.Fatalf("expected connection closed")
	}
	h.settle()
	if n := h.clk.PendingCount(); n != 0 {
		t.Fatalf("expected no reconnect timer, %d pending", n)
	}
	h.clk.Advance(10 * time.Second)
	h.expectNoAttempt()

	h.client.SetTarget(schema.SessionRef{ID: "s2"})
	h.nextAttempt()
	h.waitStatus(StatusOpen)
}

func TestTerminalStatusHalts(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "missing"})
	h.push(conn, &wire.Status{Code: codes.NotFound, Message: "session not found"})
	st := h.waitStatus(StatusError)
	if st.Err != "session not found" || st.Code != codes.NotFound {
		t.Fatalf("unexpected error state %+v", st)
	}
	select {
	case <-conn.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("expected connection closed after status")
	}
	h.settle()
	if n := h.clk.PendingCount(); n != 0 {
		t.Fatalf("terminal status must not schedule reconnect, %d pending", n)
	}
	h.clk.Advance(10 * time.Second)
	h.expectNoAttempt()
}

func TestRetriableStatusReconnects(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "s1"})
	h.push(conn, &wire.Status{Code: codes.Unavailable})
	st := h.waitStatus(StatusError)
	if st.Err != "stream error" || st.Code != codes.Unavailable {
		t.Fatalf("unexpected error state %+v", st)
	}
	st = h.waitStatus(StatusReconnecting)
	if st.Attempts != 1 || st.Err != "stream error" {
		t.Fatalf("unexpected reconnect state %+v", st)
	}
	h.clk.WaitForTimers(1)
	h.clk.Advance(700 * time.Millisecond)
	h.nextAttempt()
	if st := h.waitStatus(StatusOpen); st.Code != codes.OK || st.Err != "" {
		t.Fatalf("expected cleared error on open, got %+v", st)
	}
}

func TestPendingEventsFlushedOnHandlerSet(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "s1"})
	for i := 1; i <= 3; i++ {
		h.push(conn, &wire.Event{SessionExited: &schema.SessionExited{ExitCode: int32(i)}})
	}
	h.drain(conn)

	got := []int32{}
	done := make(chan struct{})
	h.client.SetEventHandler(func(ev schema.SubscribeEvent) {
		got = append(got, ev.SessionExited.ExitCode)
		if len(got) == 4 {
			close(done)
		}
	})
	h.push(conn, &wire.Event{SessionExited: &schema.SessionExited{ExitCode: 4}})
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for events, got %v", got)
	}
	if diff := cmp.Diff([]int32{1, 2, 3, 4}, got); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestPendingBufferIsBounded(t *testing.T) {
	c := &Client{}
	for i := 0; i < maxPendingEvents+6; i++ {
		c.buffer(schema.SubscribeEvent{SessionExited: &schema.SessionExited{ExitCode: int32(i)}})
	}
	if len(c.pending) != maxPendingEvents {
		t.Fatalf("expected %d buffered events, got %d", maxPendingEvents, len(c.pending))
	}
	if first := c.pending[0].SessionExited.ExitCode; first != 6 {
		t.Fatalf("expected oldest events dropped, first is %d", first)
	}
}

func TestRetargetClearsPendingEvents(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "first"})
	h.push(conn, &wire.Event{RawOutput: []byte("old")})
	h.drain(conn)
	h.open(schema.SessionRef{ID: "second"})

	var got []schema.SubscribeEvent
	h.client.SetEventHandler(func(ev schema.SubscribeEvent) { got = append(got, ev) })
	h.settle()
	if len(got) != 0 {
		t.Fatalf("expected pending events discarded on retarget, got %d", len(got))
	}
}

func TestOutboundActions(t *testing.T) {
	h := newHarness(t, false)
	ref := schema.SessionRef{ID: "s1"}
	other := schema.SessionRef{ID: "s2", Coordinator: "edge"}
	conn := h.open(ref)
	readWrite(t, conn)

	h.client.SendText("ls -la\nexit\r\n")
	h.client.SendKey("ctrl+c")
	h.client.SendBytes([]byte{0x1b, '[', 'A'})
	h.client.Resize(120, 40)
	h.client.SendTextTo(other, "a\nb")
	h.client.SendKeyTo(other, "enter")

	want := []wire.Message{
		&wire.SendText{Session: ref, Text: "ls -la\rexit\r"},
		&wire.SendKey{Session: ref, Key: "ctrl+c"},
		&wire.SendBytes{Session: ref, Data: []byte{0x1b, '[', 'A'}},
		&wire.Resize{Session: ref, Cols: 120, Rows: 40},
		&wire.SendText{Session: other, Text: "a\rb"},
		&wire.SendKey{Session: other, Key: "enter"},
	}
	for i, w := range want {
		got := readWrite(t, conn)
		if diff := cmp.Diff(w, got); diff != "" {
			t.Fatalf("write %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestOutboundDroppedUnlessOpen(t *testing.T) {
	h := newHarness(t, false)
	h.client.SendText("ignored")
	h.client.Resize(80, 24)
	h.settle()

	conn := h.open(schema.SessionRef{ID: "s1"})
	readWrite(t, conn)
	h.client.Resize(0, 24)
	h.client.SendText("")
	expectNoWrite(t, conn)

	conn.errs <- wsutil.ClosedError{Code: ws.StatusNormalClosure}
	h.waitStatus(StatusReconnecting)
	h.client.SendText("while down")
	h.settle()
	expectNoWrite(t, conn)
	if !strings.Contains(h.logs.String(), "stream send dropped") {
		t.Fatalf("expected dropped send to be logged, logs: %s", h.logs.String())
	}
}

func TestUnsupportedKindKeepsConnection(t *testing.T) {
	h := newHarness(t, false)
	conn := h.open(schema.SessionRef{ID: "s1"})
	env, err := anypb.New(&emptypb.Empty{})
	if err != nil {
		t.Fatalf("anypb.New: %v", err)
	}
	data, err := proto.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h.pushRaw(conn, data)
	h.pushRaw(conn, []byte{0xff, 0xff, 0xff})
	h.drain(conn)

	logs := h.logs.String()
	if !strings.Contains(logs, "google.protobuf.Empty") {
		t.Fatalf("expected unsupported kind warning, logs: %s", logs)
	}
	if !strings.Contains(logs, "malformed envelope") {
		t.Fatalf("expected malformed envelope warning, logs: %s", logs)
	}
	if conn.isClosed() {
		t.Fatalf("expected connection to stay open")
	}

	received := make(chan schema.SubscribeEvent, 1)
	h.client.SetEventHandler(func(ev schema.SubscribeEvent) { received <- ev })
	h.push(conn, &wire.Event{RawOutput: []byte("still here")})
	select {
	case ev := <-received:
		if string(ev.RawOutput) != "still here" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for event after unsupported kind")
	}
}

func TestShutdownStopsOwnedLoop(t *testing.T) {
	client, err := New(Options{URL: "ws://vtr.test/api/ws", Dialer: newFakeDialer(), Clock: clock.Fake(time.Unix(0, 0))})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(context.Background()) }()
	client.Shutdown()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for shutdown")
	}
}

func TestStateHalted(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{name: "terminal", state: State{Status: StatusError, Code: codes.NotFound}, want: true},
		{name: "retriable", state: State{Status: StatusError, Code: codes.Unavailable}, want: false},
		{name: "open", state: State{Status: StatusOpen, Code: codes.NotFound}, want: false},
	}
	for _, tc := range tests {
		if got := tc.state.Halted(); got != tc.want {
			t.Fatalf("%s: Halted() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
