// Package eventbus fans session side-channel events out to subscribers
// without blocking the publisher.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventRawOutput carries a chunk of raw session output.
	EventRawOutput EventType = "raw_output"
	// EventExit carries the exit code of the session process.
	EventExit EventType = "exit"
)

// Event is one side-channel event of a mirrored session.
type Event struct {
	Type     EventType
	Data     []byte
	ExitCode int32
}

// Bus fans events out to subscribers. It implements vtview.Sink.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
// Events are dropped for a subscriber whose channel is full.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// OnRawOutput publishes a raw output event. data is copied.
func (b *Bus) OnRawOutput(data []byte) {
	b.publish(Event{Type: EventRawOutput, Data: append([]byte(nil), data...)})
}

// OnExit publishes an exit event.
func (b *Bus) OnExit(code int32) {
	b.publish(Event{Type: EventExit, ExitCode: code})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	dropped := 0
	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.Trace("eventbus dropped", "type", string(event.Type), "count", dropped)
	}
}
