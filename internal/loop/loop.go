// Package loop provides the single cooperative event loop that owns all
// client and viewer state. Other goroutines only hand it closures.
package loop

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
)

// ErrStopped is returned by Run after Stop.
var ErrStopped = errors.New("loop stopped")

// Loop runs posted functions one at a time, in post order.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
	log     pslog.Logger
}

// New constructs a Loop.
func New(logger pslog.Logger) *Loop {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger,
	}
}

// Post queues fn. It never blocks and reports false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	defer l.finish()
	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
		}
		if l.isStopped() {
			return ErrStopped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Stop makes Run return after the functions already queued. Later posts are dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) finish() {
	l.mu.Lock()
	dropped := len(l.queue)
	l.queue = nil
	l.stopped = true
	l.mu.Unlock()
	if dropped > 0 {
		l.log.Debug("loop dropped queued work", "count", dropped)
	}
	close(l.done)
}
