package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. AfterFunc callbacks run
// synchronously inside Advance, in deadline order.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	fn       func()
	done     bool
}

// Fake returns a fake clock starting at start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.add(&waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &waiter{deadline: c.now.Add(d), fn: f}
	c.add(w)
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.done {
			return false
		}
		w.done = true
		c.changed.Broadcast()
		return true
	}}
}

// Advance moves time forward and fires every waiter whose deadline passed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		w := c.nextDue(target)
		if w == nil {
			break
		}
		w.done = true
		c.now = w.deadline
		if w.ch != nil {
			w.ch <- w.deadline
			continue
		}
		c.mu.Unlock()
		w.fn()
		c.mu.Lock()
	}
	c.now = target
	c.prune()
	c.changed.Broadcast()
	c.mu.Unlock()
}

// PendingCount returns the number of timers that have not fired or stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending()
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pending() < n {
		c.changed.Wait()
	}
}

// NextDeadline returns the earliest pending deadline relative to now.
func (c *FakeClock) NextDeadline() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *waiter
	for _, w := range c.waiters {
		if w.done {
			continue
		}
		if next == nil || w.deadline.Before(next.deadline) {
			next = w
		}
	}
	if next == nil {
		return 0, false
	}
	return next.deadline.Sub(c.now), true
}

func (c *FakeClock) add(w *waiter) {
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

func (c *FakeClock) nextDue(target time.Time) *waiter {
	live := make([]*waiter, 0, len(c.waiters))
	for _, w := range c.waiters {
		if !w.done && !w.deadline.After(target) {
			live = append(live, w)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].deadline.Before(live[j].deadline) })
	return live[0]
}

func (c *FakeClock) pending() int {
	n := 0
	for _, w := range c.waiters {
		if !w.done {
			n++
		}
	}
	return n
}

func (c *FakeClock) prune() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.done {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
}
