// internal/dispatch/channel.go
package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/tamzrod/rack-manager/internal/transport"
)

// Priority orders contention on a channel. Higher values are served first.
type Priority uint8

const (
	User Priority = iota + 1
	System
)

func (p Priority) String() string {
	switch p {
	case User:
		return "user"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// Channel is the exclusive-access unit for one physical bus.
// At most one envelope holds it at a time; waiters are granted it by
// priority, then by arrival.
type Channel struct {
	name string
	tr   transport.Transport

	mu        sync.Mutex
	busy      bool
	seq       uint64
	waiters   waitQueue
	heldUntil time.Time
}

// NewChannel wraps the transport of one bus. Channels live for the process.
func NewChannel(name string, tr transport.Transport) *Channel {
	return &Channel{name: name, tr: tr}
}

// Close closes the underlying transport.
func (c *Channel) Close() error { return c.tr.Close() }

// acquire blocks until the channel is granted or ctx ends.
func (c *Channel) acquire(ctx context.Context, prio Priority) error {
	c.mu.Lock()
	if !c.busy && len(c.waiters) == 0 {
		c.busy = true
		c.mu.Unlock()
		return nil
	}

	w := &waiter{prio: prio, seq: c.seq, ready: make(chan struct{})}
	c.seq++
	heap.Push(&c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if w.granted {
			// lost the race with a handoff: pass the grant on
			c.mu.Unlock()
			c.handoff()
			return ctx.Err()
		}
		heap.Remove(&c.waiters, w.index)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// release hands the channel to the next waiter, after settle has passed.
// The caller does not wait for the settle window.
func (c *Channel) release(settle time.Duration) {
	if settle <= 0 {
		c.handoff()
		return
	}
	c.mu.Lock()
	c.heldUntil = time.Now().Add(settle)
	c.mu.Unlock()
	time.AfterFunc(settle, c.handoff)
}

func (c *Channel) handoff() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.waiters.Len() == 0 {
		c.busy = false
		return
	}
	w := heap.Pop(&c.waiters).(*waiter)
	w.granted = true
	close(w.ready)
}

// queued reports how many envelopes wait for the channel.
func (c *Channel) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters.Len()
}

// settling reports whether the channel is held for a settle window.
func (c *Channel) settling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.heldUntil)
}

//
// ---- wait queue ----
//

type waiter struct {
	prio    Priority
	seq     uint64
	ready   chan struct{}
	granted bool
	index   int
}

// waitQueue is a heap: highest priority first, FIFO within a priority.
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].prio != q[j].prio {
		return q[i].prio > q[j].prio
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}
