// internal/transport/loopback.go
package transport

import (
	"sync"
	"time"
)

// Handler answers one request frame for one device address.
type Handler func(addr uint8, frame []byte) ([]byte, error)

// Loopback is an in-memory bus. Each Read runs the handler against the
// last written frame, after Latency. A latency longer than the read
// timeout behaves like a silent device.
type Loopback struct {
	Latency time.Duration

	mu      sync.Mutex
	handler Handler
	addr    uint8
	pending []byte
	closed  bool
}

func NewLoopback(h Handler) *Loopback {
	return &Loopback{handler: h}
}

func (l *Loopback) Write(addr uint8, frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.addr = addr
	l.pending = append([]byte(nil), frame...)
	return nil
}

func (l *Loopback) Read(timeout time.Duration) ([]byte, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if l.pending == nil {
		l.mu.Unlock()
		return nil, ErrNoRequest
	}
	addr, req, h, latency := l.addr, l.pending, l.handler, l.Latency
	l.pending = nil
	l.mu.Unlock()

	if timeout > 0 && latency > timeout {
		time.Sleep(timeout)
		return nil, ErrTimeout
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	return h(addr, req)
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
