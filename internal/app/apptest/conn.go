// Package apptest provides an in-memory SignalConnection for tests.
package apptest

import (
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/protocol"
)

// Conn queues frames in memory. With Capacity > 0 it reports backpressure
// once that many undrained frames are queued.
type Conn struct {
	Capacity int

	mu     sync.Mutex
	queued [][]byte
	closed bool
	closes int
}

func NewConn(capacity int) *Conn {
	return &Conn{Capacity: capacity}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.Capacity > 0 && len(c.queued) >= c.Capacity {
		return core.ErrBackpressure
	}
	c.queued = append(c.queued, append([]byte(nil), f...))
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Drain decodes and removes every queued frame, as a writer would.
func (c *Conn) Drain() []protocol.Envelope {
	c.mu.Lock()
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(queued))
	for _, b := range queued {
		env, err := protocol.DecodeOutbound(b)
		if err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

// Of returns the frames of type t from frames.
func Of(frames []protocol.Envelope, t protocol.Type) []protocol.Envelope {
	var out []protocol.Envelope
	for _, f := range frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}
