package core

import "errors"

var (
	// ErrBackpressure means the bounded outbound queue is full.
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded outbound payload.
type Frame []byte

// SignalConnection abstracts the messaging transport of one session.
// Owned by the adapter; TrySend never blocks. Close flushes frames already
// queued and then releases the transport; it is idempotent.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
