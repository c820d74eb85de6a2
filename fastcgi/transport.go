package fastcgi

import (
	"context"
	"io"
	"time"
)

// Stream is the bidirectional byte connection a Client drives: a connected
// TCP or Unix-domain socket, or anything else full-duplex. Opening it,
// owning its lifetime, and any TLS/DNS resolution beneath it is the
// caller's responsibility.
type Stream interface {
	io.Reader
	io.Writer
}

// deadlineStream is satisfied by transports that can be kicked out of a
// blocking Read/Write, such as *net.TCPConn or *net.UnixConn.
type deadlineStream interface {
	SetDeadline(t time.Time) error
}

// pastDeadline is set far enough in the past that SetDeadline(pastDeadline)
// fails any Read/Write already in flight or about to start, immediately.
var pastDeadline = time.Unix(0, 1)

// watchContext arranges for stream to be woken out of a blocking Read or
// Write as soon as ctx is cancelled, for transports that support deadlines.
// The returned stop function must be called once the guarded I/O has
// finished, successfully or not, to release the watcher goroutine.
//
// Plain io.Reader/io.Writer have no notion of cancellation, so this is the
// idiomatic way to bound the cancellation latency of a blocking transport
// without requiring every Stream implementation to be context-aware.
func watchContext(ctx context.Context, stream Stream) (stop func()) {
	d, ok := stream.(deadlineStream)
	if !ok || ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = d.SetDeadline(pastDeadline)
		case <-done:
		}
	}()
	return func() { close(done) }
}
