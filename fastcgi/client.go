package fastcgi

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrRequestInFlight is returned by Execute/ExecuteOnce when a Client
// already has a request in flight; a Client serializes requests and does
// not support concurrent calls.
var ErrRequestInFlight = errors.New("fastcgi: client already has a request in flight")

// Client holds one FastCGI connection, its keep-alive flag, and a
// monotonically allocated request id counter. The caller opens the Stream
// and owns its lifetime; the Client borrows it for the duration of each
// Execute call.
type Client struct {
	stream    Stream
	keepAlive bool
	logger    *zap.Logger

	guard         requestGuard
	nextRequestID uint16
	wrapped       bool

	chunkBuf []byte // heap-allocated, reused across requests on this Client
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithLogger attaches a zap.Logger the Client uses for protocol-lifecycle
// diagnostics (stderr capture, request-id wraparound). The default is a
// no-op logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithChunkSize overrides the size of the scratch buffer used to chunk
// outbound PARAMS/STDIN streams. It must be a positive number no larger
// than the protocol's 65500-byte practical ceiling; out-of-range values are
// ignored.
func WithChunkSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 && n <= maxChunk {
			c.chunkBuf = make([]byte, n)
		}
	}
}

func newClient(stream Stream, keepAlive bool, opts ...ClientOption) *Client {
	c := &Client{
		stream:        stream,
		keepAlive:     keepAlive,
		logger:        zap.NewNop(),
		nextRequestID: 1,
		chunkBuf:      make([]byte, maxChunk),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient returns a short-connection Client: BEGIN_REQUEST is sent
// without KEEP_CONN, so the server is expected to close the connection
// after the request completes.
func NewClient(stream Stream, opts ...ClientOption) *Client {
	return newClient(stream, false, opts...)
}

// NewKeepAliveClient returns a Client that asks the server to keep the
// connection open after each request, so the same Client can be used for
// further Execute calls.
func NewKeepAliveClient(stream Stream, opts ...ClientOption) *Client {
	return newClient(stream, true, opts...)
}

// allocateRequestID returns the next request id, skipping 0 (reserved for
// management records) and wrapping from 65535 back to 1. The caller must
// hold c.guard.
func (c *Client) allocateRequestID() uint16 {
	id := c.nextRequestID
	next := id + 1
	if next == 0 {
		next = 1
		c.wrapped = true
		c.logger.Debug("fastcgi: request id space wrapped back to 1")
	}
	c.nextRequestID = next
	return id
}

// Execute drives one request to completion over the Client's connection,
// sending BEGIN_REQUEST with KEEP_CONN set iff the Client was constructed
// with NewKeepAliveClient. It does not close the underlying stream; on a
// non-keep-alive Client that's the caller's job once done, or use
// ExecuteOnce to have it done automatically.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if !c.guard.acquire() {
		return nil, ErrRequestInFlight
	}
	defer c.guard.release()

	requestID := c.allocateRequestID()
	return c.execute(ctx, requestID, req)
}

// ExecuteOnce performs one request and then closes the underlying stream if
// it implements io.Closer. It is the natural match for a Client built with
// NewClient: the connection is single-use by construction, and this method
// makes that explicit instead of leaving the caller to close it themselves.
func (c *Client) ExecuteOnce(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.Execute(ctx, req)
	if closer, ok := c.stream.(interface{ Close() error }); ok {
		if closeErr := closer.Close(); err == nil {
			err = closeErr
		}
	}
	return resp, err
}
