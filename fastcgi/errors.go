package fastcgi

import (
	"errors"
	"fmt"
	"io"
)

// IOError wraps a failure reading from or writing to the underlying stream.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("fastcgi: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ShortReadError indicates the connection closed in the middle of a record,
// either mid-header or mid-payload.
type ShortReadError struct {
	Op string
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("fastcgi: short read during %s: connection closed", e.Op)
}

// UnsupportedVersionError indicates an inbound record declared a protocol
// version other than 1.
type UnsupportedVersionError struct {
	Version uint8
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("fastcgi: unsupported protocol version %d", e.Version)
}

// MalformedRecordError indicates a record whose framing was internally
// inconsistent: a length that disagreed with the bytes actually present, a
// padding length reaching past what remained, or a fixed-payload record
// shorter than its minimum size.
type MalformedRecordError struct {
	Reason string
}

func (e *MalformedRecordError) Error() string { return "fastcgi: malformed record: " + e.Reason }

// EndRequestError indicates the application server signalled a
// protocol-level failure in its END_REQUEST record: it could not multiplex
// the connection, it was overloaded, or it didn't recognize the requested
// role. app_status is not itself an error condition; it rides along here
// only for diagnostics.
type EndRequestError struct {
	ProtocolStatus uint8
	AppStatus      uint32
}

func (e *EndRequestError) Error() string {
	return fmt.Sprintf("fastcgi: request ended with protocol status %s (app status %d)",
		protocolStatusName(e.ProtocolStatus), e.AppStatus)
}

// Is lets callers match against the ErrCantMultiplexConns / ErrOverloaded /
// ErrUnknownRole sentinels below via errors.Is, without caring about the
// AppStatus that rode along with a particular failure.
func (e *EndRequestError) Is(target error) bool {
	t, ok := target.(*EndRequestError)
	if !ok {
		return false
	}
	return e.ProtocolStatus == t.ProtocolStatus
}

func protocolStatusName(status uint8) string {
	switch status {
	case StatusRequestComplete:
		return "REQUEST_COMPLETE"
	case StatusCantMultiplexConns:
		return "CANT_MPX_CONN"
	case StatusOverloaded:
		return "OVERLOADED"
	case StatusUnknownRole:
		return "UNKNOWN_ROLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", status)
	}
}

// Sentinel EndRequestErrors for the three known non-success protocol
// statuses, for use with errors.Is.
var (
	ErrCantMultiplexConns = &EndRequestError{ProtocolStatus: StatusCantMultiplexConns}
	ErrOverloaded         = &EndRequestError{ProtocolStatus: StatusOverloaded}
	ErrUnknownRole        = &EndRequestError{ProtocolStatus: StatusUnknownRole}
)

// RequestIDOverflowError is reserved for implementations that enforce a
// collision check across in-flight requests after the id space wraps. This
// client serializes requests, so a collision is structurally impossible;
// the type exists to round out the error taxonomy and is never returned by
// this package.
type RequestIDOverflowError struct{}

func (e *RequestIDOverflowError) Error() string { return "fastcgi: request id space exhausted" }

// classifyReadErr turns a low-level read failure into ShortReadError when it
// looks like the peer simply closed the connection, or IOError otherwise.
func classifyReadErr(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ShortReadError{Op: op}
	}
	return &IOError{Op: op, Err: err}
}
