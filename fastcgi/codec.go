package fastcgi

import (
	"encoding/binary"
	"io"
)

// maxChunk is the largest content_length this client will ever put on the
// wire. It stays a little below the protocol's 65535 ceiling for
// compatibility with older FastCGI responders that choke on the maximum
// value, a margin inherited from long-standing Go FastCGI clients.
const maxChunk = 65500

// pad is shared, read-only zero padding. It is only ever read from (as the
// source of outbound padding bytes), never written to after init, so
// sharing it across the concurrent send/receive halves of a request is
// safe: there is nothing to race on.
var pad [maxPaddingLength]byte

// Record is a decoded FastCGI record, exposed for tests and for callers
// that want to drive the wire format directly.
type Record struct {
	Type      uint8
	RequestID uint16
	Content   []byte
}

// writeRecord emits one record: 8-byte header, content, then zero padding
// out to the next 8-byte boundary.
func writeRecord(w io.Writer, recType uint8, requestID uint16, content []byte) error {
	if len(content) > maxContentLength {
		return &MalformedRecordError{Reason: "content length exceeds 65535"}
	}
	h := newHeader(recType, requestID, len(content))

	var hdr [headerLen]byte
	h.marshalInto(hdr[:])
	if _, err := w.Write(hdr[:]); err != nil {
		return &IOError{Op: "write record header", Err: err}
	}
	if len(content) > 0 {
		if _, err := w.Write(content); err != nil {
			return &IOError{Op: "write record content", Err: err}
		}
	}
	if h.paddingLength > 0 {
		if _, err := w.Write(pad[:h.paddingLength]); err != nil {
			return &IOError{Op: "write record padding", Err: err}
		}
	}
	return nil
}

// readRecord decodes exactly one record from r: the 8-byte header, its
// content, and its padding (discarded). It fails with UnsupportedVersionError
// if the header declares a version other than 1, and with ShortReadError or
// IOError if the connection misbehaves mid-record.
func readRecord(r io.Reader) (Record, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, classifyReadErr("record header", err)
	}

	var h header
	h.unmarshalFrom(hdr[:])
	if h.version != protocolVersion1 {
		return Record{}, &UnsupportedVersionError{Version: h.version}
	}

	var content []byte
	if h.contentLength > 0 {
		content = make([]byte, h.contentLength)
		if _, err := io.ReadFull(r, content); err != nil {
			return Record{}, classifyReadErr("record content", err)
		}
	}

	if h.paddingLength > 0 {
		// A local discard buffer, not the shared pad array: unlike writes,
		// this direction fills the buffer with bytes read off the wire, and
		// the send half may be writing pad concurrently.
		var discard [maxPaddingLength]byte
		if _, err := io.ReadFull(r, discard[:h.paddingLength]); err != nil {
			return Record{}, classifyReadErr("record padding", err)
		}
	}

	return Record{Type: h.recType, RequestID: h.requestID, Content: content}, nil
}

// appendNVSize appends the FastCGI variable-length size encoding of size to
// buf: one byte for 0-127, or a 4-byte big-endian value with the top bit of
// the first byte set otherwise.
func appendNVSize(buf []byte, size int) []byte {
	if size < 128 {
		return append(buf, byte(size))
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(size)|1<<31)
	return append(buf, b[:]...)
}

// encodeNVPair appends one name/value pair, in the
// len(name) | len(value) | name | value layout, to buf.
func encodeNVPair(buf, name, value []byte) []byte {
	buf = appendNVSize(buf, len(name))
	buf = appendNVSize(buf, len(value))
	buf = append(buf, name...)
	buf = append(buf, value...)
	return buf
}

// decodeNVSize reads one size field (1 or 4 bytes) from the front of b.
func decodeNVSize(b []byte) (size, consumed int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), 1, true
	}
	if len(b) < 4 {
		return 0, 0, false
	}
	v := binary.BigEndian.Uint32(b[:4]) &^ (1 << 31)
	return int(v), 4, true
}

// NVPair is a decoded name/value pair.
type NVPair struct {
	Name  []byte
	Value []byte
}

// decodeNVPairs parses a whole PARAMS (or GET_VALUES_RESULT) block into its
// constituent pairs. It is the inverse of repeated encodeNVPair calls and
// exists so the encoding can be round-trip tested and so a future
// GET_VALUES_RESULT consumer has somewhere to start from.
func decodeNVPairs(b []byte) ([]NVPair, error) {
	var pairs []NVPair
	for len(b) > 0 {
		nameLen, n, ok := decodeNVSize(b)
		if !ok {
			return nil, &MalformedRecordError{Reason: "truncated name/value pair length"}
		}
		b = b[n:]

		valueLen, n, ok := decodeNVSize(b)
		if !ok {
			return nil, &MalformedRecordError{Reason: "truncated name/value pair length"}
		}
		b = b[n:]

		if len(b) < nameLen+valueLen {
			return nil, &MalformedRecordError{Reason: "truncated name/value pair data"}
		}
		pairs = append(pairs, NVPair{
			Name:  b[:nameLen],
			Value: b[nameLen : nameLen+valueLen],
		})
		b = b[nameLen+valueLen:]
	}
	return pairs, nil
}

// chunkedWriter splits a logical byte stream into a sequence of same-typed
// records of at most maxChunk content bytes, using a caller-supplied,
// heap-allocated scratch buffer so no per-request 64KB stack allocation is
// ever attempted. Close must be called exactly once, even for
// an empty stream, to emit the terminating empty record.
type chunkedWriter struct {
	w         io.Writer
	requestID uint16
	recType   uint8
	scratch   []byte
	fill      int
}

func newChunkedWriter(w io.Writer, requestID uint16, recType uint8, scratch []byte) *chunkedWriter {
	if len(scratch) == 0 {
		scratch = make([]byte, maxChunk)
	}
	return &chunkedWriter{w: w, requestID: requestID, recType: recType, scratch: scratch}
}

func (cw *chunkedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := copy(cw.scratch[cw.fill:], p)
		cw.fill += n
		written += n
		p = p[n:]
		if cw.fill == len(cw.scratch) {
			if err := cw.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (cw *chunkedWriter) flush() error {
	if cw.fill == 0 {
		return nil
	}
	err := writeRecord(cw.w, cw.recType, cw.requestID, cw.scratch[:cw.fill])
	cw.fill = 0
	return err
}

// Close flushes any buffered bytes and emits the empty terminator record
// that closes the logical stream.
func (cw *chunkedWriter) Close() error {
	if err := cw.flush(); err != nil {
		return err
	}
	return writeRecord(cw.w, cw.recType, cw.requestID, nil)
}
