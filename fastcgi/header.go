package fastcgi

import "encoding/binary"

// Record types, as laid out in the wire protocol.
const (
	typeBeginRequest uint8 = iota + 1
	typeAbortRequest
	typeEndRequest
	typeParams
	typeStdin
	typeStdout
	typeStderr
	typeData
	typeGetValues
	typeGetValuesResult
	typeUnknownType
)

// Roles a BEGIN_REQUEST record may declare. This client only ever speaks
// RoleResponder; the others exist so the wire constants are complete.
const (
	RoleResponder uint16 = iota + 1
	RoleAuthorizer
	RoleFilter
)

// flagKeepConn is the only defined BEGIN_REQUEST flag bit.
const flagKeepConn uint8 = 0x01

// Protocol statuses carried in an END_REQUEST record's body.
const (
	StatusRequestComplete uint8 = iota
	StatusCantMultiplexConns
	StatusOverloaded
	StatusUnknownRole
)

const protocolVersion1 uint8 = 1

const (
	headerLen        = 8
	maxContentLength = 0xffff // 65535, the largest content_length a record header can carry
	maxPaddingLength = 255
)

// header is the fixed 8-byte record header that precedes every record's
// content and padding.
type header struct {
	version       uint8
	recType       uint8
	requestID     uint16
	contentLength uint16
	paddingLength uint8
	reserved      uint8
}

// newHeader builds a header for a record carrying contentLength bytes,
// padding it out to the next 8-byte boundary per the conventional (not
// mandatory) padding rule.
func newHeader(recType uint8, requestID uint16, contentLength int) header {
	return header{
		version:       protocolVersion1,
		recType:       recType,
		requestID:     requestID,
		contentLength: uint16(contentLength),
		paddingLength: uint8(-contentLength & 7),
	}
}

func (h header) marshalInto(buf []byte) {
	buf[0] = h.version
	buf[1] = h.recType
	binary.BigEndian.PutUint16(buf[2:4], h.requestID)
	binary.BigEndian.PutUint16(buf[4:6], h.contentLength)
	buf[6] = h.paddingLength
	buf[7] = h.reserved
}

func (h *header) unmarshalFrom(buf []byte) {
	h.version = buf[0]
	h.recType = buf[1]
	h.requestID = binary.BigEndian.Uint16(buf[2:4])
	h.contentLength = binary.BigEndian.Uint16(buf[4:6])
	h.paddingLength = buf[6]
	h.reserved = buf[7]
}
