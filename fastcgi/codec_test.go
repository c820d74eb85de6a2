package fastcgi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecordRoundTrip checks that decode(encode(R)) == R modulo padding
// bytes, for a range of content lengths including the maximum.
func TestRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		recType   uint8
		requestID uint16
		content   []byte
	}{
		{"empty", typeStdin, 1, nil},
		{"small", typeStdout, 1, []byte("hello")},
		{"exactly one boundary", typeParams, 7, bytes.Repeat([]byte{0x2a}, 8)},
		{"near max", typeStdout, 0xfffe, bytes.Repeat([]byte{0x58}, 65000)},
		{"max content length", typeStdout, 1, bytes.Repeat([]byte{0x59}, maxContentLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeRecord(&buf, tt.recType, tt.requestID, tt.content))

			rec, err := readRecord(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.recType, rec.Type)
			assert.Equal(t, tt.requestID, rec.RequestID)
			assert.Equal(t, tt.content, rec.Content)
			assert.Equal(t, 0, buf.Len(), "no trailing bytes after a full record is consumed")
		})
	}
}

func TestWriteRecord_RejectsOversizedContent(t *testing.T) {
	var buf bytes.Buffer
	err := writeRecord(&buf, typeStdout, 1, make([]byte, maxContentLength+1))
	require.Error(t, err)
	var malformed *MalformedRecordError
	assert.ErrorAs(t, err, &malformed)
}

func TestReadRecord_UnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	h := newHeader(typeStdout, 1, 0)
	h.version = 2
	var hdr [headerLen]byte
	h.marshalInto(hdr[:])
	buf.Write(hdr[:])

	_, err := readRecord(&buf)
	require.Error(t, err)
	var unsupported *UnsupportedVersionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, uint8(2), unsupported.Version)
}

func TestReadRecord_ShortReadMidHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, typeStdout, 0, 1})
	_, err := readRecord(buf)
	require.Error(t, err)
	var short *ShortReadError
	assert.ErrorAs(t, err, &short)
}

func TestReadRecord_ShortReadMidPayload(t *testing.T) {
	var hdr [headerLen]byte
	h := newHeader(typeStdout, 1, 10)
	h.marshalInto(hdr[:])
	buf := bytes.NewBuffer(hdr[:])
	buf.Write([]byte("short")) // fewer than the declared 10 content bytes

	_, err := readRecord(buf)
	require.Error(t, err)
	var short *ShortReadError
	assert.ErrorAs(t, err, &short)
}

// TestNVPairRoundTrip checks encode/decode symmetry, including the 127/128
// boundary where the size encoding switches from 1 byte to 4 bytes.
func TestNVPairRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"empty value", "REQUEST_METHOD", ""},
		{"short", "SCRIPT_NAME", "/index.php"},
		{"name at 127", string(bytes.Repeat([]byte("a"), 127)), "v"},
		{"name at 128", string(bytes.Repeat([]byte("a"), 128)), "v"},
		{"value at 127", "k", string(bytes.Repeat([]byte("b"), 127))},
		{"value at 128", "k", string(bytes.Repeat([]byte("b"), 128))},
		{"both long", string(bytes.Repeat([]byte("n"), 500)), string(bytes.Repeat([]byte("v"), 900))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeNVPair(nil, []byte(tt.key), []byte(tt.value))

			pairs, err := decodeNVPairs(encoded)
			require.NoError(t, err)
			require.Len(t, pairs, 1)
			assert.Equal(t, tt.key, string(pairs[0].Name))
			assert.Equal(t, tt.value, string(pairs[0].Value))
		})
	}
}

func TestNVSizeEncoding_SelectsForm(t *testing.T) {
	assert.Len(t, appendNVSize(nil, 0), 1)
	assert.Len(t, appendNVSize(nil, 127), 1)
	assert.Len(t, appendNVSize(nil, 128), 4)
	assert.Len(t, appendNVSize(nil, 1<<20), 4)
}

func TestDecodeNVPairs_MultiplePairs(t *testing.T) {
	var encoded []byte
	encoded = encodeNVPair(encoded, []byte("REQUEST_METHOD"), []byte("GET"))
	encoded = encodeNVPair(encoded, []byte("SCRIPT_NAME"), []byte("/i.php"))

	pairs, err := decodeNVPairs(encoded)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "REQUEST_METHOD", string(pairs[0].Name))
	assert.Equal(t, "GET", string(pairs[0].Value))
	assert.Equal(t, "SCRIPT_NAME", string(pairs[1].Name))
	assert.Equal(t, "/i.php", string(pairs[1].Value))
}

func TestDecodeNVPairs_Truncated(t *testing.T) {
	_, err := decodeNVPairs([]byte{5, 1, 'a'}) // name length 5, but only 1 byte follows
	require.Error(t, err)
	var malformed *MalformedRecordError
	assert.ErrorAs(t, err, &malformed)
}

// TestStreamChunkingLaw checks that a k-byte logical stream comes back
// out, concatenated, as exactly those k bytes followed by one terminator
// record.
func TestStreamChunkingLaw(t *testing.T) {
	sizes := []int{0, 1, maxChunk - 1, maxChunk, maxChunk + 1, maxChunk*2 + 17}

	for _, size := range sizes {
		t.Run("", func(t *testing.T) {
			source := bytes.Repeat([]byte{0x41}, size)

			var wire bytes.Buffer
			cw := newChunkedWriter(&wire, 1, typeStdin, nil)
			n, err := cw.Write(source)
			require.NoError(t, err)
			assert.Equal(t, size, n)
			require.NoError(t, cw.Close())

			reassembled := []byte{}
			var terminators int
			for wire.Len() > 0 {
				rec, err := readRecord(&wire)
				require.NoError(t, err)
				if len(rec.Content) == 0 {
					terminators++
					continue
				}
				assert.LessOrEqual(t, len(rec.Content), maxChunk)
				reassembled = append(reassembled, rec.Content...)
			}

			assert.Equal(t, source, reassembled)
			assert.Equal(t, 1, terminators, "exactly one terminator record")
		})
	}
}

// TestZeroBodyIdempotence checks that an empty logical stream emits
// exactly one empty record, never zero and never more than one.
func TestZeroBodyIdempotence(t *testing.T) {
	var wire bytes.Buffer
	cw := newChunkedWriter(&wire, 1, typeStdin, nil)
	require.NoError(t, cw.Close())

	rec, err := readRecord(&wire)
	require.NoError(t, err)
	assert.Empty(t, rec.Content)
	assert.Equal(t, typeStdin, rec.Type)
	assert.Equal(t, 0, wire.Len(), "exactly one record, nothing more")
}

// TestRequestIDAllocation checks that ids 1..65535 are each used exactly
// once before 1 repeats, and that 0 is never issued.
func TestRequestIDAllocation(t *testing.T) {
	c := newClient(nil, true)

	seen := make(map[uint16]bool, 65535)
	for i := 0; i < 65535; i++ {
		id := c.allocateRequestID()
		assert.NotZero(t, id)
		assert.False(t, seen[id], "id %d issued twice within one cycle", id)
		seen[id] = true
	}
	assert.Len(t, seen, 65535)

	// The cycle now repeats from 1.
	assert.Equal(t, uint16(1), c.allocateRequestID())
	assert.True(t, c.wrapped)
}
