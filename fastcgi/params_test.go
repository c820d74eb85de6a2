package fastcgi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParams_Defaults(t *testing.T) {
	p := NewParams()
	pairs, err := decodeNVPairs(p.encode())
	require.NoError(t, err)

	got := map[string]string{}
	for _, pair := range pairs {
		got[string(pair.Name)] = string(pair.Value)
	}
	assert.Equal(t, "CGI/1.1", got["GATEWAY_INTERFACE"])
	assert.Equal(t, "HTTP/1.1", got["SERVER_PROTOCOL"])
	assert.Equal(t, 2, p.Len())
}

func TestParams_ChainedSettersOverwriteByLastWrite(t *testing.T) {
	p := NewParams().
		RequestMethod("GET").
		ScriptName("/first.php").
		ScriptName("/second.php"). // overwrite
		RemotePort(12345).
		ServerPort(80).
		ContentLength(42)

	pairs, err := decodeNVPairs(p.encode())
	require.NoError(t, err)

	got := map[string]string{}
	for _, pair := range pairs {
		got[string(pair.Name)] = string(pair.Value)
	}
	assert.Equal(t, "GET", got["REQUEST_METHOD"])
	assert.Equal(t, "/second.php", got["SCRIPT_NAME"])
	assert.Equal(t, "12345", got["REMOTE_PORT"])
	assert.Equal(t, "80", got["SERVER_PORT"])
	assert.Equal(t, "42", got["CONTENT_LENGTH"])

	// Overwriting SCRIPT_NAME must not create a duplicate entry.
	assert.Equal(t, p.Len(), len(got))
}

func TestParams_SetBytes(t *testing.T) {
	p := NewParams().SetBytes("X-CUSTOM", []byte{0xff, 0x00, 0x41})
	pairs, err := decodeNVPairs(p.encode())
	require.NoError(t, err)

	var found bool
	for _, pair := range pairs {
		if string(pair.Name) == "X-CUSTOM" {
			found = true
			assert.Equal(t, []byte{0xff, 0x00, 0x41}, pair.Value)
		}
	}
	assert.True(t, found)
}

func TestParams_EncodeOrderIsDeterministic(t *testing.T) {
	p := NewParams().RequestMethod("GET").ScriptName("/a.php").DocumentURI("/a.php")
	first := p.encode()
	second := p.encode()
	assert.Equal(t, first, second)
}
