package fastcgi

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainRequest is the byte-oracle's half: it reads one full request
// (BEGIN_REQUEST, the PARAMS stream, the STDIN stream) off conn and hands
// back the request id it was issued on plus the reassembled STDIN payload.
func drainRequest(t *testing.T, conn net.Conn) (requestID uint16, stdin []byte) {
	t.Helper()
	stdinDone := false
	for !stdinDone {
		rec, err := readRecord(conn)
		require.NoError(t, err)
		requestID = rec.RequestID
		if rec.Type == typeStdin {
			if len(rec.Content) == 0 {
				stdinDone = true
			} else {
				stdin = append(stdin, rec.Content...)
			}
		}
	}
	return requestID, stdin
}

func sendRecord(t *testing.T, conn net.Conn, recType uint8, requestID uint16, content []byte) {
	t.Helper()
	require.NoError(t, writeRecord(conn, recType, requestID, content))
}

func sendEndRequest(t *testing.T, conn net.Conn, requestID uint16, appStatus uint32, protocolStatus uint8) {
	t.Helper()
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], appStatus)
	b[4] = protocolStatus
	sendRecord(t, conn, typeEndRequest, requestID, b[:])
}

// Plain GET with a small body-less request; stdout captured, no stderr.
func TestExecute_StdoutOnly(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		id, _ := drainRequest(t, serverConn)
		sendRecord(t, serverConn, typeStdout, id, []byte("Content-type: text/html\r\n\r\nhello"))
		sendEndRequest(t, serverConn, id, 0, StatusRequestComplete)
	}()

	c := NewClient(clientConn)
	params := NewParams().RequestMethod("GET").ScriptName("/i.php")
	resp, err := c.Execute(context.Background(), NewRequest(params, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("Content-type: text/html\r\n\r\nhello"), resp.Stdout)
	assert.Nil(t, resp.Stderr)
	assert.Equal(t, uint32(0), resp.AppStatus)
	assert.Equal(t, StatusRequestComplete, resp.ProtocolStatus)
	<-done
}

// A body larger than one chunk is sent as several STDIN records plus a
// terminator; the oracle checks that the STDIN payloads reassemble to
// exactly the original body.
func TestExecute_LargeBodyChunked(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	body := bytes.Repeat([]byte{0x41}, 100000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		id, stdin := drainRequest(t, serverConn)
		assert.Equal(t, body, stdin)
		sendRecord(t, serverConn, typeStdout, id, []byte("ok"))
		sendEndRequest(t, serverConn, id, 0, StatusRequestComplete)
	}()

	c := NewClient(clientConn)
	resp, err := c.Execute(context.Background(), NewRequest(NewParams(), bytes.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Stdout)
	<-done
}

// Both stdout and stderr present, plus a non-zero app status.
func TestExecute_StdoutAndStderr(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		id, _ := drainRequest(t, serverConn)
		sendRecord(t, serverConn, typeStderr, id, []byte("warn"))
		sendRecord(t, serverConn, typeStdout, id, []byte("out"))
		sendEndRequest(t, serverConn, id, 5, StatusRequestComplete)
	}()

	c := NewClient(clientConn)
	resp, err := c.Execute(context.Background(), NewRequest(NewParams(), nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("out"), resp.Stdout)
	assert.Equal(t, []byte("warn"), resp.Stderr)
	assert.Equal(t, uint32(5), resp.AppStatus)
	<-done
}

// A protocol-level failure surfaces as EndRequestError, not a Response.
func TestExecute_Overloaded(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		id, _ := drainRequest(t, serverConn)
		sendEndRequest(t, serverConn, id, 0, StatusOverloaded)
	}()

	c := NewClient(clientConn)
	resp, err := c.Execute(context.Background(), NewRequest(NewParams(), nil))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrOverloaded)
	var endErr *EndRequestError
	require.ErrorAs(t, err, &endErr)
	assert.Equal(t, StatusOverloaded, endErr.ProtocolStatus)
	<-done
}

// The server vanishes after writing only a partial header; the client
// must surface ShortReadError, not hang or panic.
func TestExecute_ShortRead(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = drainRequest(t, serverConn)
		// Write a truncated header (3 of 8 bytes) and then vanish.
		_, _ = serverConn.Write([]byte{1, typeStdout, 0})
		serverConn.Close()
	}()

	c := NewClient(clientConn)
	resp, err := c.Execute(context.Background(), NewRequest(NewParams(), nil))
	require.Error(t, err)
	assert.Nil(t, resp)
	var short *ShortReadError
	assert.ErrorAs(t, err, &short)
	<-done
}

// A keep-alive Client reuses its connection across two sequential
// requests, and the second is issued on request id 2.
func TestExecute_KeepAliveSequentialRequests(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		for i := 0; i < 2; i++ {
			id, _ := drainRequest(t, serverConn)
			sendRecord(t, serverConn, typeStdout, id, []byte("ok"))
			sendEndRequest(t, serverConn, id, 0, StatusRequestComplete)
		}
	}()

	c := NewKeepAliveClient(clientConn)

	resp1, err := c.Execute(context.Background(), NewRequest(NewParams(), nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp1.Stdout)

	resp2, err := c.Execute(context.Background(), NewRequest(NewParams(), nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp2.Stdout)
	assert.Equal(t, uint16(2), c.nextRequestID-1)

	<-serverDone
}

func TestExecute_RejectsConcurrentCalls(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	release := make(chan struct{})
	go func() {
		id, _ := drainRequest(t, serverConn)
		<-release
		sendRecord(t, serverConn, typeStdout, id, []byte("ok"))
		sendEndRequest(t, serverConn, id, 0, StatusRequestComplete)
	}()

	c := NewKeepAliveClient(clientConn)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, err := c.Execute(context.Background(), NewRequest(NewParams(), nil))
		assert.NoError(t, err)
	}()

	// Give the first call a chance to acquire the guard before the second
	// tries; this is inherently timing-sensitive, so be generous.
	time.Sleep(20 * time.Millisecond)

	_, err := c.Execute(context.Background(), NewRequest(NewParams(), nil))
	assert.ErrorIs(t, err, ErrRequestInFlight)

	close(release)
	<-firstDone
}

func TestExecuteOnce_ClosesStream(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		id, _ := drainRequest(t, serverConn)
		sendRecord(t, serverConn, typeStdout, id, []byte("ok"))
		sendEndRequest(t, serverConn, id, 0, StatusRequestComplete)
	}()

	c := NewClient(clientConn)
	resp, err := c.ExecuteOnce(context.Background(), NewRequest(NewParams(), nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Stdout)
	<-done

	// The stream was closed by ExecuteOnce; further use must fail.
	_, writeErr := clientConn.Write([]byte("x"))
	assert.Error(t, writeErr)
}

func TestExecute_CancelledContext(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// The oracle reads the request but never replies, so the only way
	// Execute returns is via context cancellation.
	go func() {
		_, _ = drainRequest(t, serverConn)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(clientConn)
	resp, err := c.Execute(ctx, NewRequest(NewParams(), nil))
	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestNewRequest_NilBodyIsEmptyStream(t *testing.T) {
	r := NewRequest(NewParams(), nil)
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Empty(t, b)
}
