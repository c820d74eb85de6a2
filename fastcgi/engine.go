package fastcgi

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// execute sends BEGIN_REQUEST, the PARAMS stream, and the STDIN stream
// while concurrently draining STDOUT/STDERR/END_REQUEST, so a server that
// starts writing its response before the client finishes STDIN never
// deadlocks against this client's own write buffer.
//
// The two halves are run with errgroup.WithContext: golang.org/x/sync's
// idiomatic expression of "two cooperating goroutines, first error wins,
// and the survivor is cancelled." Neither half touches the other's
// accumulators; the send half owns only the write direction and the
// receive half only the read direction, so no additional locking is
// needed.
func (c *Client) execute(ctx context.Context, requestID uint16, req *Request) (*Response, error) {
	g, gctx := errgroup.WithContext(ctx)

	var stdoutBuf, stderrBuf *bytes.Buffer
	var appStatus uint32
	var protocolStatus uint8

	g.Go(func() error {
		return c.sendRequest(gctx, requestID, req)
	})
	g.Go(func() error {
		var err error
		stdoutBuf, stderrBuf, appStatus, protocolStatus, err = c.receiveResponse(gctx, requestID)
		return err
	})

	if err := g.Wait(); err != nil {
		// Never return a partial Response: either half failing discards
		// whatever the other half had already accumulated.
		releaseBuf(stdoutBuf)
		releaseBuf(stderrBuf)
		return nil, err
	}

	stdout := copyBytes(stdoutBuf)
	stderr := copyBytes(stderrBuf)
	releaseBuf(stdoutBuf)
	releaseBuf(stderrBuf)
	c.logStderr(stderr, appStatus)

	if protocolStatus != StatusRequestComplete {
		return nil, &EndRequestError{ProtocolStatus: protocolStatus, AppStatus: appStatus}
	}

	return &Response{
		Stdout:         stdout,
		Stderr:         stderr,
		AppStatus:      appStatus,
		ProtocolStatus: protocolStatus,
	}, nil
}

// sendRequest is the send half: BEGIN_REQUEST, then the full PARAMS stream
// (including its terminator), then the full STDIN stream (including its
// terminator). Records are emitted strictly in that order: BEGIN_REQUEST,
// then PARAMS, then STDIN.
func (c *Client) sendRequest(ctx context.Context, requestID uint16, req *Request) error {
	stop := watchContext(ctx, c.stream)
	defer stop()

	if err := c.writeBeginRequest(requestID); err != nil {
		return err
	}

	paramsBlock := req.Params.encode()
	params := newChunkedWriter(c.stream, requestID, typeParams, c.chunkBuf)
	if len(paramsBlock) > 0 {
		if _, err := params.Write(paramsBlock); err != nil {
			return err
		}
	}
	if err := params.Close(); err != nil {
		return err
	}

	stdin := newChunkedWriter(c.stream, requestID, typeStdin, c.chunkBuf)
	if _, err := io.Copy(stdin, req.Body); err != nil {
		return &IOError{Op: "read request body", Err: err}
	}
	return stdin.Close()
}

func (c *Client) writeBeginRequest(requestID uint16) error {
	var flags uint8
	if c.keepAlive {
		flags = flagKeepConn
	}
	content := [8]byte{byte(RoleResponder >> 8), byte(RoleResponder), flags, 0, 0, 0, 0, 0}
	return writeRecord(c.stream, typeBeginRequest, requestID, content[:])
}

// receiveResponse is the receive half: it reads records until it observes
// END_REQUEST for requestID, routing STDOUT/STDERR payloads into their own
// accumulators and discarding everything else (management records, and any
// record carrying a foreign request id, which this client never issues but
// tolerates defensively).
func (c *Client) receiveResponse(ctx context.Context, requestID uint16) (stdout, stderr *bytes.Buffer, appStatus uint32, protocolStatus uint8, err error) {
	stop := watchContext(ctx, c.stream)
	defer stop()

	for {
		rec, rerr := readRecord(c.stream)
		if rerr != nil {
			return stdout, stderr, 0, 0, rerr
		}

		if rec.RequestID != requestID {
			continue
		}

		switch rec.Type {
		case typeStdout:
			if len(rec.Content) == 0 {
				continue // empty stream terminator: stream closed, nothing to append
			}
			if stdout == nil {
				stdout = getBuf()
			}
			stdout.Write(rec.Content)

		case typeStderr:
			if len(rec.Content) == 0 {
				continue
			}
			if stderr == nil {
				stderr = getBuf()
			}
			stderr.Write(rec.Content)

		case typeEndRequest:
			if len(rec.Content) < 8 {
				return stdout, stderr, 0, 0, &MalformedRecordError{Reason: "END_REQUEST payload shorter than 8 bytes"}
			}
			appStatus = binary.BigEndian.Uint32(rec.Content[0:4])
			protocolStatus = rec.Content[4]
			return stdout, stderr, appStatus, protocolStatus, nil

		default:
			// GET_VALUES_RESULT, UNKNOWN_TYPE, or anything else: not
			// meaningful to a Responder-role client issuing one request.
		}
	}
}

func (c *Client) logStderr(stderr []byte, appStatus uint32) {
	if len(stderr) == 0 {
		return
	}
	level := zapcore.WarnLevel
	if appStatus != 0 {
		level = zapcore.ErrorLevel
	}
	if ce := c.logger.Check(level, "fastcgi: stderr output"); ce != nil {
		ce.Write(zap.ByteString("body", stderr), zap.Uint32("app_status", appStatus))
	}
}
