package fastcgi

import (
	"bytes"
	"sync"
)

// maxPooledBufferSize bounds how large a response accumulation buffer may
// be before it is discarded instead of returned to the pool, so one
// outsized response body doesn't pin that much memory for the life of the
// process.
const maxPooledBufferSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// getBuf returns a reset buffer from the pool, for accumulating one
// stream's worth of STDOUT or STDERR bytes.
func getBuf() *bytes.Buffer {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// releaseBuf returns buf to the pool once its bytes have been copied out
// into the Response the caller owns. It is a no-op for nil.
func releaseBuf(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxPooledBufferSize {
		return
	}
	buf.Reset()
	bufPool.Put(buf)
}

// copyBytes makes an owned copy of buf's contents, or nil if buf is nil.
// The accumulation buffer is about to be reset and returned to bufPool, so
// the Response must not alias its backing array.
func copyBytes(buf *bytes.Buffer) []byte {
	if buf == nil {
		return nil
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
