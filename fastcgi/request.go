package fastcgi

import (
	"bytes"
	"io"
)

// Request pairs a set of CGI parameters with a readable body source. The
// body is streamed until EOF and then terminated with an empty STDIN
// record; it is borrowed by the Client only for the duration of Execute.
type Request struct {
	Params *Params
	Body   io.Reader
}

// NewRequest builds a Request. A nil body is treated as an empty one; each
// call gets its own empty reader so that concurrent requests sharing no
// Body never race over one.
func NewRequest(params *Params, body io.Reader) *Request {
	if body == nil {
		body = bytes.NewReader(nil)
	}
	return &Request{Params: params, Body: body}
}
