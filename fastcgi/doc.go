// Package fastcgi implements a FastCGI client: it speaks the wire protocol
// used by PHP-FPM and similar application servers over a caller-supplied
// byte stream, and returns the captured stdout/stderr bodies together with
// the end-of-request status.
//
// The package does not open connections, resolve DNS, or terminate TLS;
// callers hand it an already-connected net.Conn (or anything else
// satisfying Stream) and own its lifetime.
package fastcgi
