package fastcgi

// Response carries the captured output of one FastCGI request. Stdout and
// Stderr are nil unless at least one non-empty record of that type was
// observed; an all-terminator stream (the common case for Stderr) leaves
// the field nil rather than an empty, non-nil slice.
type Response struct {
	Stdout         []byte
	Stderr         []byte
	AppStatus      uint32
	ProtocolStatus uint8
}
