package fastcgi

import "strconv"

// Params is a chainable builder for the CGI name/value pairs carried in a
// request's PARAMS stream. Setters return the receiver so calls can be
// chained; names are unique by last write, and insertion order is
// preserved so the encoded block is deterministic.
type Params struct {
	order  []string
	values map[string][]byte
}

// NewParams returns a builder seeded with the two defaults CGI/1.1 expects
// every request to carry: GATEWAY_INTERFACE and SERVER_PROTOCOL. Everything
// else is absent until set.
func NewParams() *Params {
	p := &Params{values: make(map[string][]byte, 16)}
	return p.Set("GATEWAY_INTERFACE", "CGI/1.1").Set("SERVER_PROTOCOL", "HTTP/1.1")
}

// Set assigns an arbitrary CGI variable, overwriting any previous value for
// the same name.
func (p *Params) Set(name, value string) *Params {
	return p.SetBytes(name, []byte(value))
}

// SetBytes is the byte-string form of Set, for values that aren't
// necessarily valid UTF-8 or that a caller already has as bytes.
func (p *Params) SetBytes(name string, value []byte) *Params {
	if _, exists := p.values[name]; !exists {
		p.order = append(p.order, name)
	}
	p.values[name] = value
	return p
}

// Well-known setters for the standard CGI parameter set.

func (p *Params) RequestMethod(v string) *Params    { return p.Set("REQUEST_METHOD", v) }
func (p *Params) ScriptName(v string) *Params       { return p.Set("SCRIPT_NAME", v) }
func (p *Params) ScriptFilename(v string) *Params   { return p.Set("SCRIPT_FILENAME", v) }
func (p *Params) RequestURI(v string) *Params       { return p.Set("REQUEST_URI", v) }
func (p *Params) DocumentURI(v string) *Params      { return p.Set("DOCUMENT_URI", v) }
func (p *Params) DocumentRoot(v string) *Params     { return p.Set("DOCUMENT_ROOT", v) }
func (p *Params) RemoteAddr(v string) *Params       { return p.Set("REMOTE_ADDR", v) }
func (p *Params) ServerAddr(v string) *Params       { return p.Set("SERVER_ADDR", v) }
func (p *Params) ServerName(v string) *Params       { return p.Set("SERVER_NAME", v) }
func (p *Params) ContentType(v string) *Params      { return p.Set("CONTENT_TYPE", v) }
func (p *Params) GatewayInterface(v string) *Params { return p.Set("GATEWAY_INTERFACE", v) }
func (p *Params) ServerProtocol(v string) *Params   { return p.Set("SERVER_PROTOCOL", v) }

// Numeric helpers convert to decimal ASCII, matching what a FastCGI
// responder expects these variables to contain.

func (p *Params) RemotePort(v uint16) *Params {
	return p.Set("REMOTE_PORT", strconv.FormatUint(uint64(v), 10))
}

func (p *Params) ServerPort(v uint16) *Params {
	return p.Set("SERVER_PORT", strconv.FormatUint(uint64(v), 10))
}

func (p *Params) ContentLength(v int64) *Params {
	return p.Set("CONTENT_LENGTH", strconv.FormatInt(v, 10))
}

// Len reports how many distinct parameters have been set.
func (p *Params) Len() int { return len(p.order) }

// encode serializes the builder's pairs, in insertion order, into the
// name/value byte block a PARAMS stream carries.
func (p *Params) encode() []byte {
	var buf []byte
	for _, name := range p.order {
		buf = encodeNVPair(buf, []byte(name), p.values[name])
	}
	return buf
}
