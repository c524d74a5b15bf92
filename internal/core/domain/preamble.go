package domain

import "strings"

// BodyKind classifies how the request body (if any) must be read off the
// client socket.
type BodyKind int

const (
	// BodyNone means no body is expected; the handler must not attempt a read.
	BodyNone BodyKind = iota
	// BodyLength means exactly N bytes follow, from Content-Length.
	BodyLength
	// BodyUntilClose means opaque bytes follow until the client closes the
	// connection (Transfer-Encoding present; treated as pass-through only).
	BodyUntilClose
)

// Header is one (name, value) pair in original wire order and casing.
type Header struct {
	Name  string
	Value string
}

// Preamble is the immutable result of parsing a request line plus headers up
// to the first CRLFCRLF.
type Preamble struct {
	Method  string
	Path    string
	Version string

	Headers []Header
	index   map[string][]string

	BodyKind   BodyKind
	BodyLength int64
}

// NewPreamble builds a Preamble and its case-insensitive header index.
func NewPreamble(method, path, version string, headers []Header) *Preamble {
	p := &Preamble{
		Method:  method,
		Path:    path,
		Version: version,
		Headers: headers,
	}
	p.buildIndex()
	return p
}

func (p *Preamble) buildIndex() {
	p.index = make(map[string][]string, len(p.Headers))
	for _, h := range p.Headers {
		key := strings.ToLower(h.Name)
		p.index[key] = append(p.index[key], h.Value)
	}
}

// Get returns the first value for a case-insensitive header name, and
// whether it was present at all.
func (p *Preamble) Get(name string) (string, bool) {
	vals, ok := p.index[strings.ToLower(name)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Has reports whether a header was present, case-insensitively.
func (p *Preamble) Has(name string) bool {
	_, ok := p.index[strings.ToLower(name)]
	return ok
}

// KeepsClientOpen reports whether, per the descriptor, the client may hold
// the connection open without sending a body (no Content-Length, no
// Transfer-Encoding) — reading in that case would hang.
func (p *Preamble) KeepsClientOpen() bool {
	return p.BodyKind == BodyNone
}
