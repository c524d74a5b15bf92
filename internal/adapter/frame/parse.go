// Package frame implements C1: manual HTTP/1.1 preamble parsing and emission
// off a *bufio.Reader, and length-disciplined body streaming. No net/http
// request parsing is used on the client-facing leg — this is a byte-level
// reimplementation grounded in the pack's http11 connection example
// (bufio.Reader-driven parse loop, pooled buffers) generalized from a
// keep-alive server loop into a single-shot, read-once-then-forward parse.
package frame

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/nyxhq/ravel/internal/core/domain"
)

// ParsePreamble reads a request line and headers off br, stopping at the
// first CRLFCRLF. It enforces lim and returns a domain.KindMalformedRequest
// *domain.Error on any violation.
func ParsePreamble(br *bufio.Reader, lim Limits) (*domain.Preamble, error) {
	var consumed int64

	requestLine, n, err := readLine(br, lim.MaxHeaderLine)
	consumed += int64(n)
	if err != nil || consumed > lim.MaxPreambleBytes {
		return nil, malformed("read_request_line", err)
	}

	method, path, version, err := splitRequestLine(requestLine)
	if err != nil {
		return nil, malformed("parse_request_line", err)
	}
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		return nil, malformed("parse_request_line", fmt.Errorf("unsupported version %q", version))
	}

	var headers []domain.Header
	for {
		line, n, err := readLine(br, lim.MaxHeaderLine)
		consumed += int64(n)
		if err != nil {
			return nil, malformed("read_header_line", err)
		}
		if consumed > lim.MaxPreambleBytes {
			return nil, malformed("read_header_line", fmt.Errorf("preamble exceeds %d bytes", lim.MaxPreambleBytes))
		}
		if line == "" {
			break // CRLFCRLF reached
		}
		if len(headers) >= lim.MaxHeaderCount {
			return nil, malformed("parse_headers", fmt.Errorf("header count exceeds %d", lim.MaxHeaderCount))
		}

		name, value, err := splitHeaderLine(line)
		if err != nil {
			return nil, malformed("parse_headers", err)
		}
		headers = append(headers, domain.Header{Name: name, Value: value})
	}

	p := domain.NewPreamble(method, path, version, headers)
	if err := classifyBody(p); err != nil {
		return nil, err
	}
	return p, nil
}

func malformed(op string, cause error) error {
	return domain.NewError(domain.KindMalformedRequest, op, "", cause)
}

// readLine reads one CRLF-terminated line, excluding the CRLF, enforcing
// maxLine as a hard cap to avoid buffering an unbounded line while scanning
// for the terminator.
func readLine(br *bufio.Reader, maxLine int) (string, int, error) {
	var b strings.Builder
	n := 0
	for {
		chunk, err := br.ReadSlice('\n')
		n += len(chunk)
		b.Write(chunk)
		if b.Len() > maxLine {
			return "", n, fmt.Errorf("line exceeds %d bytes", maxLine)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return "", n, err
		}
		break
	}
	line := strings.TrimRight(b.String(), "\r\n")
	return line, n, nil
}

func splitRequestLine(line string) (method, path, version string, err error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("request line must have 3 tokens, got %d", len(parts))
	}
	if parts[0] == "" {
		return "", "", "", fmt.Errorf("empty method")
	}
	return parts[0], parts[1], parts[2], nil
}

func splitHeaderLine(line string) (name, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", fmt.Errorf("malformed header line %q", line)
	}
	name = line[:idx]
	for _, c := range name {
		if c <= ' ' || c == ':' {
			return "", "", fmt.Errorf("invalid header name %q", name)
		}
	}
	value = strings.Trim(line[idx+1:], " \t")
	return name, value, nil
}

// classifyBody fills in p.BodyKind/p.BodyLength per the spec's precedence:
// Transfer-Encoding wins over Content-Length and is treated as opaque
// pass-through (Until-Close); a present, well-formed Content-Length sets an
// exact Length descriptor; otherwise the body is None.
func classifyBody(p *domain.Preamble) error {
	if _, ok := p.Get("Transfer-Encoding"); ok {
		p.BodyKind = domain.BodyUntilClose
		return nil
	}

	cl, ok := p.Get("Content-Length")
	if !ok {
		p.BodyKind = domain.BodyNone
		return nil
	}

	n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
	if err != nil || n < 0 {
		return malformed("parse_content_length", fmt.Errorf("invalid Content-Length %q", cl))
	}
	if n == 0 {
		p.BodyKind = domain.BodyNone
		return nil
	}
	p.BodyKind = domain.BodyLength
	p.BodyLength = n
	return nil
}
