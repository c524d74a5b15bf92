package frame

import (
	"fmt"
	"io"
	"strings"

	"github.com/nyxhq/ravel/internal/core/domain"
)

// WritePreamble re-emits p to w for the upstream leg: request line
// unchanged, headers in original order, Connection replaced with "close",
// and X-Trace-ID added, terminated by CRLFCRLF.
func WritePreamble(w io.Writer, p *domain.Preamble, traceID string) error {
	var b strings.Builder
	b.Grow(256)

	fmt.Fprintf(&b, "%s %s %s\r\n", p.Method, p.Path, p.Version)

	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, "Connection") {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(&b, "Connection: close\r\n")
	fmt.Fprintf(&b, "X-Trace-ID: %s\r\n", traceID)
	b.WriteString("\r\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteErrorResponse writes a minimal synthetic HTTP/1.1 response with a
// plain-text one-line body, used for the 400/502/504 paths in the handler's
// failure table.
func WriteErrorResponse(w io.Writer, statusCode int, statusText, body string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", statusCode, statusText)
	b.WriteString("Content-Type: text/plain\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	_, err := io.WriteString(w, b.String())
	return err
}
