// Package proxy implements C6: the per-client orchestration core that
// strings C1 (frame), C2 (timeout), C3 (balancer), C4 (limiter), and C5
// (metrics) together for one accepted connection. Grounded in the
// teacher's sherpa proxy service as a single-pass request/response pipeline,
// replacing its net/http-based request object with manual frame parsing and
// its endpoint/health-aware upstream selection with the spec's fixed,
// unconditional round-robin pool.
package proxy

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nyxhq/ravel/internal/adapter/frame"
	"github.com/nyxhq/ravel/internal/core/domain"
	"github.com/nyxhq/ravel/internal/core/ports"
)

// Handler is the C6 orchestrator. One Handler instance is shared by every
// accepted connection; all per-connection state lives on the stack of
// HandleConn.
type Handler struct {
	Pool     ports.UpstreamPool
	Limiter  ports.ConnLimiter
	Timeouts ports.TimeoutPolicy
	Metrics  ports.MetricsSink
	Logger   *slog.Logger

	Limits    frame.Limits
	ChunkSize int
	Dialer    net.Dialer
}

// HandleConn drives one client connection through Accepted → ... → Closed.
// It never panics out to the caller and never blocks the accept loop beyond
// this single connection's lifetime.
func (h *Handler) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("handler panic recovered", "panic", r)
		}
	}()

	traceID := newTraceID()
	log := h.Logger.With("trace_id", traceID)
	h.Metrics.IncRequests()
	start := time.Now()

	clientPermit, err := h.Limiter.AcquireClient(ctx)
	if err != nil {
		log.Warn("client permit acquisition aborted", "err", err)
		return
	}
	defer clientPermit.Release()

	br := bufio.NewReader(conn)
	preamble, err := frame.ParsePreamble(br, h.Limits)
	if err != nil {
		h.Metrics.IncParseErrors()
		log.Warn("malformed request", "err", err)
		h.respondError(conn, 400, "Bad Request", "Malformed request")
		h.Metrics.IncResponse("4xx")
		return
	}

	upstream, err := h.Pool.GetNext()
	if err != nil {
		log.Error("no upstream available", "err", err)
		h.respondError(conn, 502, "Bad Gateway", "No upstream available")
		h.Metrics.IncResponse("5xx")
		return
	}
	h.Metrics.IncUpstreamRequest(upstream.Identity())

	upstreamPermit, err := h.Limiter.AcquireUpstream(ctx, upstream)
	if err != nil {
		log.Warn("upstream permit acquisition aborted", "upstream", upstream, "err", err)
		return
	}
	defer upstreamPermit.Release()

	upstreamConn, statusClass, _, _ := h.connectAndExchange(ctx, log, conn, br, preamble, upstream, traceID)
	if upstreamConn != nil {
		upstreamConn.Close()
	}

	h.Metrics.ObserveRequestDuration(time.Since(start))
	if statusClass != "" {
		h.Metrics.IncResponse(statusClass)
	}
}

// connectAndExchange covers Connecting through Draining. It returns the
// upstream connection (for the caller to close), the final response status
// class (best-effort, empty if none was observed), how many response bytes
// were relayed to the client, and any terminal error.
func (h *Handler) connectAndExchange(
	ctx context.Context,
	log *slog.Logger,
	client net.Conn,
	clientReader *bufio.Reader,
	preamble *domain.Preamble,
	upstream domain.Upstream,
	traceID string,
) (net.Conn, string, int64, error) {
	var upstreamConn net.Conn
	connectErr := h.Timeouts.WithConnect(ctx, func(ctx context.Context) error {
		c, err := h.Dialer.DialContext(ctx, "tcp", upstream.Identity())
		if err != nil {
			return err
		}
		upstreamConn = c
		return nil
	})

	if connectErr != nil {
		class := h.handleConnectFailure(log, client, upstream, connectErr)
		return nil, class, 0, connectErr
	}

	var respondedBytes int64
	var statusClass string

	totalErr := h.Timeouts.WithTotal(ctx, func(ctx context.Context) error {
		if err := h.Timeouts.WithWrite(ctx, func(ctx context.Context) error {
			setDeadline(upstreamConn, ctx)
			if err := frame.WritePreamble(upstreamConn, preamble, traceID); err != nil {
				return err
			}
			_, err := frame.CopyBody(upstreamConn, clientReader, preamble.BodyKind, preamble.BodyLength)
			return err
		}); err != nil {
			return err
		}
		if tc, ok := upstreamConn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}

		n, sc, err := h.pumpResponse(ctx, upstreamConn, client)
		respondedBytes = n
		statusClass = sc
		return err
	})

	if totalErr != nil {
		if class := h.handleMidstreamFailure(log, client, upstream, totalErr, respondedBytes); class != "" {
			statusClass = class
		}
		return upstreamConn, statusClass, respondedBytes, totalErr
	}
	return upstreamConn, statusClass, respondedBytes, nil
}

// pumpResponse relays bytes from upstream to client in fixed-size chunks,
// each individually bounded by the read timeout, until EOF. It returns the
// number of bytes relayed and a best-effort status class parsed from the
// first chunk's status line.
func (h *Handler) pumpResponse(ctx context.Context, upstreamConn, client net.Conn) (int64, string, error) {
	buf := make([]byte, h.ChunkSize)
	var total int64
	var statusClass string
	first := true

	for {
		var n int
		readErr := h.Timeouts.WithRead(ctx, func(ctx context.Context) error {
			setDeadline(upstreamConn, ctx)
			var err error
			n, err = upstreamConn.Read(buf)
			return err
		})

		if n > 0 {
			if first {
				statusClass = parseStatusClass(buf[:n])
				first = false
			}
			if _, werr := client.Write(buf[:n]); werr != nil {
				return total, statusClass, domain.NewError(domain.KindPeerClosed, "write_client", "", werr)
			}
			total += int64(n)
			h.Metrics.AddBytesSent(int64(n))
		}

		if readErr != nil {
			if readErr == io.EOF {
				return total, statusClass, nil
			}
			return total, statusClass, readErr
		}
	}
}

func (h *Handler) handleConnectFailure(log *slog.Logger, client net.Conn, upstream domain.Upstream, err error) string {
	if domain.IsKind(err, domain.KindConnectTimeout) {
		log.Warn("connect timeout", "upstream", upstream, "err", err)
		h.Metrics.IncTimeoutError("connect")
		h.Metrics.IncUpstreamError(upstream.Identity(), "timeout")
		h.respondError(client, 504, "Gateway Timeout", "Upstream connect timed out")
		return "5xx"
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		log.Warn("connect refused", "upstream", upstream, "err", err)
		h.Metrics.IncUpstreamError(upstream.Identity(), "connection_refused")
		h.respondError(client, 502, "Bad Gateway", fmt.Sprintf("Upstream unavailable: %v", err))
		return "5xx"
	}

	log.Warn("connect failed", "upstream", upstream, "err", err)
	h.Metrics.IncUpstreamError(upstream.Identity(), "other")
	h.respondError(client, 502, "Bad Gateway", fmt.Sprintf("Upstream unavailable: %v", err))
	return "5xx"
}

// handleMidstreamFailure implements the read/write/total timeout and
// disconnect branches of the failure table. Once any response byte has been
// relayed, a synthetic status line can no longer be sent; the connection is
// simply torn down.
// handleMidstreamFailure returns the status class of any synthetic response
// it wrote, or "" if the connection was simply torn down mid-stream.
func (h *Handler) handleMidstreamFailure(log *slog.Logger, client net.Conn, upstream domain.Upstream, err error, respondedBytes int64) string {
	switch {
	case domain.IsKind(err, domain.KindReadTimeout):
		h.Metrics.IncTimeoutError("read")
		h.Metrics.IncUpstreamError(upstream.Identity(), "timeout")
		if respondedBytes == 0 {
			log.Warn("read timeout before any bytes relayed", "upstream", upstream)
			h.respondError(client, 504, "Gateway Timeout", "Upstream read timed out")
			return "5xx"
		}
		log.Warn("read timeout mid-stream, terminating", "upstream", upstream)
	case domain.IsKind(err, domain.KindWriteTimeout):
		h.Metrics.IncTimeoutError("write")
		h.Metrics.IncUpstreamError(upstream.Identity(), "timeout")
		if respondedBytes == 0 {
			log.Warn("write timeout", "upstream", upstream)
			h.respondError(client, 504, "Gateway Timeout", "Upstream write timed out")
			return "5xx"
		}
		log.Warn("write timeout mid-stream, terminating", "upstream", upstream)
	case domain.IsKind(err, domain.KindTotalTimeout):
		h.Metrics.IncTimeoutError("total")
		h.Metrics.IncUpstreamError(upstream.Identity(), "timeout")
		if respondedBytes == 0 {
			log.Warn("total deadline exceeded before any bytes relayed", "upstream", upstream)
			h.respondError(client, 504, "Gateway Timeout", "Request exceeded total deadline")
			return "5xx"
		}
		log.Warn("total deadline exceeded mid-stream, terminating", "upstream", upstream)
	default:
		log.Warn("client disconnected mid-exchange", "upstream", upstream, "err", err)
	}
	return ""
}

func (h *Handler) respondError(w io.Writer, status int, statusText, body string) {
	_ = frame.WriteErrorResponse(w, status, statusText, body)
}

// setDeadline ties a timeout wrapper's context deadline to the underlying
// socket so a blocking Read/Write actually unblocks when the wrapper's
// deadline fires, the same SetDeadline-from-context idiom the pack's http11
// connection example uses for its keep-alive timeout.
func setDeadline(conn net.Conn, ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
}

func newTraceID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// parseStatusClass extracts "2xx".."5xx" from a response chunk's leading
// status line, best-effort; an unparseable or absent status line yields "".
func parseStatusClass(chunk []byte) string {
	nl := strings.IndexByte(string(chunk), '\n')
	if nl < 0 {
		nl = len(chunk)
	}
	line := string(chunk[:nl])
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 {
		return ""
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 599 {
		return ""
	}
	return fmt.Sprintf("%dxx", code/100)
}
