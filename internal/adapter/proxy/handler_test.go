package proxy

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nyxhq/ravel/internal/adapter/balancer"
	"github.com/nyxhq/ravel/internal/adapter/frame"
	"github.com/nyxhq/ravel/internal/adapter/limiter"
	"github.com/nyxhq/ravel/internal/adapter/metrics"
	"github.com/nyxhq/ravel/internal/adapter/timeout"
	"github.com/nyxhq/ravel/internal/core/domain"
)

// startEchoUpstream runs a one-shot-per-connection upstream that parses a
// request with the real frame parser, reads its body, and replies 200 with
// the same body.
func startEchoUpstream(t *testing.T) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				p, err := frame.ParsePreamble(br, frame.DefaultLimits())
				if err != nil {
					return
				}
				var body strings.Builder
				if _, err := frame.CopyBody(&body, br, p.BodyKind, p.BodyLength); err != nil {
					return
				}
				resp := "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body.String())) + "\r\n\r\n" + body.String()
				_, _ = io.WriteString(c, resp)
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newTestHandler(t *testing.T, upstreamAddrs ...string) *Handler {
	t.Helper()
	var ups []domain.Upstream
	for _, addr := range upstreamAddrs {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			t.Fatal(err)
		}
		ups = append(ups, domain.Upstream{Host: host, Port: port})
	}
	rr, err := balancer.NewRoundRobin(ups)
	if err != nil {
		t.Fatal(err)
	}
	return &Handler{
		Pool:      rr,
		Limiter:   limiter.NewTwoLevel(100, 100),
		Timeouts:  timeout.NewPolicy(time.Second, time.Second, time.Second, 2*time.Second),
		Metrics:   metrics.New(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Limits:    frame.DefaultLimits(),
		ChunkSize: frame.DefaultChunkSize,
	}
}

func TestHandler_GetHappyPath(t *testing.T) {
	addr, closeUp := startEchoUpstream(t)
	defer closeUp()

	h := newTestHandler(t, addr)
	clientSide, serverSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.HandleConn(context.Background(), serverSide)
		close(done)
	}()

	go func() {
		_, _ = io.WriteString(clientSide, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	}()

	resp, err := io.ReadAll(clientSide)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	<-done

	if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
		t.Fatalf("expected 200 response, got:\n%s", resp)
	}
}

func TestHandler_PostWithBody(t *testing.T) {
	addr, closeUp := startEchoUpstream(t)
	defer closeUp()

	h := newTestHandler(t, addr)
	clientSide, serverSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.HandleConn(context.Background(), serverSide)
		close(done)
	}()

	go func() {
		_, _ = io.WriteString(clientSide, "POST /e HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world")
	}()

	resp, err := io.ReadAll(clientSide)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	<-done

	if !strings.Contains(string(resp), "hello world") {
		t.Fatalf("expected echoed body, got:\n%s", resp)
	}
}

func TestHandler_MalformedRequest(t *testing.T) {
	addr, closeUp := startEchoUpstream(t)
	defer closeUp()

	h := newTestHandler(t, addr)
	clientSide, serverSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.HandleConn(context.Background(), serverSide)
		close(done)
	}()

	go func() {
		_, _ = io.WriteString(clientSide, "NOT A REQUEST\r\n\r\n")
	}()

	resp, err := io.ReadAll(clientSide)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	<-done

	if !strings.HasPrefix(string(resp), "HTTP/1.1 400") {
		t.Fatalf("expected 400 response, got:\n%s", resp)
	}
}

func TestHandler_ConnectRefused(t *testing.T) {
	// Bind then immediately close to obtain a port nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	h := newTestHandler(t, addr)
	clientSide, serverSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.HandleConn(context.Background(), serverSide)
		close(done)
	}()

	go func() {
		_, _ = io.WriteString(clientSide, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	}()

	resp, err := io.ReadAll(clientSide)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	<-done

	if !strings.HasPrefix(string(resp), "HTTP/1.1 502") {
		t.Fatalf("expected 502 response, got:\n%s", resp)
	}
	if !strings.Contains(string(resp), "Upstream unavailable:") {
		t.Fatalf("expected cause-describing body, got:\n%s", resp)
	}
}

func TestHandler_RoundRobinAcrossTwoUpstreams(t *testing.T) {
	addrA, closeA := startEchoUpstream(t)
	defer closeA()
	addrB, closeB := startEchoUpstream(t)
	defer closeB()

	h := newTestHandler(t, addrA, addrB)

	for i := 0; i < 2; i++ {
		clientSide, serverSide := net.Pipe()
		done := make(chan struct{})
		go func() {
			h.HandleConn(context.Background(), serverSide)
			close(done)
		}()
		go func() {
			_, _ = io.WriteString(clientSide, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		}()
		resp, _ := io.ReadAll(clientSide)
		<-done
		if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
			t.Fatalf("request %d: expected 200, got:\n%s", i, resp)
		}
	}
}
