// Package integration exercises internal/app's full wiring — listener,
// accept loop, handler, metrics endpoint — end to end over real TCP
// sockets, covering the scenarios spec.md §8 describes literally (S1–S6).
// Unit-level coverage of each component lives beside its package; this
// package is concerned with the seams between them.
package integration

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nyxhq/ravel/internal/adapter/frame"
	"github.com/nyxhq/ravel/internal/app"
	"github.com/nyxhq/ravel/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoUpstream replies 200 with the request body, optionally after a delay,
// recording each accepted connection's arrival time.
func echoUpstream(t *testing.T, delay time.Duration) (addr string, arrivals *arrivalLog, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	log := &arrivalLog{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			log.record(time.Now())
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
				if delay > 0 {
					time.Sleep(delay)
				}
				resp := "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body.String())) + "\r\n\r\n" + body.String()
				_, _ = io.WriteString(c, resp)
			}(conn)
		}
	}()
	return ln.Addr().String(), log, func() { ln.Close() }
}

type arrivalLog struct {
	mu   sync.Mutex
	ats  []time.Time
	reqd []string
}

func (a *arrivalLog) record(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ats = append(a.ats, t)
}

func (a *arrivalLog) times() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]time.Time, len(a.ats))
	copy(out, a.ats)
	return out
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

func upstreamFromAddr(t *testing.T, addr string) config.UpstreamConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	return config.UpstreamConfig{Host: host, Port: port}
}

func baseConfig(t *testing.T, upstreams ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Listen = freeAddr(t)
	cfg.MetricsListen = freeAddr(t)
	cfg.Upstreams = nil
	for _, u := range upstreams {
		cfg.Upstreams = append(cfg.Upstreams, upstreamFromAddr(t, u))
	}
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()
	a, err := app.New(cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a
}

func dialWithRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 100; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("could not dial %s: %v", addr, err)
	return nil
}

func fetchMetrics(t *testing.T, metricsAddr string) string {
	t.Helper()
	var resp *http.Response
	var err error
	for i := 0; i < 100; i++ {
		resp, err = http.Get("http://" + metricsAddr + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("could not fetch metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

// TestS1_GetHappyPath covers spec.md S1.
func TestS1_GetHappyPath(t *testing.T) {
	upAddr, _, closeUp := echoUpstream(t, 0)
	defer closeUp()

	cfg := baseConfig(t, upAddr)
	a := startApp(t, cfg)

	conn := dialWithRetry(t, cfg.Listen)
	defer conn.Close()
	_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, _ := io.ReadAll(conn)
	if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
		t.Fatalf("expected 200, got:\n%s", resp)
	}

	metrics := fetchMetrics(t, cfg.MetricsListen)
	if !strings.Contains(metrics, `proxy_responses_total{status_class="2xx"} 1`) {
		t.Errorf("expected 2xx response counter, got:\n%s", metrics)
	}
	if !strings.Contains(metrics, `proxy_upstream_requests_total{upstream="`+upAddr+`"} 1`) {
		t.Errorf("expected upstream request counter for %s, got:\n%s", upAddr, metrics)
	}
	_ = a
}

// TestS2_RoundRobinOrdering covers spec.md S2: three sequential GETs against
// a two-node pool must land A, B, A in that order.
func TestS2_RoundRobinOrdering(t *testing.T) {
	upA, logA, closeA := echoUpstream(t, 0)
	defer closeA()
	upB, logB, closeB := echoUpstream(t, 0)
	defer closeB()

	cfg := baseConfig(t, upA, upB)
	startApp(t, cfg)

	for i := 0; i < 3; i++ {
		conn := dialWithRetry(t, cfg.Listen)
		_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		resp, _ := io.ReadAll(conn)
		conn.Close()
		if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
			t.Fatalf("request %d: expected 200, got:\n%s", i, resp)
		}
	}

	if got := len(logA.times()); got != 2 {
		t.Errorf("upstream A arrivals = %d, want 2 (requests 1 and 3)", got)
	}
	if got := len(logB.times()); got != 1 {
		t.Errorf("upstream B arrivals = %d, want 1 (request 2)", got)
	}
}

// TestS3_ConnectTimeout covers spec.md S3: a black-holed upstream (TEST-NET-1,
// RFC 5737) under a 100ms connect timeout must yield 504 after roughly 100ms
// (the check allows 90ms to 3s for CI slack).
func TestS3_ConnectTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = freeAddr(t)
	cfg.MetricsListen = freeAddr(t)
	cfg.Upstreams = []config.UpstreamConfig{{Host: "192.0.2.1", Port: "81"}}
	cfg.Timeouts.ConnectMs = 100
	startApp(t, cfg)

	conn := dialWithRetry(t, cfg.Listen)
	defer conn.Close()

	start := time.Now()
	_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, _ := io.ReadAll(conn)
	elapsed := time.Since(start)

	if !strings.HasPrefix(string(resp), "HTTP/1.1 504") {
		t.Fatalf("expected 504, got:\n%s", resp)
	}
	if elapsed < 90*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("connect timeout took %v, want roughly 100ms (allowing CI slack)", elapsed)
	}

	metrics := fetchMetrics(t, cfg.MetricsListen)
	if !strings.Contains(metrics, `proxy_timeout_errors_total{type="connect"} 1`) {
		t.Errorf("expected connect timeout counter, got:\n%s", metrics)
	}
}

// TestS4_ConnectRefused covers spec.md S4.
func TestS4_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	refusedAddr := ln.Addr().String()
	ln.Close()

	cfg := baseConfig(t, refusedAddr)
	startApp(t, cfg)

	conn := dialWithRetry(t, cfg.Listen)
	defer conn.Close()
	_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, _ := io.ReadAll(conn)

	if !strings.HasPrefix(string(resp), "HTTP/1.1 502") {
		t.Fatalf("expected 502, got:\n%s", resp)
	}
	if !strings.Contains(string(resp), "Upstream unavailable:") {
		t.Errorf("expected cause-describing body, got:\n%s", resp)
	}

	metrics := fetchMetrics(t, cfg.MetricsListen)
	if !strings.Contains(metrics, `proxy_upstream_errors_total{upstream="`+refusedAddr+`",type="connection_refused"} 1`) {
		t.Errorf("expected connection_refused counter, got:\n%s", metrics)
	}
}

// TestS5_PostWithBody covers spec.md S5.
func TestS5_PostWithBody(t *testing.T) {
	upAddr, _, closeUp := echoUpstream(t, 0)
	defer closeUp()

	cfg := baseConfig(t, upAddr)
	startApp(t, cfg)

	conn := dialWithRetry(t, cfg.Listen)
	defer conn.Close()
	_, _ = io.WriteString(conn, "POST /e HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world")
	resp, _ := io.ReadAll(conn)

	if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
		t.Fatalf("expected 200, got:\n%s", resp)
	}
	if !strings.HasSuffix(strings.TrimRight(string(resp), "\r\n"), "hello world") {
		t.Fatalf("expected echoed body 'hello world', got:\n%s", resp)
	}
}

// TestS6_PermitBackpressure covers spec.md S6: with max_conns_per_upstream=1
// and an upstream that delays 200ms, two concurrent clients must both
// succeed, with the second's upstream connection deferred until the first's
// permit is released.
func TestS6_PermitBackpressure(t *testing.T) {
	upAddr, arrivals, closeUp := echoUpstream(t, 200*time.Millisecond)
	defer closeUp()

	cfg := baseConfig(t, upAddr)
	cfg.Limits.MaxConnsPerUpstream = 1
	startApp(t, cfg)

	var wg sync.WaitGroup
	results := make([]string, 2)
	start := time.Now()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			conn := dialWithRetry(t, cfg.Listen)
			defer conn.Close()
			_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
			resp, _ := io.ReadAll(conn)
			results[idx] = string(resp)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i, r := range results {
		if !strings.HasPrefix(r, "HTTP/1.1 200") {
			t.Errorf("client %d: expected 200, got:\n%s", i, r)
		}
	}

	// Serialised through a single permit, the pair should take close to
	// 2x the per-request delay rather than running concurrently.
	if elapsed < 350*time.Millisecond {
		t.Errorf("elapsed %v suggests both requests ran concurrently despite max_conns_per_upstream=1", elapsed)
	}

	times := arrivals.times()
	if len(times) != 2 {
		t.Fatalf("expected 2 upstream connections, got %d", len(times))
	}
	gap := times[1].Sub(times[0])
	if gap < 0 {
		gap = -gap
	}
	if gap < 150*time.Millisecond {
		t.Errorf("upstream connection arrival gap = %v, want >= ~200ms (second deferred by the permit)", gap)
	}
}

// TestTotalTimeoutBound covers invariant 4: no handler exceeds total_ms.
func TestTotalTimeoutBound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Never responds; holds the connection open past the total deadline.
		time.Sleep(2 * time.Second)
	}()

	cfg := baseConfig(t, ln.Addr().String())
	cfg.Timeouts.TotalMs = 150
	startApp(t, cfg)

	conn := dialWithRetry(t, cfg.Listen)
	defer conn.Close()

	start := time.Now()
	_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, _ := io.ReadAll(conn)
	elapsed := time.Since(start)

	if !strings.HasPrefix(string(resp), "HTTP/1.1 504") {
		t.Fatalf("expected 504 on total timeout, got:\n%s", resp)
	}
	if elapsed > time.Second {
		t.Errorf("handler exceeded total_ms by a wide margin: %v", elapsed)
	}
}

// TestConfigReload_NewHandlerServesNewConnections exercises the atomic
// swap-on-reload path through the public Application API.
func TestConfigReload_NewHandlerServesNewConnections(t *testing.T) {
	upA, _, closeA := echoUpstream(t, 0)
	defer closeA()
	upB, logB, closeB := echoUpstream(t, 0)
	defer closeB()

	cfg := baseConfig(t, upA)
	a := startApp(t, cfg)

	conn := dialWithRetry(t, cfg.Listen)
	_, _ = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, _ := io.ReadAll(conn)
	conn.Close()
	if !strings.HasPrefix(string(resp), "HTTP/1.1 200") {
		t.Fatalf("pre-reload request failed: %s", resp)
	}

	cfg2 := baseConfig(t, upB)
	cfg2.Listen = cfg.Listen
	cfg2.MetricsListen = cfg.MetricsListen
	a.Reload(cfg2)

	conn2 := dialWithRetry(t, cfg.Listen)
	_, _ = io.WriteString(conn2, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	resp2, _ := io.ReadAll(conn2)
	conn2.Close()
	if !strings.HasPrefix(string(resp2), "HTTP/1.1 200") {
		t.Fatalf("post-reload request failed: %s", resp2)
	}
	if len(logB.times()) != 1 {
		t.Errorf("expected the reloaded upstream to receive exactly 1 request, got %d", len(logB.times()))
	}
}

