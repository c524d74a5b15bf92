// Package metrics implements C5: the counters and one summary pair the
// handler mutates on the hot path, rendered in Prometheus text format for
// the external metrics endpoint. Every counter is a go.uber.org/atomic
// value; the fixed counters are incremented without a lock, while the
// per-upstream counters are looked up (and created on first use) under a
// mutex.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/nyxhq/ravel/internal/core/ports"
)

type statusCounters struct {
	c2xx atomic.Uint64
	c3xx atomic.Uint64
	c4xx atomic.Uint64
	c5xx atomic.Uint64
}

type upstreamErrorCounters struct {
	timeout           atomic.Uint64
	connectionRefused atomic.Uint64
	other             atomic.Uint64
}

// Sink is the process-wide metrics singleton, constructed once and shared by
// every handler instance.
type Sink struct {
	requestsTotal     atomic.Uint64
	parseErrorsTotal  atomic.Uint64
	bytesSentTotal    atomic.Uint64
	durationSumNanos  atomic.Uint64
	durationCount     atomic.Uint64
	responses         statusCounters
	timeoutConnect    atomic.Uint64
	timeoutRead       atomic.Uint64
	timeoutWrite      atomic.Uint64
	timeoutTotal      atomic.Uint64

	mu                sync.Mutex
	upstreamRequests  map[string]*atomic.Uint64
	upstreamErrors    map[string]*upstreamErrorCounters
}

var _ ports.MetricsSink = (*Sink)(nil)

// New builds an empty metrics sink.
func New() *Sink {
	return &Sink{
		upstreamRequests: make(map[string]*atomic.Uint64),
		upstreamErrors:   make(map[string]*upstreamErrorCounters),
	}
}

func (s *Sink) IncRequests() { s.requestsTotal.Inc() }

func (s *Sink) IncParseErrors() { s.parseErrorsTotal.Inc() }

func (s *Sink) IncResponse(statusClass string) {
	switch statusClass {
	case "2xx":
		s.responses.c2xx.Inc()
	case "3xx":
		s.responses.c3xx.Inc()
	case "4xx":
		s.responses.c4xx.Inc()
	case "5xx":
		s.responses.c5xx.Inc()
	}
}

func (s *Sink) IncUpstreamRequest(upstream string) {
	s.counterFor(upstream).Inc()
}

func (s *Sink) counterFor(upstream string) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.upstreamRequests[upstream]
	if !ok {
		c = atomic.NewUint64(0)
		s.upstreamRequests[upstream] = c
	}
	return c
}

func (s *Sink) IncUpstreamError(upstream, errType string) {
	s.mu.Lock()
	ec, ok := s.upstreamErrors[upstream]
	if !ok {
		ec = &upstreamErrorCounters{}
		s.upstreamErrors[upstream] = ec
	}
	s.mu.Unlock()

	switch errType {
	case "timeout":
		ec.timeout.Inc()
	case "connection_refused":
		ec.connectionRefused.Inc()
	default:
		ec.other.Inc()
	}
}

func (s *Sink) IncTimeoutError(phase string) {
	switch phase {
	case "connect":
		s.timeoutConnect.Inc()
	case "read":
		s.timeoutRead.Inc()
	case "write":
		s.timeoutWrite.Inc()
	case "total":
		s.timeoutTotal.Inc()
	}
}

func (s *Sink) AddBytesSent(n int64) {
	if n > 0 {
		s.bytesSentTotal.Add(uint64(n))
	}
}

func (s *Sink) ObserveRequestDuration(d time.Duration) {
	s.durationSumNanos.Add(uint64(d.Nanoseconds()))
	s.durationCount.Inc()
}

// WriteText renders every metric in Prometheus text exposition format, with
// names matching the external contract exactly.
func (s *Sink) WriteText(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("proxy_requests_total %d", s.requestsTotal.Load()),
		fmt.Sprintf("proxy_requests_parse_errors_total %d", s.parseErrorsTotal.Load()),
		fmt.Sprintf(`proxy_responses_total{status_class="2xx"} %d`, s.responses.c2xx.Load()),
		fmt.Sprintf(`proxy_responses_total{status_class="3xx"} %d`, s.responses.c3xx.Load()),
		fmt.Sprintf(`proxy_responses_total{status_class="4xx"} %d`, s.responses.c4xx.Load()),
		fmt.Sprintf(`proxy_responses_total{status_class="5xx"} %d`, s.responses.c5xx.Load()),
		fmt.Sprintf("proxy_request_duration_seconds_sum %f", float64(s.durationSumNanos.Load())/1e9),
		fmt.Sprintf("proxy_request_duration_seconds_count %d", s.durationCount.Load()),
		fmt.Sprintf("proxy_bytes_sent_total %d", s.bytesSentTotal.Load()),
		fmt.Sprintf(`proxy_timeout_errors_total{type="connect"} %d`, s.timeoutConnect.Load()),
		fmt.Sprintf(`proxy_timeout_errors_total{type="read"} %d`, s.timeoutRead.Load()),
		fmt.Sprintf(`proxy_timeout_errors_total{type="write"} %d`, s.timeoutWrite.Load()),
		fmt.Sprintf(`proxy_timeout_errors_total{type="total"} %d`, s.timeoutTotal.Load()),
	}

	s.mu.Lock()
	upstreams := make([]string, 0, len(s.upstreamRequests))
	for u := range s.upstreamRequests {
		upstreams = append(upstreams, u)
	}
	for u := range s.upstreamErrors {
		if _, ok := s.upstreamRequests[u]; !ok {
			upstreams = append(upstreams, u)
		}
	}
	sort.Strings(upstreams)

	for _, u := range upstreams {
		if c, ok := s.upstreamRequests[u]; ok {
			lines = append(lines, fmt.Sprintf(`proxy_upstream_requests_total{upstream="%s"} %d`, u, c.Load()))
		}
		if ec, ok := s.upstreamErrors[u]; ok {
			lines = append(lines,
				fmt.Sprintf(`proxy_upstream_errors_total{upstream="%s",type="timeout"} %d`, u, ec.timeout.Load()),
				fmt.Sprintf(`proxy_upstream_errors_total{upstream="%s",type="connection_refused"} %d`, u, ec.connectionRefused.Load()),
				fmt.Sprintf(`proxy_upstream_errors_total{upstream="%s",type="other"} %d`, u, ec.other.Load()),
			)
		}
	}
	s.mu.Unlock()

	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}
