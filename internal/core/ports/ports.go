// Package ports declares the narrow interfaces the client handler (C6)
// depends on, so each adapter (balancer, limiter, timeout, metrics) can be
// exercised and tested in isolation — the same seam the teacher repo draws
// between its core/ports and adapter packages.
package ports

import (
	"context"
	"io"
	"time"

	"github.com/nyxhq/ravel/internal/core/domain"
)

// UpstreamPool selects upstreams in round-robin order (C3).
type UpstreamPool interface {
	GetNext() (domain.Upstream, error)
	All() []domain.Upstream
}

// Permit is a single acquired slot; Release must be idempotent and callable
// from any exit path (success, error, cancellation).
type Permit interface {
	Release()
}

// ConnLimiter gates concurrent client and upstream connections (C4).
type ConnLimiter interface {
	AcquireClient(ctx context.Context) (Permit, error)
	AcquireUpstream(ctx context.Context, upstream domain.Upstream) (Permit, error)
	InUseClient() int64
	InUseUpstream(upstream domain.Upstream) int64
}

// TimeoutPolicy wraps pending operations with phase-specific deadlines (C2).
type TimeoutPolicy interface {
	WithConnect(ctx context.Context, op func(ctx context.Context) error) error
	WithRead(ctx context.Context, op func(ctx context.Context) error) error
	WithWrite(ctx context.Context, op func(ctx context.Context) error) error
	WithTotal(ctx context.Context, op func(ctx context.Context) error) error
}

// MetricsSink records the counters and summary in the external metrics
// contract (C5).
type MetricsSink interface {
	IncRequests()
	IncParseErrors()
	IncResponse(statusClass string)
	IncUpstreamRequest(upstream string)
	IncUpstreamError(upstream, errType string)
	IncTimeoutError(phase string)
	AddBytesSent(n int64)
	ObserveRequestDuration(d time.Duration)
	WriteText(w io.Writer) error
}
