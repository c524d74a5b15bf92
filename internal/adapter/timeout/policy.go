// Package timeout implements C2: phase-specific deadlines wrapping the
// connect, read, write, and total-request operations. Where the pack's
// raw-HTTP Timer only measures phase durations (StartDNS/EndDNS,
// StartTCP/EndTCP, ...), these wrappers turn the same phase boundaries into
// cancellation points via context.WithTimeout.
package timeout

import (
	"context"
	"time"

	"github.com/nyxhq/ravel/internal/core/domain"
	"github.com/nyxhq/ravel/internal/core/ports"
)

var _ ports.TimeoutPolicy = (*Policy)(nil)

// Policy holds the four configured deadlines and exposes one wrapper per
// phase, each mapping a context.DeadlineExceeded into the matching
// domain.Kind so the handler's failure table can branch on it directly.
type Policy struct {
	connect time.Duration
	read    time.Duration
	write   time.Duration
	total   time.Duration
}

// NewPolicy builds a Policy from the four configured phase deadlines.
func NewPolicy(connect, read, write, total time.Duration) *Policy {
	return &Policy{connect: connect, read: read, write: write, total: total}
}

// wrap runs op bounded by d. A zero or negative d means unbounded for that
// phase: op then runs on ctx directly, with no deadline attached by this
// call.
func (p *Policy) wrap(ctx context.Context, d time.Duration, kind domain.Kind, op func(ctx context.Context) error) error {
	if d <= 0 {
		return op(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := op(tctx)
	if err != nil && tctx.Err() == context.DeadlineExceeded {
		return domain.NewError(kind, "timeout", "", err)
	}
	return err
}

// WithConnect bounds a dial operation by the configured connect deadline.
func (p *Policy) WithConnect(ctx context.Context, op func(ctx context.Context) error) error {
	return p.wrap(ctx, p.connect, domain.KindConnectTimeout, op)
}

// WithRead bounds a single read operation by the configured read deadline.
func (p *Policy) WithRead(ctx context.Context, op func(ctx context.Context) error) error {
	return p.wrap(ctx, p.read, domain.KindReadTimeout, op)
}

// WithWrite bounds a single write operation by the configured write deadline.
func (p *Policy) WithWrite(ctx context.Context, op func(ctx context.Context) error) error {
	return p.wrap(ctx, p.write, domain.KindWriteTimeout, op)
}

// WithTotal bounds the upstream exchange by the configured total deadline;
// C6 wraps the request write and the response pump in a single call, after
// the upstream connection is open.
func (p *Policy) WithTotal(ctx context.Context, op func(ctx context.Context) error) error {
	return p.wrap(ctx, p.total, domain.KindTotalTimeout, op)
}
