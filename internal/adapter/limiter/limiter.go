// Package limiter implements C4: a two-level permit gate bounding concurrent
// client connections and, within that, concurrent connections to each
// upstream. Per-upstream semaphores are created lazily and cached in a
// sync.Map, the same LoadOrStore idiom the pack's raw-HTTP transport uses for
// its per-host connection pools (see getOrCreateHostPool).
package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nyxhq/ravel/internal/core/domain"
	"github.com/nyxhq/ravel/internal/core/ports"
)

var _ ports.ConnLimiter = (*TwoLevel)(nil)

// TwoLevel gates AcquireClient against a single global semaphore and
// AcquireUpstream against a per-upstream semaphore, both backed by
// golang.org/x/sync/semaphore.Weighted.
type TwoLevel struct {
	client   *semaphore.Weighted
	maxPer   int64
	upstream sync.Map // map[string]*semaphore.Weighted, keyed by domain.Upstream.Identity()

	clientInUse int64
	inUseMu     sync.Mutex
	inUse       map[string]int64
}

// NewTwoLevel builds a limiter with a global client cap and a per-upstream
// cap applied uniformly to every upstream identity seen.
func NewTwoLevel(maxClientConns, maxConnsPerUpstream int64) *TwoLevel {
	return &TwoLevel{
		client: semaphore.NewWeighted(maxClientConns),
		maxPer: maxConnsPerUpstream,
		inUse:  make(map[string]int64),
	}
}

// clientPermit releases the global client semaphore. once guards against a
// caller releasing twice (e.g. an explicit Release followed by a deferred
// one on another exit path) double-decrementing the semaphore.
type clientPermit struct {
	l    *TwoLevel
	once sync.Once
}

func (p *clientPermit) Release() {
	p.once.Do(func() {
		p.l.client.Release(1)
		p.l.inUseMu.Lock()
		p.l.clientInUse--
		p.l.inUseMu.Unlock()
	})
}

// upstreamPermit releases a single upstream's semaphore. once gives it the
// same double-release protection as clientPermit.
type upstreamPermit struct {
	l    *TwoLevel
	key  string
	sem  *semaphore.Weighted
	once sync.Once
}

func (p *upstreamPermit) Release() {
	p.once.Do(func() {
		p.sem.Release(1)
		p.l.inUseMu.Lock()
		p.l.inUse[p.key]--
		p.l.inUseMu.Unlock()
	})
}

// AcquireClient blocks until a global client slot is free or ctx is
// cancelled.
func (l *TwoLevel) AcquireClient(ctx context.Context) (ports.Permit, error) {
	if err := l.client.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.inUseMu.Lock()
	l.clientInUse++
	l.inUseMu.Unlock()
	return &clientPermit{l: l}, nil
}

// AcquireUpstream blocks until a slot on the given upstream's semaphore is
// free or ctx is cancelled. The semaphore is created on first use.
func (l *TwoLevel) AcquireUpstream(ctx context.Context, upstream domain.Upstream) (ports.Permit, error) {
	key := upstream.Identity()
	sem := l.semaphoreFor(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.inUseMu.Lock()
	l.inUse[key]++
	l.inUseMu.Unlock()
	return &upstreamPermit{l: l, key: key, sem: sem}, nil
}

func (l *TwoLevel) semaphoreFor(key string) *semaphore.Weighted {
	val, loaded := l.upstream.LoadOrStore(key, semaphore.NewWeighted(l.maxPer))
	if !loaded {
		return val.(*semaphore.Weighted)
	}
	return val.(*semaphore.Weighted)
}

// InUseClient returns the number of client permits currently held.
func (l *TwoLevel) InUseClient() int64 {
	l.inUseMu.Lock()
	defer l.inUseMu.Unlock()
	return l.clientInUse
}

// InUseUpstream returns the number of permits currently held against a
// specific upstream.
func (l *TwoLevel) InUseUpstream(upstream domain.Upstream) int64 {
	l.inUseMu.Lock()
	defer l.inUseMu.Unlock()
	return l.inUse[upstream.Identity()]
}
