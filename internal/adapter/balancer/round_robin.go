// Package balancer implements C3: a fixed upstream list selected in
// round-robin order via an atomic fetch-and-increment counter.
package balancer

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/nyxhq/ravel/internal/core/domain"
)

// RoundRobin hands out the configured upstreams in rotation. Construction is
// the only mutation point: the list is fixed for the lifetime of the
// selector, so GetNext needs no lock beyond the atomic counter.
type RoundRobin struct {
	upstreams []domain.Upstream
	counter   atomic.Uint64
}

// NewRoundRobin builds a selector over a non-empty, fixed upstream list.
func NewRoundRobin(upstreams []domain.Upstream) (*RoundRobin, error) {
	if len(upstreams) == 0 {
		return nil, fmt.Errorf("balancer: at least one upstream is required")
	}
	cp := make([]domain.Upstream, len(upstreams))
	copy(cp, upstreams)
	return &RoundRobin{upstreams: cp}, nil
}

// GetNext returns the next upstream in rotation. Concurrent callers observe
// a linearizable sequence of indices because the counter only ever advances
// via counter.Add.
func (r *RoundRobin) GetNext() (domain.Upstream, error) {
	if len(r.upstreams) == 0 {
		return domain.Upstream{}, fmt.Errorf("balancer: no upstreams configured")
	}
	current := r.counter.Add(1) - 1
	index := current % uint64(len(r.upstreams))
	return r.upstreams[index], nil
}

// All returns a copy of the full configured upstream list, for
// introspection. The limiter and metrics sink do not use it; they create
// their per-upstream state on first use.
func (r *RoundRobin) All() []domain.Upstream {
	cp := make([]domain.Upstream, len(r.upstreams))
	copy(cp, r.upstreams)
	return cp
}
