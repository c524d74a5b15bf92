// Package pool provides a generic wrapper around sync.Pool: Get/Put work in
// terms of T directly, so callers never type-assert an any back to their
// pooled type. If T implements Resettable, Put clears it before it goes
// back in the pool.
//
// frame.bufPool is the one caller in this module: it pools the chunk
// buffers CopyBody streams bodies through, one Get per body copied and one
// deferred Put, so a busy connection doesn't allocate a fresh buffer per
// body. In the proxy, CopyBody carries request bodies; the handler's
// response pump allocates its own chunk buffer per connection.
package pool

import "sync"

type Resettable interface {
	Reset()
}

type Pool[T any] struct {
	pool sync.Pool
	new  func() T
}

func NewLitePool[T any](newFn func() T) *Pool[T] {
	if newFn == nil {
		panic("litepool: constructor must not be nil")
	}
	// Validate early that the result is non-nil
	test := newFn()
	if any(test) == nil {
		panic("litepool: constructor returned nil")
	}

	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				v := newFn()
				if any(v) == nil {
					panic("litepool: constructor returned nil")
				}
				return v
			},
		},
		new: newFn,
	}
}

func (p *Pool[T]) Get() T {
	//nolint:forcetypeassert // safe due to validated New
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(v T) {
	if r, ok := any(v).(Resettable); ok {
		r.Reset()
	}
	p.pool.Put(v)
}
