// Package generic holds small typed helpers shared by the server packages.
package generic

import "sync"

// Pool is a typed sync.Pool. Values are passed through the reset hook, if
// any, before they are reused; a hook returning false drops the value.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) bool
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
	}
}

// NewHotPool is NewPool with hotSize values allocated up front.
func NewHotPool[T any](generate func() T, hotSize int) *Pool[T] {
	p := NewPool[T](generate)
	for i := 0; i < hotSize; i++ {
		p.pool.Put(generate())
	}
	return p
}

// WithReset sets the hook run on every Put.
func (p *Pool[T]) WithReset(reset func(T) bool) *Pool[T] {
	p.reset = reset
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil && !p.reset(value) {
		return
	}
	p.pool.Put(value)
}
