package pe

import (
	"sync"
	"sync/atomic"
)

// CacheState tracks the resolution of a lazily computed table.
type CacheState int32

const (
	Uninitialized CacheState = iota
	Resolving
	Cached
)

func (s CacheState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Resolving:
		return "resolving"
	case Cached:
		return "cached"
	}
	return "unknown"
}

// lazy computes a value at most once. Concurrent callers block until the
// first resolution completes and then share its result.
type lazy[T any] struct {
	once  sync.Once
	state atomic.Int32
	value T
}

func (l *lazy[T]) get(resolve func() T) T {
	l.once.Do(func() {
		l.state.Store(int32(Resolving))
		l.value = resolve()
		l.state.Store(int32(Cached))
	})
	return l.value
}

func (l *lazy[T]) State() CacheState {
	return CacheState(l.state.Load())
}
