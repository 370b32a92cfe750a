package workflow

import (
	"context"
	"sync"
)

// lazy builds a value on first use and shares it afterwards. A failed build is
// not cached, so a later request retries once the misconfiguration is fixed.
type lazy[T any] struct {
	mu    sync.Mutex
	build func(context.Context) (T, error)
	value T
	ready bool
}

func newLazy[T any](build func(context.Context) (T, error)) *lazy[T] {
	return &lazy[T]{build: build}
}

func (l *lazy[T]) get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return l.value, nil
	}
	var zero T
	if l.build == nil {
		return zero, errNotConfigured
	}
	v, err := l.build(ctx)
	if err != nil {
		return zero, err
	}
	l.value = v
	l.ready = true
	return v, nil
}
