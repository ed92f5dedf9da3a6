package pipeline

import (
	"context"
	"strings"
	"sync"
)

// keyedLock serializes runs per provider. Each key owns a one-token channel
// so waiting can be abandoned when the context ends.
type keyedLock struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{keys: map[string]chan struct{}{}}
}

func (l *keyedLock) slot(key string) chan struct{} {
	k := strings.ToLower(strings.TrimSpace(key))
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.keys[k]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		l.keys[k] = ch
	}
	return ch
}

// acquire blocks until the key is free or ctx is done.
func (l *keyedLock) acquire(ctx context.Context, key string) (release func(), err error) {
	ch := l.slot(key)
	select {
	case <-ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				select {
				case ch <- struct{}{}:
				default:
				}
			})
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
