// Package lock serializes alert evaluation per (server, metric, label)
// tuple so that two overlapping batches cannot both open an alert for the
// same tuple.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"recsignal/internal/models"
)

// Locker acquires a set of keys. The returned release func frees every key
// and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, keys []string) (release func(), err error)
}

// Key names the lock for an alert tuple.
func Key(k models.AlertKey) string {
	return fmt.Sprintf("recsignal:tuple:%d:%s:%s", k.ServerID, k.Metric, k.Label)
}

// normalize sorts and dedupes keys. Every Locker takes its keys in this
// order, which rules out lock-order deadlocks between batches.
func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// Local is an in-process Locker. It is enough when a single instance
// serves all ingestion.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]*localEntry)}
}

func (l *Local) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
		held = nil
	}
	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, e)
		return ctx.Err()
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	e := l.keys[key]
	l.mu.Unlock()
	<-e.ch
	l.unref(key, e)
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
