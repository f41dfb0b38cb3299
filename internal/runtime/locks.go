package runtime

import (
	"context"
	"sort"
	"sync"
)

// lockTable hands out per-account write locks. Each lock is a one-slot channel so that
// waiting can be abandoned when the context is cancelled.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*accountLock)}
}

// acquire locks every address in sorted order and returns the matching release func.
func (t *lockTable) acquire(ctx context.Context, addresses []string) (func(), error) {
	keys := dedupeSorted(addresses)
	held := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			t.unlock(held[i])
		}
	}

	for _, key := range keys {
		l := t.ref(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			t.unref(key)
			release()
			return nil, ctx.Err()
		}
	}

	return release, nil
}

func (t *lockTable) ref(key string) *accountLock {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[key]
	if !ok {
		l = &accountLock{ch: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

func (t *lockTable) unlock(key string) {
	t.mu.Lock()
	l := t.locks[key]
	t.mu.Unlock()

	<-l.ch
	t.unref(key)
}

// size returns the number of tracked locks.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func dedupeSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
