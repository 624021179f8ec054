package service

import (
	"sync"
	"time"
)

// keyedMutex serializes mutations per queue (service point or group, plus
// date) so token creation and call-next for the same queue never interleave,
// while distinct queues proceed concurrently. Entries are reference-counted
// and removed once the last holder releases, so the map does not grow with
// the number of dates ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func queueKey(id string, date time.Time) string {
	return id + "|" + date.Format("20060102")
}
