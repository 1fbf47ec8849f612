package registry

import (
	"sync"
)

// keyedMutex hands out one mutex per key and forgets it once unused
type keyedMutex struct {
	mutex sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mutex sync.Mutex
	refs  int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*keyedEntry),
	}
}

func (k *keyedMutex) lock(key string) func() {
	entry := k.acquire(key)
	entry.mutex.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mutex.Unlock()
			k.release(key, entry)
		})
	}
}

func (k *keyedMutex) acquire(key string) *keyedEntry {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (k *keyedMutex) release(key string, entry *keyedEntry) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) size() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return len(k.locks)
}
