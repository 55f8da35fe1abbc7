package cart

import "sync"

// keyedMutex serializes snapshot creation per cart. Two concurrent writers
// for the same (platform, cart type) would otherwise both read the same
// previous snapshot, diff against it, and race the cart-mirror update.
// Entries are reference-counted and dropped once the last holder unlocks,
// so the map stays proportional to in-flight writes rather than to every
// key ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
