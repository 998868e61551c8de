package engine

import "sync"

// keyedMutex serializes the turns of one session,
// turns of different sessions run concurrently
type keyedMutex struct {
	lock  sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: map[string]*refMutex{},
	}
}

// Lock locks the key and returns the unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.lock.Lock()
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.lock.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		k.lock.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.lock.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return len(k.locks)
}
