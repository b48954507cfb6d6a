// Package userlock serializes operations per user id: one user's writes
// run in submission order while different users proceed in parallel.
// Callers must keep slow I/O (inference, training, similarity search)
// outside the locked region.
package userlock

import "sync"

type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Keyed {
	return &Keyed{locks: map[string]*entry{}}
}

// Lock blocks until the user's lock is held and returns the unlock func.
// Entries are reference-counted so idle users do not accumulate.
func (k *Keyed) Lock(userID string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[userID]
	if !ok {
		e = &entry{}
		k.locks[userID] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}
}
