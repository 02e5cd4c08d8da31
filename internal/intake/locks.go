package intake

import "sync"

// originLocks serializes work per origin while letting origins proceed in
// parallel. Entries are dropped once no goroutine holds or waits on them.
type originLocks struct {
	mu sync.Mutex
	m  map[string]*originLock
}

type originLock struct {
	mu   sync.Mutex
	refs int
}

func newOriginLocks() *originLocks {
	return &originLocks{m: make(map[string]*originLock)}
}

func (l *originLocks) lock(origin string) (unlock func()) {
	l.mu.Lock()
	ol, ok := l.m[origin]
	if !ok {
		ol = &originLock{}
		l.m[origin] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.m, origin)
		}
		l.mu.Unlock()
	}
}

func (l *originLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
