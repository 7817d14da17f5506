package control

import "sync"

// namedLocks serializes mutating operations per process name. Entries
// are reference-counted so the map does not grow with every name ever
// touched.
type namedLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newNamedLocks() *namedLocks {
	return &namedLocks{m: make(map[string]*lockEntry)}
}

func (l *namedLocks) Lock(name string) {
	l.mu.Lock()
	e := l.m[name]
	if e == nil {
		e = &lockEntry{}
		l.m[name] = e
	}
	e.refs++
	l.mu.Unlock()
	e.mu.Lock()
}

func (l *namedLocks) Unlock(name string) {
	l.mu.Lock()
	e := l.m[name]
	if e == nil {
		l.mu.Unlock()
		panic("control: unlock of unheld named lock " + name)
	}
	e.refs--
	if e.refs == 0 {
		delete(l.m, name)
	}
	l.mu.Unlock()
	e.mu.Unlock()
}
