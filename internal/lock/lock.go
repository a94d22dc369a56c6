// Package lock serializes checks that share a working directory.
package lock

import (
	"path/filepath"
	"sync"
)

// PathLocks hands out one RWMutex per cleaned directory path. Mutating
// checks take the write lock; read-only checks take the read lock, so
// any number of read-only checks may share a directory while a formatter
// or code generator runs alone.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewPathLocks() *PathLocks {
	return &PathLocks{
		locks: make(map[string]*sync.RWMutex),
	}
}

// Acquire blocks until the directory is available for the given access
// mode and returns the matching release function.
func (p *PathLocks) Acquire(dir string, mutating bool) (release func()) {
	l := p.lock(dir)
	if mutating {
		l.Lock()
		return l.Unlock
	}
	l.RLock()
	return l.RUnlock
}

func (p *PathLocks) lock(dir string) *sync.RWMutex {
	key := filepath.Clean(dir)

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.locks[key]; ok {
		return l
	}
	l := &sync.RWMutex{}
	p.locks[key] = l
	return l
}
