package lock

import (
	"fmt"
	"sync"
)

// LocalLockManager serializes work within one process. It backs the SQLite and
// in-memory storage drivers, where there is a single process by construction.
type LocalLockManager struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
	held  map[int]bool
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{
		locks: make(map[int]*sync.Mutex),
		held:  make(map[int]bool),
	}
}

func (l *LocalLockManager) Acquire(lockID int) error {
	l.mu.Lock()
	m, ok := l.locks[lockID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[lockID] = m
	}
	l.mu.Unlock()

	m.Lock()

	l.mu.Lock()
	l.held[lockID] = true
	l.mu.Unlock()
	return nil
}

func (l *LocalLockManager) TryAcquire(lockID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[lockID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[lockID] = m
	}
	if !m.TryLock() {
		return false, nil
	}
	l.held[lockID] = true
	return true, nil
}

func (l *LocalLockManager) Release(lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held[lockID] {
		return fmt.Errorf("failed to release lock: lock %d is not held", lockID)
	}
	l.held[lockID] = false
	l.locks[lockID].Unlock()
	return nil
}
