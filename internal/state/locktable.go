// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import "sync"

// SessionLockTable hands out one mutex per session id so that
// read-modify-write sequences on a session and its checkpoints are
// serialized, while different sessions proceed fully in parallel.
//
// The table is an explicit component rather than a package global so
// independent stores in one process never share lock state by accident.
type SessionLockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionLockTable returns an empty table.
func NewSessionLockTable() *SessionLockTable {
	return &SessionLockTable{locks: make(map[string]*sync.Mutex)}
}

// For returns the lock for one session, creating it on first use. The
// same *sync.Mutex is returned for every call with the same id.
func (t *SessionLockTable) For(sessionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[sessionID] = l
	}
	return l
}
