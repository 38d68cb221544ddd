package lock

import (
	"strconv"
	"sync"
)

// entry is one keyed lock. refs counts holders and waiters so the table can
// drop the entry once nobody references it.
type entry struct {
	rw   sync.RWMutex
	refs int
}

type table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newTable() table {
	return table{entries: make(map[string]*entry)}
}

func (t *table) acquire(k string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[k]
	if !ok {
		e = &entry{}
		t.entries[k] = e
	}
	e.refs++
	return e
}

func (t *table) release(k string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(t.entries, k)
	}
}

func (t *table) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// InstitutionLocks hands out per-institution reader/writer leases.
// Refresh and sync hold read leases; duplicate merges hold the write lease,
// so account deletions never interleave with an upstream refresh of the
// same institution.
type InstitutionLocks struct {
	table
}

// NewInstitutionLocks creates an empty lock table
func NewInstitutionLocks() *InstitutionLocks {
	return &InstitutionLocks{table: newTable()}
}

func key(userID int64, institutionID string) string {
	return strconv.FormatInt(userID, 10) + "/" + institutionID
}

// Read takes a shared lease and returns its release function.
func (l *InstitutionLocks) Read(userID int64, institutionID string) (unlock func()) {
	k := key(userID, institutionID)
	e := l.acquire(k)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		l.release(k, e)
	}
}

// Write takes the exclusive lease and returns its release function.
func (l *InstitutionLocks) Write(userID int64, institutionID string) (unlock func()) {
	k := key(userID, institutionID)
	e := l.acquire(k)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		l.release(k, e)
	}
}

// ConnectionLocks serializes upstream work on a single connection, so two
// syncs of the same credential never advance its cursors concurrently.
type ConnectionLocks struct {
	table
}

// NewConnectionLocks creates an empty lock table
func NewConnectionLocks() *ConnectionLocks {
	return &ConnectionLocks{table: newTable()}
}

// Lock takes the connection's mutex and returns its release function.
func (l *ConnectionLocks) Lock(connectionID string) (unlock func()) {
	e := l.acquire(connectionID)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		l.release(connectionID, e)
	}
}
