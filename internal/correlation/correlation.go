// Package correlation implements the GUID correlation map bridge daemons
// (gRPC, JSON-RPC/WS, HTTP) use to match external requests against GDT
// ServiceMessage replies (§4.7, supplemented in §4.7a).
package correlation

import (
	"sync"
	"time"
)

// DefaultDataTimeout is applied to an entry that doesn't specify its own.
const DefaultDataTimeout = 30 * time.Second

// Entry is one pending external request waiting on a GDT reply.
type Entry struct {
	GUID        [16]byte
	CallerRef   any
	UserID      string
	Timestamp   time.Time
	Persistent  bool
	DataTimeout time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	if e.Persistent {
		return false
	}
	return now.Sub(e.Timestamp) >= e.DataTimeout
}

// Map is the mutex-guarded guid-to-entry correlation table.
type Map struct {
	mu      sync.Mutex
	entries map[[16]byte]*Entry
}

// New creates an empty correlation map.
func New() *Map {
	return &Map{entries: make(map[[16]byte]*Entry)}
}

// Put registers a new pending entry under guid. A zero dataTimeout
// selects DefaultDataTimeout.
func (m *Map) Put(guid [16]byte, callerRef any, userID string, dataTimeout time.Duration) {
	if dataTimeout <= 0 {
		dataTimeout = DefaultDataTimeout
	}
	m.mu.Lock()
	m.entries[guid] = &Entry{
		GUID:        guid,
		CallerRef:   callerRef,
		UserID:      userID,
		Timestamp:   time.Now(),
		DataTimeout: dataTimeout,
	}
	m.mu.Unlock()
}

// Get returns the entry for guid without removing it.
func (m *Map) Get(guid [16]byte) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[guid]
	return e, ok
}

// Persist marks an existing entry persistent so it survives a normal
// reply and is skipped by Sweep; it is removed only by an explicit
// Expire — i.e. long-lived subscriptions (§4.7a).
func (m *Map) Persist(guid [16]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[guid]
	if !ok {
		return false
	}
	e.Persistent = true
	return true
}

// Expire removes guid unconditionally (explicit removal or a caller-
// driven timeout), returning the entry that was present, if any.
func (m *Map) Expire(guid [16]byte) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[guid]
	if ok {
		delete(m.entries, guid)
	}
	return e, ok
}

// Sweep removes and returns every non-persistent entry older than its
// DataTimeout. Callers notify each returned entry's external caller with
// a timeout error. Runs on each sweeper tick and may also be invoked
// directly on every external poll, per §4.7.
func (m *Map) Sweep(now time.Time) []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Entry
	for guid, e := range m.entries {
		if e.expired(now) {
			expired = append(expired, e)
			delete(m.entries, guid)
		}
	}
	return expired
}

// Len reports the number of entries currently tracked.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
