package servicemsg

import (
	"fmt"

	"github.com/minkcore/gdt/internal/pool"
)

// StatsSink receives named-counter increments. The stats package (C9)
// satisfies this without servicemsg needing to import it.
type StatsSink interface {
	Inc(name string)
}

// Manager owns the fixed-capacity ServiceMessage pool for one Client and
// fails fast on exhaustion per §4.3 receive-path step 1.
type Manager struct {
	pool  *pool.Pool[ServiceMessage]
	stats StatsSink
}

// NewManager wraps smsgPool with stat-counter reporting on exhaustion.
// stats may be nil if the caller doesn't want pool-exhaustion counted.
func NewManager(smsgPool *pool.Pool[ServiceMessage], stats StatsSink) *Manager {
	return &Manager{pool: smsgPool, stats: stats}
}

// ErrPoolEmpty is returned (wrapped) when the ServiceMessage pool has no
// free slots; callers must fail the inbound STREAM_NEW with
// SRVC_MSG_ERROR rather than block.
var ErrPoolEmpty = pool.ErrExhausted

// Allocate takes one ServiceMessage from the pool and initializes it for
// service/action. Exhaustion increments SST_RX_SMSG_POOL_EMPTY.
func (m *Manager) Allocate(serviceID, serviceAction uint32, autoFree bool) (*ServiceMessage, error) {
	sm, err := m.pool.Get()
	if err != nil {
		if m.stats != nil {
			m.stats.Inc("SST_RX_SMSG_POOL_EMPTY")
		}
		return nil, fmt.Errorf("servicemsg: %w", err)
	}
	sm.ServiceID = serviceID
	sm.ServiceAction = serviceAction
	sm.autoFree = autoFree
	return sm, nil
}

// Release resets sm and returns it to the pool. Callers should only call
// this once a ServiceMessage's AutoFree is true and it has completed (or
// when they own it outright on the send path).
func (m *Manager) Release(sm *ServiceMessage) {
	sm.Reset()
	m.pool.Put(sm)
}
