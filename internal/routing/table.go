package routing

import (
	"fmt"
	"sync"
)

// ErrHopLimit is returned when a message's current_hop has reached its
// max_hops; the caller must send an error packet back rather than
// forward (§4.2 hop control, §7 taxonomy category 3).
var ErrHopLimit = fmt.Errorf("routing: hop limit reached")

type bucket struct {
	algorithm Algorithm
	peers     []*Peer
	strategy  Strategy
}

// Table is the Session-level routing table: one bucket per destination
// daemon type, each backed by its own Strategy instance so WRR deficit
// state persists across calls.
type Table struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{buckets: make(map[string]*bucket)}
}

// SetBucket (re)builds the bucket for daemonType from peers using the
// given algorithm. Called whenever the peer set for a destination type
// changes (connect, disconnect, re-registration).
func (t *Table) SetBucket(daemonType string, algorithm Algorithm, peers []*Peer) error {
	var strat Strategy
	switch algorithm {
	case AlgorithmAUTO:
		strat = AutoStrategy{}
	default:
		wrr, err := NewWRRBucket(peers)
		if err != nil {
			return fmt.Errorf("routing: bucket %q: %w", daemonType, err)
		}
		strat = wrr
	}

	t.mu.Lock()
	t.buckets[daemonType] = &bucket{algorithm: algorithm, peers: peers, strategy: strat}
	t.mu.Unlock()
	return nil
}

// Route selects a peer to forward to. destID, when non-empty, narrows
// acceptability to peers whose DaemonID matches. callerHandle excludes
// the peer the message arrived from (loop prevention). currentHop/maxHops
// implement the hop-limit check; a message at its limit is rejected
// before any peer is even considered.
func (t *Table) Route(destType, destID string, callerHandle any, currentHop, maxHops uint32) (*Peer, error) {
	if maxHops > 0 && currentHop >= maxHops {
		return nil, ErrHopLimit
	}

	t.mu.RLock()
	b, ok := t.buckets[destType]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNoRoute
	}

	acceptable := make([]*Peer, 0, len(b.peers))
	for _, p := range b.peers {
		if !p.Registered || !p.RouterOK {
			continue
		}
		if callerHandle != nil && p.Handle == callerHandle {
			continue
		}
		if destID != "" && p.DaemonID != destID {
			continue
		}
		acceptable = append(acceptable, p)
	}

	return b.strategy.Select(acceptable)
}
