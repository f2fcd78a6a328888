// Package routing implements the daemon-type-indexed selector GDT routers
// use to forward a message to one of several acceptable peers: a weighted
// round robin strategy per destination type, plus a first-acceptable AUTO
// fallback (§4.4).
package routing

import (
	"fmt"
	"sync"
)

// Algorithm selects which selection strategy a Router bucket uses.
type Algorithm int

const (
	AlgorithmWRR Algorithm = iota
	AlgorithmAUTO
)

// Peer is one routable destination: an opaque handle the caller supplies
// (typically a *gdt.Client) plus the attributes routing needs to judge
// acceptability and weight.
type Peer struct {
	Handle     any
	DaemonType string
	DaemonID   string
	Registered bool
	RouterOK   bool
	Weight     int
}

// Strategy mirrors the teacher's RoutingStrategy interface shape,
// generalized from flooding/distance-vector/link-state selection to WRR
// and AUTO selection over the acceptable-peer set.
type Strategy interface {
	Select(acceptable []*Peer) (*Peer, error)
}

// ErrNoRoute is returned when a bucket has no acceptable peer to select.
var ErrNoRoute = fmt.Errorf("routing: no acceptable route")

// ErrAllZeroWeight is returned at bucket construction time when every
// peer in the bucket carries a zero weight — Open Question (a) resolves
// this as a config-load rejection rather than undefined runtime behavior.
var ErrAllZeroWeight = fmt.Errorf("routing: bucket has no positive-weight peer")

// AutoStrategy returns the first acceptable peer, in insertion order.
type AutoStrategy struct{}

func (AutoStrategy) Select(acceptable []*Peer) (*Peer, error) {
	if len(acceptable) == 0 {
		return nil, ErrNoRoute
	}
	return acceptable[0], nil
}

// wrrEntry pairs a peer with its running deficit counter.
type wrrEntry struct {
	peer    *Peer
	deficit int
}

// WRRStrategy implements weighted round robin with a deficit counter per
// peer: selection decrements the chosen entry's deficit by one and, once
// every entry in the bucket is exhausted, refills all counters from their
// configured weights.
type WRRStrategy struct {
	mu      sync.Mutex
	entries []*wrrEntry
}

// NewWRRBucket builds a WRRStrategy over peers. It rejects an all-zero-
// weight bucket at construction time (Open Question a) rather than
// allowing a runtime selection that can never make progress.
func NewWRRBucket(peers []*Peer) (*WRRStrategy, error) {
	total := 0
	entries := make([]*wrrEntry, len(peers))
	for i, p := range peers {
		if p.Weight < 0 {
			return nil, fmt.Errorf("routing: peer %s/%s has negative weight %d", p.DaemonType, p.DaemonID, p.Weight)
		}
		total += p.Weight
		entries[i] = &wrrEntry{peer: p, deficit: p.Weight}
	}
	if total == 0 {
		return nil, ErrAllZeroWeight
	}
	return &WRRStrategy{entries: entries}, nil
}

// Select picks the next peer by deficit count, refilling from weights
// when every tracked entry has been exhausted. The acceptable slice
// constrains selection to currently-acceptable peers (registered,
// router-capable, not the caller); entries for peers outside that set are
// skipped without consuming their deficit.
func (w *WRRStrategy) Select(acceptable []*Peer) (*Peer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ok := make(map[any]bool, len(acceptable))
	for _, p := range acceptable {
		ok[p.Handle] = true
	}

	for attempt := 0; attempt < 2; attempt++ {
		for _, e := range w.entries {
			if !ok[e.peer.Handle] {
				continue
			}
			if e.deficit > 0 {
				e.deficit--
				return e.peer, nil
			}
		}
		w.refill()
	}
	return nil, ErrNoRoute
}

func (w *WRRStrategy) refill() {
	for _, e := range w.entries {
		e.deficit = e.peer.Weight
	}
}
