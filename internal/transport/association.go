package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/ishidawataru/sctp"
)

// Direction marks which side opened an association.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// Status is an association's connection-level health.
type Status int

const (
	StatusConnected Status = iota
	StatusDegraded
	StatusClosed
)

// Association is one live SCTP connection to a remote daemon (§3's
// "Association (Client)" minus the higher-level stream table, pools and
// registration state the gdt package layers on top).
type Association struct {
	conn      *sctp.SCTPConn
	direction Direction
	streams   int

	mu           sync.RWMutex
	status       Status
	lastActivity time.Time
	txBytes      int64
	rxBytes      int64
}

func newAssociation(conn *sctp.SCTPConn, dir Direction, streams int) *Association {
	return &Association{
		conn:         conn,
		direction:    dir,
		streams:      streams,
		status:       StatusConnected,
		lastActivity: time.Now(),
	}
}

// Direction reports which side opened this association.
func (a *Association) Direction() Direction { return a.direction }

// Streams reports the number of SCTP streams negotiated for this
// association.
func (a *Association) Streams() int { return a.streams }

// Status reports the association's current connection-level health.
func (a *Association) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// LastActivity reports the time of the most recent successful read or
// write on this association.
func (a *Association) LastActivity() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastActivity
}

// Send writes one datagram on the given SCTP stream, tagged with GDT's
// payload protocol id.
func (a *Association) Send(sctpStreamID uint16, data []byte) error {
	info := &sctp.SndRcvInfo{
		Stream: sctpStreamID,
		PPID:   PayloadProtocolID,
	}
	n, err := a.conn.SCTPWrite(data, info)
	if err != nil {
		a.markDegraded()
		return fmt.Errorf("transport: sctp write: %w", err)
	}
	a.mu.Lock()
	a.txBytes += int64(n)
	a.lastActivity = time.Now()
	a.mu.Unlock()
	return nil
}

// Recv reads the next datagram from any SCTP stream on this association,
// returning the bytes read and the SCTP stream id they arrived on.
func (a *Association) Recv(buf []byte) (int, uint16, error) {
	n, info, err := a.conn.SCTPRead(buf)
	if err != nil {
		a.markDegraded()
		return 0, 0, fmt.Errorf("transport: sctp read: %w", err)
	}
	a.mu.Lock()
	a.rxBytes += int64(n)
	a.lastActivity = time.Now()
	a.mu.Unlock()

	var streamID uint16
	if info != nil {
		streamID = info.Stream
	}
	return n, streamID, nil
}

// Close tears down the underlying SCTP association.
func (a *Association) Close() error {
	a.mu.Lock()
	a.status = StatusClosed
	a.mu.Unlock()
	return a.conn.Close()
}

func (a *Association) markDegraded() {
	a.mu.Lock()
	if a.status == StatusConnected {
		a.status = StatusDegraded
	}
	a.mu.Unlock()
}

// ByteCounters returns cumulative bytes sent/received on this association.
func (a *Association) ByteCounters() (tx, rx int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.txBytes, a.rxBytes
}
