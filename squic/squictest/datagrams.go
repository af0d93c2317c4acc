package squictest

import (
	"sync"

	"github.com/gordian-engine/sardine/squic"
)

// DatagramDropper wraps a [squic.Conn]
// and silently discards outgoing datagrams selected by Drop.
//
// This is useful for tests that need to simulate
// datagrams that do not reach the destination.
type DatagramDropper struct {
	squic.Conn

	// Called with the zero-based index of each outgoing datagram.
	// A nil Drop discards everything.
	Drop func(n int, d []byte) bool

	mu      sync.Mutex
	n       int
	dropped int
}

func (d *DatagramDropper) SendDatagram(b []byte) error {
	d.mu.Lock()
	n := d.n
	d.n++
	drop := d.Drop == nil || d.Drop(n, b)
	if drop {
		d.dropped++
	}
	d.mu.Unlock()

	if drop {
		return nil
	}
	return d.Conn.SendDatagram(b)
}

// Dropped returns the number of datagrams discarded so far.
func (d *DatagramDropper) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
