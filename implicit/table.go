package implicit

import (
	"sync"

	"cipgate/cip"
)

const maxConnections = 8

// table is the bounded connection table: at most maxConnections live
// ImplicitConnections, keyed by peer IP. The mutex is held only for
// lookup/insert/delete, never across I/O.
type table struct {
	mu    sync.Mutex
	byPeer map[string]*Connection
}

func newTable() *table {
	return &table{byPeer: make(map[string]*Connection)}
}

func (t *table) get(peerIP string) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPeer[peerIP]
}

// add rejects a second connection to the same peer (one ImplicitConnection
// per peer IP, per the connection-table invariant) and rejects a ninth
// connection overall.
func (t *table) add(c *Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byPeer[c.PeerIP]; exists {
		return cip.ErrBusy
	}
	if len(t.byPeer) >= maxConnections {
		return cip.ErrExhausted
	}
	t.byPeer[c.PeerIP] = c
	return nil
}

func (t *table) remove(peerIP string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPeer, peerIP)
}

func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPeer)
}
