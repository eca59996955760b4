package implicit

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"cipgate/cip"
	"cipgate/logging"
)

// Manager owns the bounded connection table (at most 8 live connections,
// one per peer IP) and the single UDP socket on port 2222 that all of
// them share, demultiplexed by source IP and T->O connection id.
type Manager struct {
	table *table

	sockMu  sync.Mutex
	udpConn *net.UDPConn
	stop    chan struct{}
}

// NewManager returns an empty connection manager.
func NewManager() *Manager {
	return &Manager{table: newTable()}
}

// Open establishes a new Class 1 connection to opts.PeerIP and registers
// it in the table. Fails with ErrBusy if a connection to that peer already
// exists, or ErrExhausted if the table is already at its 8-connection cap.
func (m *Manager) Open(opts OpenOptions, cb Callback, userData interface{}) error {
	if m.table.get(opts.PeerIP) != nil {
		return fmt.Errorf("implicit: Open %s: %w: connection already open", opts.PeerIP, cip.ErrBusy)
	}
	if m.table.len() >= maxConnections {
		return fmt.Errorf("implicit: Open %s: %w: connection table full", opts.PeerIP, cip.ErrExhausted)
	}

	udpConn, err := m.ensureSocket()
	if err != nil {
		return fmt.Errorf("implicit: Open %s: %w", opts.PeerIP, err)
	}

	conn, err := newConnection(opts, cb, userData, udpConn)
	if err != nil {
		return err
	}
	if err := m.table.add(conn); err != nil {
		_ = conn.close(opts.Timeout)
		return err
	}
	return nil
}

// Close tears down the connection to peerIP, if one is open, and removes
// it from the table. Once the table is empty the shared UDP socket is
// closed, making port 2222 reusable.
func (m *Manager) Close(peerIP string, timeout time.Duration) error {
	conn := m.table.get(peerIP)
	if conn == nil {
		return fmt.Errorf("implicit: Close %s: %w", peerIP, cip.ErrNotFound)
	}
	closeErr := conn.close(timeout)
	m.table.remove(peerIP)

	if m.table.len() == 0 {
		m.closeSocket()
	}
	return closeErr
}

// WriteData updates the O->T producer buffer for the connection to peerIP.
func (m *Manager) WriteData(peerIP string, data []byte) error {
	conn := m.table.get(peerIP)
	if conn == nil {
		return fmt.Errorf("implicit: WriteData %s: %w", peerIP, cip.ErrNotFound)
	}
	return conn.WriteData(data)
}

// ReadOToTData copies the current O->T producer buffer for peerIP into buf,
// returning the number of bytes copied. It exists for tests and diagnostic
// tooling; the canonical T->O data path is the Open callback.
func (m *Manager) ReadOToTData(peerIP string, buf []byte) (int, error) {
	conn := m.table.get(peerIP)
	if conn == nil {
		return 0, fmt.Errorf("implicit: ReadOToTData %s: %w", peerIP, cip.ErrNotFound)
	}
	data := conn.ReadOToTData()
	n := copy(buf, data)
	return n, nil
}

// CloseAll tears down every open connection, best-effort, for use during
// Scanner shutdown.
func (m *Manager) CloseAll(timeout time.Duration) {
	m.table.mu.Lock()
	peers := make([]string, 0, len(m.table.byPeer))
	for ip := range m.table.byPeer {
		peers = append(peers, ip)
	}
	m.table.mu.Unlock()

	for _, ip := range peers {
		_ = m.Close(ip, timeout)
	}
}

// ensureSocket binds the shared UDP data socket and starts its dispatch
// loop on first use; later calls are no-ops while the table is non-empty.
func (m *Manager) ensureSocket() (*net.UDPConn, error) {
	m.sockMu.Lock()
	defer m.sockMu.Unlock()

	if m.udpConn != nil {
		return m.udpConn, nil
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", udpDataPort))
	if err != nil {
		return nil, fmt.Errorf("binding UDP data socket: %w", err)
	}
	conn := pc.(*net.UDPConn)
	m.udpConn = conn
	m.stop = make(chan struct{})
	go m.dispatchLoop(conn, m.stop)
	return conn, nil
}

func (m *Manager) closeSocket() {
	m.sockMu.Lock()
	defer m.sockMu.Unlock()

	if m.udpConn == nil {
		return
	}
	close(m.stop)
	_ = m.udpConn.Close()
	m.udpConn = nil
	m.stop = nil
}

// dispatchLoop is the consumer task shared by every open connection: it
// polls the socket at consumerPoll cadence, matches each datagram's source
// IP to a table entry, and hands it to that connection's handler.
func (m *Manager) dispatchLoop(conn *net.UDPConn, stop chan struct{}) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(consumerPoll))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue // deadline exceeded or transient; re-check stop and poll again
		}
		if src == nil {
			continue
		}

		target := m.table.get(src.IP.String())
		if target == nil {
			continue // no connection open to this source, drop
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if err := target.handleConsumerDatagram(data); err != nil {
			logging.DebugLog("Implicit", "consumer from %s: %v", src.IP, err)
		}
	}
}
