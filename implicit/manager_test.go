package implicit

import (
	"errors"
	"testing"
	"time"

	"cipgate/cip"
)

func TestManager_WriteData_NotFound(t *testing.T) {
	m := NewManager()
	err := m.WriteData("10.0.0.1", []byte{1, 2})
	if !errors.Is(err, cip.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ReadOToTData_NotFound(t *testing.T) {
	m := NewManager()
	_, err := m.ReadOToTData("10.0.0.1", make([]byte, 4))
	if !errors.Is(err, cip.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_Close_NotFound(t *testing.T) {
	m := NewManager()
	err := m.Close("10.0.0.1", 100*time.Millisecond)
	if !errors.Is(err, cip.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_Open_FailsWithoutDevice(t *testing.T) {
	m := NewManager()
	opts := OpenOptions{
		PeerIP:           "127.0.0.1",
		ConsumedInstance: 100,
		ProducedInstance: 101,
		ConsumedSize:     4,
		ProducedSize:     4,
		RPI:              50 * time.Millisecond,
		Timeout:          300 * time.Millisecond,
	}
	err := m.Open(opts, nil, nil)
	if err == nil {
		t.Fatal("expected error opening a connection to an unreachable peer")
	}
	if m.table.len() != 0 {
		t.Errorf("expected no connection registered on failed Open, got %d", m.table.len())
	}
}

func TestManager_Open_RejectsSecondConnectionToSamePeer(t *testing.T) {
	m := NewManager()
	m.table.byPeer = map[string]*Connection{"10.0.0.1": {PeerIP: "10.0.0.1"}}

	opts := OpenOptions{PeerIP: "10.0.0.1", RPI: 50 * time.Millisecond}
	err := m.Open(opts, nil, nil)
	if !errors.Is(err, cip.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestManager_Open_RejectsWhenTableFull(t *testing.T) {
	m := NewManager()
	m.table.byPeer = make(map[string]*Connection, maxConnections)
	for i := 0; i < maxConnections; i++ {
		ip := ipForIndex(i)
		m.table.byPeer[ip] = &Connection{PeerIP: ip}
	}

	opts := OpenOptions{PeerIP: "10.0.0.99", RPI: 50 * time.Millisecond}
	err := m.Open(opts, nil, nil)
	if !errors.Is(err, cip.ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestManager_CloseAll_EmptyManagerIsNoop(t *testing.T) {
	m := NewManager()
	m.CloseAll(100 * time.Millisecond) // must not panic or block on an empty table
	if m.table.len() != 0 {
		t.Errorf("expected empty table to remain empty, got %d", m.table.len())
	}
}
