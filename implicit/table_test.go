package implicit

import "testing"

func TestTable_AddAndGet(t *testing.T) {
	tbl := newTable()
	c := &Connection{PeerIP: "10.0.0.1"}
	if err := tbl.add(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tbl.get("10.0.0.1"); got != c {
		t.Errorf("expected to get back the added connection")
	}
	if tbl.len() != 1 {
		t.Errorf("expected len 1, got %d", tbl.len())
	}
}

func TestTable_RejectsDuplicatePeer(t *testing.T) {
	tbl := newTable()
	if err := tbl.add(&Connection{PeerIP: "10.0.0.1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := tbl.add(&Connection{PeerIP: "10.0.0.1"})
	if err == nil {
		t.Fatal("expected error adding a second connection to the same peer")
	}
}

func TestTable_RejectsNinthConnection(t *testing.T) {
	tbl := newTable()
	for i := 0; i < maxConnections; i++ {
		ip := ipForIndex(i)
		if err := tbl.add(&Connection{PeerIP: ip}); err != nil {
			t.Fatalf("unexpected error adding connection %d: %v", i, err)
		}
	}
	if tbl.len() != maxConnections {
		t.Fatalf("expected %d connections, got %d", maxConnections, tbl.len())
	}
	err := tbl.add(&Connection{PeerIP: "10.0.0.99"})
	if err == nil {
		t.Fatal("expected error adding a 9th connection past the bound")
	}
}

func TestTable_RemoveFreesSlot(t *testing.T) {
	tbl := newTable()
	for i := 0; i < maxConnections; i++ {
		if err := tbl.add(&Connection{PeerIP: ipForIndex(i)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	tbl.remove(ipForIndex(0))
	if tbl.len() != maxConnections-1 {
		t.Fatalf("expected %d connections after remove, got %d", maxConnections-1, tbl.len())
	}
	if err := tbl.add(&Connection{PeerIP: "10.0.0.99"}); err != nil {
		t.Errorf("expected room for a new connection after remove: %v", err)
	}
}

func TestTable_GetMissingReturnsNil(t *testing.T) {
	tbl := newTable()
	if got := tbl.get("10.0.0.1"); got != nil {
		t.Errorf("expected nil for missing peer, got %v", got)
	}
}

func ipForIndex(i int) string {
	return "10.0.0." + string(rune('1'+i))
}
