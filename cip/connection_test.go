package cip

import (
	"encoding/binary"
	"testing"
)

func TestConnection_NextOToTSequence_Monotonic(t *testing.T) {
	c := &Connection{}
	first := c.NextOToTSequence()
	second := c.NextOToTSequence()
	if second != first+1 {
		t.Errorf("expected sequence to increment by 1, got %d then %d", first, second)
	}
}

func TestBuildForwardOpenRequest_Standard(t *testing.T) {
	cfg := ForwardOpenConfig{
		ConsumedInstance: 100,
		ProducedInstance: 101,
		ConsumedSize:     4,
		ProducedSize:     8,
		RPI_OToT:         10000,
		RPI_TToO:         10000,
		VendorID:         0xFADA,
		OriginatorSerial: 0x12345678,
		ConnectionSerial: 1,
	}
	raw, err := BuildForwardOpenRequest(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw[0] != SvcForwardOpen {
		t.Errorf("expected service 0x%02X, got 0x%02X", SvcForwardOpen, raw[0])
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty request")
	}
}

func TestBuildForwardOpenRequestLarge_UsesLargeService(t *testing.T) {
	cfg := ForwardOpenConfig{
		ConsumedInstance: 100,
		ProducedInstance: 101,
		ConsumedSize:     600,
		ProducedSize:     600,
		RPI_OToT:         10000,
		RPI_TToO:         10000,
	}
	raw, err := BuildForwardOpenRequestLarge(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw[0] != SvcForwardOpenLarge {
		t.Errorf("expected service 0x%02X, got 0x%02X", SvcForwardOpenLarge, raw[0])
	}
}

func TestBuildForwardOpenRequest_ExclusiveOwnerUsesGivenConnIDs(t *testing.T) {
	cfg := ForwardOpenConfig{
		ExclusiveOwner:   true,
		ConsumedInstance: 1,
		ProducedInstance: 2,
		ConsumedSize:     4,
		ProducedSize:     4,
		OTConnID:         0xAABBCCDD,
		TOConnID:         0x11223344,
	}
	raw, err := BuildForwardOpenRequest(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Service data begins after the 2-byte service/path-size header and the
	// 4-byte Connection Manager path; the two connection ids follow the
	// priority/time_tick and timeout_ticks bytes, at offsets 8 and 12.
	if len(raw) < 16 {
		t.Fatalf("request too short: %d bytes", len(raw))
	}
	if got := binary.LittleEndian.Uint32(raw[8:12]); got != 0xAABBCCDD {
		t.Errorf("expected O->T conn id 0xAABBCCDD, got 0x%08X", got)
	}
	if got := binary.LittleEndian.Uint32(raw[12:16]); got != 0x11223344 {
		t.Errorf("expected T->O conn id 0x11223344, got 0x%08X", got)
	}
}

func TestParseForwardOpenResponse_TooShort(t *testing.T) {
	_, err := ParseForwardOpenResponse(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for truncated Forward Open response")
	}
}

func TestParseForwardOpenResponse_FieldOrder(t *testing.T) {
	data := make([]byte, 26)
	// OTConnectionID
	data[0], data[1], data[2], data[3] = 0x01, 0x00, 0x00, 0x00
	// TOConnectionID
	data[4], data[5], data[6], data[7] = 0x02, 0x00, 0x00, 0x00
	// ConnectionSerial
	data[8], data[9] = 0x03, 0x00
	// VendorID
	data[10], data[11] = 0xDA, 0xFA
	resp, err := ParseForwardOpenResponse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OTConnectionID != 1 {
		t.Errorf("expected OTConnectionID=1, got %d", resp.OTConnectionID)
	}
	if resp.TOConnectionID != 2 {
		t.Errorf("expected TOConnectionID=2, got %d", resp.TOConnectionID)
	}
	if resp.ConnectionSerial != 3 {
		t.Errorf("expected ConnectionSerial=3, got %d", resp.ConnectionSerial)
	}
	if resp.VendorID != 0xFADA {
		t.Errorf("expected VendorID=0xFADA, got 0x%04X", resp.VendorID)
	}
}

func TestBuildForwardCloseRequest_NilConnection(t *testing.T) {
	_, err := BuildForwardCloseRequest(nil, 100, 101)
	if err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestBuildForwardCloseRequest_CarriesOriginalFields(t *testing.T) {
	conn := &Connection{
		SerialNumber: 42,
		VendorID:     0xFADA,
		OrigSerial:   0xDEADBEEF,
		PriorityTick: 0x2A,
		TimeoutTicks: 0x04,
	}
	raw, err := BuildForwardCloseRequest(conn, 100, 101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw[0] != SvcForwardClose {
		t.Errorf("expected service 0x%02X, got 0x%02X", SvcForwardClose, raw[0])
	}
	// Service data follows the 2-byte header and 4-byte Connection Manager path.
	if len(raw) < 16 {
		t.Fatalf("request too short: %d bytes", len(raw))
	}
	if raw[6] != 0x2A || raw[7] != 0x04 {
		t.Errorf("expected priority/tick 0x2A and timeout ticks 0x04, got 0x%02X 0x%02X", raw[6], raw[7])
	}
	if got := binary.LittleEndian.Uint16(raw[8:10]); got != 42 {
		t.Errorf("expected connection serial 42, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(raw[10:12]); got != 0xFADA {
		t.Errorf("expected vendor id 0xFADA, got 0x%04X", got)
	}
	if got := binary.LittleEndian.Uint32(raw[12:16]); got != 0xDEADBEEF {
		t.Errorf("expected originator serial 0xDEADBEEF, got 0x%08X", got)
	}
}
