package discovery

import (
	"testing"
	"time"
)

// TestScanDevices_NoReplies verifies ScanDevices returns an empty, non-nil
// slice and no error when the timeout elapses without any ListIdentity
// replies - the common case on a segment with no EtherNet/IP devices.
func TestScanDevices_NoReplies(t *testing.T) {
	devices, err := ScanDevices("127.0.0.1", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if devices == nil {
		t.Error("expected non-nil empty slice, got nil")
	}
	if len(devices) != 0 {
		t.Errorf("expected no devices on loopback, got %d", len(devices))
	}
}

// TestScanDevices_InvalidBroadcastIP verifies a malformed address is
// rejected before any socket is opened.
func TestScanDevices_InvalidBroadcastIP(t *testing.T) {
	_, err := ScanDevices("not-an-ip", 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected error for invalid broadcast address")
	}
}

// TestScanDevices_RejectsIPv6 verifies an IPv6 literal is rejected since
// ListIdentity broadcast is IPv4-only.
func TestScanDevices_RejectsIPv6(t *testing.T) {
	_, err := ScanDevices("::1", 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected error for IPv6 broadcast address")
	}
}
