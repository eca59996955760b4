package implicit

import (
	"encoding/binary"
	"testing"

	"cipgate/cip"
	"cipgate/eip"
)

func TestConnection_WriteData_CopiesAndZeroPads(t *testing.T) {
	c := &Connection{ConsumedSize: 4, otBuf: make([]byte, 4)}
	if err := c.WriteData([]byte{1, 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := c.ReadOToTData()
	want := []byte{1, 2, 0, 0}
	if string(got) != string(want) {
		t.Errorf("got % X, want % X", got, want)
	}
}

func TestConnection_WriteData_RejectsOversized(t *testing.T) {
	c := &Connection{ConsumedSize: 2, otBuf: make([]byte, 2)}
	err := c.WriteData([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for data exceeding consumed size")
	}
}

func TestConnection_WriteData_NilConnection(t *testing.T) {
	var c *Connection
	err := c.WriteData([]byte{1})
	if err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestConnection_HandleConsumerDatagram_DeliversToCallback(t *testing.T) {
	var gotIP string
	var gotInstance uint16
	var gotData []byte

	c := &Connection{
		PeerIP:           "10.0.0.1",
		ProducedInstance: 101,
		ProducedSize:     4,
		cip:              &cip.Connection{TOConnID: 0xAABBCCDD},
		callback: func(peerIP string, inst uint16, data []byte, userData interface{}) {
			gotIP = peerIP
			gotInstance = inst
			gotData = append([]byte{}, data...)
		},
	}

	addrData := binary.LittleEndian.AppendUint32(nil, c.cip.TOConnID)
	seqAndPayload := binary.LittleEndian.AppendUint16(nil, 1) // CIP sequence
	seqAndPayload = append(seqAndPayload, []byte{0xDE, 0xAD, 0xBE, 0xEF}...)

	packet := eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfSequencedAddressId, Length: uint16(len(addrData)), Data: addrData},
			{TypeId: eip.CpfConnectedTransportPacketId, Length: uint16(len(seqAndPayload)), Data: seqAndPayload},
		},
	}

	if err := c.handleConsumerDatagram(packet.Bytes()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotIP != "10.0.0.1" {
		t.Errorf("expected callback peer IP 10.0.0.1, got %s", gotIP)
	}
	if gotInstance != 101 {
		t.Errorf("expected callback instance 101, got %d", gotInstance)
	}
	if string(gotData) != "\xDE\xAD\xBE\xEF" {
		t.Errorf("expected CIP sequence stripped, got % X", gotData)
	}
}

func TestConnection_HandleConsumerDatagram_MismatchedConnIDDropped(t *testing.T) {
	called := false
	c := &Connection{
		PeerIP:           "10.0.0.1",
		ProducedInstance: 101,
		ProducedSize:     4,
		cip:              &cip.Connection{TOConnID: 0xAABBCCDD},
		callback: func(peerIP string, inst uint16, data []byte, userData interface{}) {
			called = true
		},
	}

	addrData := binary.LittleEndian.AppendUint32(nil, 0x11111111) // wrong conn id
	packet := eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfSequencedAddressId, Length: uint16(len(addrData)), Data: addrData},
			{TypeId: eip.CpfConnectedTransportPacketId, Length: 4, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		},
	}

	if err := c.handleConsumerDatagram(packet.Bytes()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected callback not to be invoked for mismatched connection id")
	}
}
