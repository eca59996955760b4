package cip

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Connection Manager (Class 0x06) services.
const (
	SvcForwardOpen      byte = 0x54 // standard Forward Open, 16-bit connection parameters
	SvcForwardOpenLarge byte = 0x5B // large Forward Open, 32-bit connection parameters
	SvcForwardClose     byte = 0x4E

	ClassConnectionManager byte = 0x06
	InstanceConnManager    byte = 0x01
)

// Forward Open extended status codes.
const (
	ExtStatusConnectionFailure  uint16 = 0x0100
	ExtStatusOwnershipConflict  uint16 = 0x0106
	ExtStatusConnectionInUse    uint16 = 0x0107
	ExtStatusInvalidConnParams  uint16 = 0x0315
)

// Forward Close extended status codes.
const (
	ExtStatusConnectionNotFound uint16 = 0x0107
	ExtStatusWrongCloser        uint16 = 0xFFFF
)

// Network connection parameter bit fields, as laid out for a standard
// (16-bit) Forward Open; large Forward Open carries the same flags in the
// upper 16 bits of a 32-bit word and the size in the lower 16 bits.
const (
	ncpVariable     uint16 = 0x0200 // bit 9: variable-size transfer
	ncpPriorityHi   uint16 = 0x0400 // bits 10-11: scheduled priority
	ncpTypeP2P      uint16 = 0x4000 // bits 13-14: point-to-point
	ncpTypeMulti    uint16 = 0x2000 // bits 13-14: multicast
	ncpRedundant    uint16 = 0x8000 // bit 15: redundant owner
)

// Connection holds the state of one established CIP Class 1 connection,
// as returned by ForwardOpen and needed to build the matching ForwardClose
// and to frame cyclic I/O datagrams.
type Connection struct {
	OTConnID     uint32
	TOConnID     uint32
	SerialNumber uint16
	VendorID     uint16
	OrigSerial   uint32

	PriorityTick byte // must match between Open and Close
	TimeoutTicks byte

	seq uint32 // O->T sequence counter, atomic
}

// NextOToTSequence returns the next monotonically increasing sequence
// counter value for an O->T Sequenced Address item.
func (c *Connection) NextOToTSequence() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

// ForwardOpenConfig parameterizes a ForwardOpen request. One value is built
// per connection attempt; SizeOnly and FixedLength are flipped by the
// retry ladder on a 0x0315 (Invalid Connection Parameters) response.
type ForwardOpenConfig struct {
	ExclusiveOwner bool

	ConsumedInstance uint16 // O->T assembly instance
	ProducedInstance uint16 // T->O assembly instance
	ConsumedSize     int    // bytes, assembly_data_size_consumed
	ProducedSize     int    // bytes, assembly_data_size_produced

	RPI_OToT uint32 // microseconds
	RPI_TToO uint32 // microseconds

	VendorID         uint16
	OriginatorSerial uint32
	ConnectionSerial uint16

	OTConnID uint32 // ignored unless ExclusiveOwner; device assigns otherwise
	TOConnID uint32

	// SizeOnly selects "size only" payload-size accounting instead of the
	// default "size + overhead" (4-byte run/idle header + 2-byte CIP
	// sequence for O->T, CIP sequence only for T->O).
	SizeOnly bool
	// FixedLength selects fixed-length transfer instead of variable.
	FixedLength bool
}

// BuildForwardOpenRequest builds the CIP service data for a standard (0x54)
// Forward Open, wrapping it with the path to the Connection Manager. The
// returned bytes are a complete CIP request ready for SendRRData.
func BuildForwardOpenRequest(cfg ForwardOpenConfig) ([]byte, error) {
	return buildForwardOpen(cfg, false)
}

// BuildForwardOpenRequestLarge builds a Large Forward Open (0x5B) request,
// used when either connection size exceeds 511 bytes.
func BuildForwardOpenRequestLarge(cfg ForwardOpenConfig) ([]byte, error) {
	return buildForwardOpen(cfg, true)
}

func buildForwardOpen(cfg ForwardOpenConfig, large bool) ([]byte, error) {
	cmPath, err := EPath().Class(ClassConnectionManager).Instance(InstanceConnManager).Build()
	if err != nil {
		return nil, fmt.Errorf("ForwardOpen: building Connection Manager path: %w", err)
	}

	otConnID := cfg.OTConnID
	toConnID := cfg.TOConnID
	if !cfg.ExclusiveOwner {
		// Sentinel IDs; the target assigns real ones in the response.
		otConnID = 0xFFFF0016
		toConnID = 0xFFFF0017
	}

	data := make([]byte, 0, 40)
	data = append(data, 0x2A)      // priority/time_tick: Scheduled(2), tick_time=10
	data = append(data, 0x04)      // timeout_ticks
	data = binary.LittleEndian.AppendUint32(data, otConnID)
	data = binary.LittleEndian.AppendUint32(data, toConnID)
	data = binary.LittleEndian.AppendUint16(data, cfg.ConnectionSerial)
	data = binary.LittleEndian.AppendUint16(data, cfg.VendorID)
	data = binary.LittleEndian.AppendUint32(data, cfg.OriginatorSerial)
	data = append(data, 0x00, 0x00, 0x00, 0x00) // timeout multiplier (0) + 3 reserved bytes
	data = binary.LittleEndian.AppendUint32(data, cfg.RPI_OToT)

	otSize := cfg.ConsumedSize
	if !cfg.SizeOnly {
		otSize += 6 // 4-byte run/idle header + 2-byte CIP sequence
	}
	otParams := networkConnParams(otSize, true, cfg.FixedLength, large)
	data = appendConnParams(data, otParams, large)

	data = binary.LittleEndian.AppendUint32(data, cfg.RPI_TToO)

	toSize := cfg.ProducedSize
	if !cfg.SizeOnly {
		toSize += 2 // CIP sequence only; T->O is modeless
	}
	toParams := networkConnParams(toSize, cfg.ExclusiveOwner, cfg.FixedLength, large)
	data = appendConnParams(data, toParams, large)

	data = append(data, 0x01) // transport_class_and_trigger: Class 1, cyclic

	connPath, err := EPath().
		Class(0x04).
		ConnectionPoint(cfg.ConsumedInstance).
		ConnectionPoint(cfg.ProducedInstance).
		Build()
	if err != nil {
		return nil, fmt.Errorf("ForwardOpen: building connection path: %w", err)
	}
	data = append(data, connPath.WordLen())
	data = append(data, connPath...)

	svc := SvcForwardOpen
	if large {
		svc = SvcForwardOpenLarge
	}
	req := Request{Service: svc, Path: cmPath, Data: data}
	return req.Marshal(), nil
}

// networkConnParams encodes one side's network connection parameters.
// pointToPoint selects Point-to-Point over Multicast connection type.
func networkConnParams(size int, pointToPoint bool, fixedLength bool, large bool) uint32 {
	flags := uint32(ncpPriorityHi) | uint32(ncpRedundant)
	if !fixedLength {
		flags |= uint32(ncpVariable)
	}
	if pointToPoint {
		flags |= uint32(ncpTypeP2P)
	} else {
		flags |= uint32(ncpTypeMulti)
	}
	if large {
		return uint32(size&0xFFFF) | flags<<16
	}
	return uint32(size&0x1FF) | flags
}

func appendConnParams(data []byte, v uint32, large bool) []byte {
	if large {
		return binary.LittleEndian.AppendUint32(data, v)
	}
	return binary.LittleEndian.AppendUint16(data, uint16(v))
}

// ForwardOpenResponse is the parsed success reply to a Forward Open.
type ForwardOpenResponse struct {
	OTConnectionID   uint32
	TOConnectionID   uint32
	ConnectionSerial uint16
	VendorID         uint16
	OriginatorSerial uint32
	OTApiMicrosec    uint32
	TOApiMicrosec    uint32
}

// ParseForwardOpenResponse parses the CIP response data (after the
// service/status header) of a successful Forward Open.
func ParseForwardOpenResponse(data []byte) (*ForwardOpenResponse, error) {
	if len(data) < 26 {
		return nil, fmt.Errorf("ForwardOpen response too short: %d bytes", len(data))
	}
	return &ForwardOpenResponse{
		OTConnectionID:   binary.LittleEndian.Uint32(data[0:4]),
		TOConnectionID:   binary.LittleEndian.Uint32(data[4:8]),
		ConnectionSerial: binary.LittleEndian.Uint16(data[8:10]),
		VendorID:         binary.LittleEndian.Uint16(data[10:12]),
		OriginatorSerial: binary.LittleEndian.Uint32(data[12:16]),
		OTApiMicrosec:    binary.LittleEndian.Uint32(data[16:20]),
		TOApiMicrosec:    binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// BuildForwardCloseRequest builds a Forward Close (0x4E) CIP request. The
// priority/timeout fields and the serial/vendor/originator-serial triple
// must match the original Forward Open exactly, or the target rejects it.
func BuildForwardCloseRequest(conn *Connection, consumedInstance, producedInstance uint16) ([]byte, error) {
	if conn == nil {
		return nil, fmt.Errorf("ForwardClose: nil connection")
	}

	cmPath, err := EPath().Class(ClassConnectionManager).Instance(InstanceConnManager).Build()
	if err != nil {
		return nil, fmt.Errorf("ForwardClose: building Connection Manager path: %w", err)
	}

	connPath, err := EPath().
		Class(0x04).
		ConnectionPoint(consumedInstance).
		ConnectionPoint(producedInstance).
		Build()
	if err != nil {
		return nil, fmt.Errorf("ForwardClose: building connection path: %w", err)
	}

	data := make([]byte, 0, 12+len(connPath))
	data = append(data, conn.PriorityTick)
	data = append(data, conn.TimeoutTicks)
	data = binary.LittleEndian.AppendUint16(data, conn.SerialNumber)
	data = binary.LittleEndian.AppendUint16(data, conn.VendorID)
	data = binary.LittleEndian.AppendUint32(data, conn.OrigSerial)
	data = append(data, connPath.WordLen())
	data = append(data, 0x00) // reserved
	data = append(data, connPath...)

	req := Request{Service: SvcForwardClose, Path: cmPath, Data: data}
	return req.Marshal(), nil
}
