// Package assembly reads and writes CIP Assembly Object (Class 0x04)
// instance data over explicit messaging, and probes for live instances.
package assembly

import (
	"encoding/binary"
	"fmt"
	"time"

	"cipgate/cip"
	"cipgate/explicit"
)

const (
	Class           byte = 0x04
	AttrData        byte = 0x03
	AttrMaxInstance byte = 0x02

	svcGetAttributeSingle byte = 0x0E
	svcSetAttributeSingle byte = 0x10

	// typeTagOctetString is the leading type tag of an OCTET_STRING reply:
	// 0xDA followed by a big-endian u16 length, then the raw bytes.
	typeTagOctetString byte = 0xDA
)

// ReadResult is the outcome of reading one assembly instance's data.
type ReadResult struct {
	PeerIP       string
	Instance     uint16
	Success      bool
	Data         []byte
	ResponseTime float64 // milliseconds
	Err          string
}

// Read performs Get_Attribute_Single on Assembly Object, attribute 3
// (Data), for the given instance.
func Read(ip string, instance uint16, timeout time.Duration) (*ReadResult, error) {
	start := time.Now()

	path, err := assemblyPath(instance, AttrData)
	if err != nil {
		return nil, fmt.Errorf("assembly: building path: %w", err)
	}

	resp, err := explicit.Do(ip, timeout, cip.Request{Service: svcGetAttributeSingle, Path: path})
	elapsed := time.Since(start).Seconds() * 1000
	if err != nil {
		return &ReadResult{PeerIP: ip, Instance: instance, ResponseTime: elapsed, Err: err.Error()}, err
	}
	if cerr := resp.Err(); cerr != nil {
		return &ReadResult{PeerIP: ip, Instance: instance, ResponseTime: elapsed, Err: cerr.Error()}, cerr
	}

	data := unwrapOctetString(resp.Data)
	return &ReadResult{
		PeerIP:       ip,
		Instance:     instance,
		Success:      true,
		Data:         data,
		ResponseTime: elapsed,
	}, nil
}

// unwrapOctetString strips the OCTET_STRING type tag (0xDA) and big-endian
// u16 length some devices wrap assembly data in, returning a copy of the
// inner bytes. Data with no recognizable OCTET_STRING header is copied
// through unchanged.
func unwrapOctetString(raw []byte) []byte {
	if len(raw) >= 3 && raw[0] == typeTagOctetString {
		length := int(binary.BigEndian.Uint16(raw[1:3]))
		if length <= len(raw)-3 {
			data := make([]byte, length)
			copy(data, raw[3:3+length])
			return data
		}
	}
	data := make([]byte, len(raw))
	copy(data, raw)
	return data
}

// Write performs Set_Attribute_Single on Assembly Object, attribute 3
// (Data), for the given instance.
func Write(ip string, instance uint16, data []byte, timeout time.Duration) error {
	path, err := assemblyPath(instance, AttrData)
	if err != nil {
		return fmt.Errorf("assembly: building path: %w", err)
	}

	resp, err := explicit.Do(ip, timeout, cip.Request{Service: svcSetAttributeSingle, Path: path, Data: data})
	if err != nil {
		return err
	}
	return resp.Err()
}

// assemblyPath builds Class(0x04), Instance(instance), Attribute(attr),
// using the 8-bit instance segment when it fits (matching the wire form
// devices with ≤255 assemblies expect) and 16-bit otherwise.
func assemblyPath(instance uint16, attr byte) (cip.EPath_t, error) {
	b := cip.EPath().Class(Class)
	if instance <= 0xFF {
		b = b.Instance(byte(instance))
	} else {
		b = b.Instance16(instance)
	}
	return b.Attribute(attr).Build()
}

// maxDiscoverInstance is the largest Max Instance value Discover treats as
// plausible; a larger reported value falls back to defaultProbeInstances.
const maxDiscoverInstance = 256

// defaultProbeInstances are common Assembly instance numbers used by
// Allen-Bradley and third-party Class 1 adapters, tried when a device
// doesn't expose a discoverable Max Instance attribute.
var defaultProbeInstances = []uint16{100, 101, 102, 150, 151, 152, 20, 21, 22, 1, 2, 3, 4, 5}

// Discover first reads Assembly Class(4)/Instance(0)/Attribute(2), the Max
// Instance attribute. If that yields a plausible count (≤ 256) it probes
// every instance 1..Max; otherwise it falls back to the fixed candidate
// list used by devices that don't implement instance 0. Returns the
// instances that respond successfully to Get_Attribute_Single.
func Discover(ip string, timeout time.Duration) ([]uint16, error) {
	candidates := defaultProbeInstances
	if max, err := readMaxInstance(ip, timeout); err == nil && max > 0 && max <= maxDiscoverInstance {
		candidates = make([]uint16, max)
		for i := range candidates {
			candidates[i] = uint16(i + 1)
		}
	}

	var found []uint16
	for _, inst := range candidates {
		result, err := Read(ip, inst, timeout)
		if err == nil && result.Success {
			found = append(found, inst)
		}
	}
	return found, nil
}

// readMaxInstance performs Get_Attribute_Single on Assembly Object,
// Instance 0, Attribute 2 (Max Instance), returning the reported count.
func readMaxInstance(ip string, timeout time.Duration) (uint16, error) {
	path, err := assemblyPath(0, AttrMaxInstance)
	if err != nil {
		return 0, fmt.Errorf("assembly: building max instance path: %w", err)
	}
	resp, err := explicit.Do(ip, timeout, cip.Request{Service: svcGetAttributeSingle, Path: path})
	if err != nil {
		return 0, err
	}
	if cerr := resp.Err(); cerr != nil {
		return 0, cerr
	}
	if len(resp.Data) < 2 {
		return 0, fmt.Errorf("assembly: max instance response too short")
	}
	return binary.LittleEndian.Uint16(resp.Data), nil
}
