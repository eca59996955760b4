// Package discovery broadcasts ListIdentity requests to find EtherNet/IP
// devices on the local network.
package discovery

import (
	"fmt"
	"time"

	"cipgate/eip"
)

// DeviceInfo is one device's response to a ListIdentity broadcast.
type DeviceInfo struct {
	IP           string
	VendorID     uint16
	DeviceType   uint16
	ProductCode  uint16
	RevisionMajor byte
	RevisionMinor byte
	Status       uint16
	SerialNumber uint32
	ProductName  string
	ResponseMs   float64
}

// ScanDevices broadcasts a ListIdentity request to broadcastIP:44818 and
// collects replies for up to timeout. broadcastIP is a directed broadcast
// address, e.g. "192.168.1.255", or "255.255.255.255".
func ScanDevices(broadcastIP string, timeout time.Duration) ([]DeviceInfo, error) {
	start := time.Now()

	client := eip.NewEipClient(broadcastIP)
	idents, err := client.ListIdentityUDP(broadcastIP, timeout)
	if err != nil {
		return nil, fmt.Errorf("discovery: ScanDevices: %w", err)
	}

	elapsed := time.Since(start).Seconds() * 1000
	out := make([]DeviceInfo, 0, len(idents))
	for _, id := range idents {
		name := id.ProductName
		if len(name) > 32 {
			name = name[:32]
		}
		out = append(out, DeviceInfo{
			IP:            id.IP.String(),
			VendorID:      id.VendorID,
			DeviceType:    id.DeviceType,
			ProductCode:   id.ProductCode,
			RevisionMajor: id.RevisionMajor,
			RevisionMinor: id.RevisionMinor,
			Status:        id.Status,
			SerialNumber:  id.SerialNumber,
			ProductName:   name,
			ResponseMs:    elapsed,
		})
	}
	return out, nil
}
