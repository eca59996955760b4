// Package explicit implements the unconnected explicit-messaging request
// engine: open a fresh TCP session, register, send one SendRRData-wrapped
// CIP request, parse the reply, and always tear the session down again.
package explicit

import (
	"fmt"
	"time"

	"cipgate/cip"
	"cipgate/eip"
)

// Do issues a single unconnected CIP request to ip:44818 and returns its
// parsed response. The TCP socket and session are torn down on every
// return path, including errors, per the session manager's lifecycle.
func Do(ip string, timeout time.Duration, req cip.Request) (*cip.Response, error) {
	return DoRaw(ip, timeout, req.Marshal())
}

// DoRaw is the same as Do but takes an already-marshaled CIP request, for
// callers (the Forward Open engine) that build the request bytes
// themselves because the service data isn't a plain path+data request.
func DoRaw(ip string, timeout time.Duration, raw []byte) (*cip.Response, error) {
	client := eip.NewEipClient(ip)
	_ = client.SetTimeout(timeout)

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("explicit: connect %s: %w", ip, err)
	}
	defer client.Disconnect()

	packet := eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfAddressNullId, Length: 0},
			{TypeId: eip.CpfUnconnectedMessageId, Length: uint16(len(raw)), Data: raw},
		},
	}

	respPacket, err := client.SendRRData(packet)
	if err != nil {
		return nil, fmt.Errorf("explicit: SendRRData to %s: %w", ip, err)
	}

	for _, item := range respPacket.Items {
		if item.TypeId == eip.CpfUnconnectedMessageId {
			resp, err := cip.ParseResponse(item.Data)
			if err != nil {
				return nil, fmt.Errorf("explicit: parsing CIP response from %s: %w", ip, err)
			}
			return resp, nil
		}
	}
	return nil, fmt.Errorf("explicit: %s: %w: no Unconnected Data item in reply", ip, cip.ErrProtocol)
}
