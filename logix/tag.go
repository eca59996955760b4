// Package logix implements Allen-Bradley symbolic tag access (Read_Tag,
// Write_Tag) and the CIP primitive type/value codec those services carry.
package logix

import (
	"encoding/binary"
	"fmt"
	"time"

	"cipgate/cip"
	"cipgate/explicit"
)

// ReadTag performs a Read_Tag (0x4C) request for a single element of the
// symbolic tag at path, e.g. "Counter" or "Program:MainProgram.Tag[2]".
func ReadTag(ip, path string, timeout time.Duration) (*TagReadResult, error) {
	start := time.Now()

	epath, err := cip.EPath().Symbol(path).Build()
	if err != nil {
		return nil, fmt.Errorf("logix: building tag path %q: %w", path, err)
	}

	reqData := binary.LittleEndian.AppendUint16(nil, 1) // element_count = 1

	resp, err := explicit.Do(ip, timeout, cip.Request{Service: SvcReadTag, Path: epath, Data: reqData})
	elapsed := time.Since(start).Seconds() * 1000
	if err != nil {
		return &TagReadResult{PeerIP: ip, Path: path, ResponseTime: elapsed, Err: err.Error()}, err
	}
	if cerr := resp.Err(); cerr != nil {
		return &TagReadResult{PeerIP: ip, Path: path, ResponseTime: elapsed, Err: cerr.Error()}, cerr
	}
	if len(resp.Data) < 2 {
		return nil, fmt.Errorf("logix: ReadTag %s: %w: response data too short for cip_type", path, cip.ErrProtocol)
	}

	dataType := binary.LittleEndian.Uint16(resp.Data[:2])
	value := make([]byte, len(resp.Data)-2)
	copy(value, resp.Data[2:])

	return &TagReadResult{
		PeerIP:       ip,
		Path:         path,
		Success:      true,
		Bytes:        value,
		DataType:     dataType,
		ResponseTime: elapsed,
	}, nil
}

// WriteTag performs a Write_Tag (0x4D) request, writing one element of the
// given CIP type to the symbolic tag at path.
func WriteTag(ip, path string, dataType uint16, value []byte, timeout time.Duration) error {
	epath, err := cip.EPath().Symbol(path).Build()
	if err != nil {
		return fmt.Errorf("logix: building tag path %q: %w", path, err)
	}

	reqData := binary.LittleEndian.AppendUint16(nil, dataType)
	reqData = binary.LittleEndian.AppendUint16(reqData, 1) // element_count = 1
	reqData = append(reqData, value...)

	resp, err := explicit.Do(ip, timeout, cip.Request{Service: SvcWriteTag, Path: epath, Data: reqData})
	if err != nil {
		return err
	}
	return resp.Err()
}
