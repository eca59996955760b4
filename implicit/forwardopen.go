package implicit

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"cipgate/cip"
	"cipgate/explicit"
	"cipgate/logging"
)

// connIDCounter and connIDMu back the originator's sequential connection-id
// generator used when the caller asks to own the connection exclusively
// (exclusive_owner=true); the device assigns real ids otherwise.
var (
	connIDCounter uint32 = 0x2000_0000
	connIDMu      sync.Mutex
)

func nextConnID() uint32 {
	connIDMu.Lock()
	defer connIDMu.Unlock()
	connIDCounter += 2
	return connIDCounter
}

// OpenOptions describes one Forward Open attempt.
type OpenOptions struct {
	PeerIP           string
	ExclusiveOwner   bool
	ConsumedInstance uint16
	ProducedInstance uint16
	ConsumedSize     int
	ProducedSize     int
	RPI              time.Duration
	VendorID         uint16
	Timeout          time.Duration
}

// ForwardOpenFailedError reports a Forward Open that exhausted its retry
// ladder. Status/Extended mirror the final attempt's CIP response.
type ForwardOpenFailedError struct {
	Status   byte
	Extended []uint16
}

func (e *ForwardOpenFailedError) Error() string {
	return fmt.Sprintf("forward open failed: status 0x%02X, extended %04X", e.Status, e.Extended)
}

func (e *ForwardOpenFailedError) Unwrap() error { return cip.ErrForwardOpenFailed }

// forwardOpen performs the Forward Open, retrying per the invalid
// connection parameters (0x0315) ladder: first with size-only payload
// accounting, then also with fixed-length framing. No other retries.
func forwardOpen(cfg OpenOptions) (*cip.Connection, *cip.ForwardOpenResponse, error) {
	rpiUs := uint32(cfg.RPI.Microseconds())

	fo := cip.ForwardOpenConfig{
		ExclusiveOwner:   cfg.ExclusiveOwner,
		ConsumedInstance: cfg.ConsumedInstance,
		ProducedInstance: cfg.ProducedInstance,
		ConsumedSize:     cfg.ConsumedSize,
		ProducedSize:     cfg.ProducedSize,
		RPI_OToT:         rpiUs,
		RPI_TToO:         rpiUs,
		VendorID:         cfg.VendorID,
		OriginatorSerial: rand.Uint32(),
		ConnectionSerial: uint16(rand.Uint32()),
	}
	if cfg.ExclusiveOwner {
		fo.OTConnID = nextConnID()
		fo.TOConnID = nextConnID()
	}

	resp, cerr, err := attemptForwardOpen(cfg, fo)
	if err == nil {
		return buildConnection(fo, resp), resp, nil
	}
	if !invalidConnParams(cerr) {
		return nil, nil, err
	}

	logging.DebugLog("Implicit", "ForwardOpen to %s: 0x0315, retrying with size-only accounting", cfg.PeerIP)
	fo.SizeOnly = true
	resp, cerr, err = attemptForwardOpen(cfg, fo)
	if err == nil {
		return buildConnection(fo, resp), resp, nil
	}
	if !invalidConnParams(cerr) {
		return nil, nil, err
	}

	logging.DebugLog("Implicit", "ForwardOpen to %s: 0x0315, retrying with fixed-length framing", cfg.PeerIP)
	fo.FixedLength = true
	resp, cerr, err = attemptForwardOpen(cfg, fo)
	if err != nil {
		if cerr != nil {
			return nil, nil, &ForwardOpenFailedError{Status: cerr.Status, Extended: cerr.Extended}
		}
		return nil, nil, err
	}
	return buildConnection(fo, resp), resp, nil
}

// attemptForwardOpen sends one Forward Open and returns the parsed success
// response, or the CIP error (if any) alongside the wrapped error.
func attemptForwardOpen(cfg OpenOptions, fo cip.ForwardOpenConfig) (*cip.ForwardOpenResponse, *cip.Error, error) {
	large := cfg.ConsumedSize > 511 || cfg.ProducedSize > 511
	var raw []byte
	var err error
	if large {
		raw, err = cip.BuildForwardOpenRequestLarge(fo)
	} else {
		raw, err = cip.BuildForwardOpenRequest(fo)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("implicit: building ForwardOpen request: %w", err)
	}

	resp, err := explicit.DoRaw(cfg.PeerIP, cfg.Timeout, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("implicit: ForwardOpen to %s: %w", cfg.PeerIP, err)
	}
	if cerr := resp.Err(); cerr != nil {
		var ce *cip.Error
		errors.As(cerr, &ce)
		return nil, ce, cerr
	}

	parsed, err := cip.ParseForwardOpenResponse(resp.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("implicit: parsing ForwardOpen response from %s: %w", cfg.PeerIP, err)
	}
	return parsed, nil, nil
}

func invalidConnParams(cerr *cip.Error) bool {
	if cerr == nil {
		return false
	}
	for _, ext := range cerr.Extended {
		if ext == cip.ExtStatusInvalidConnParams {
			return true
		}
	}
	return false
}

// buildConnection adopts the target-assigned connection ids (the
// originator MUST use these, not the ones it sent) and carries forward the
// fields a later Forward Close must reproduce exactly.
func buildConnection(fo cip.ForwardOpenConfig, resp *cip.ForwardOpenResponse) *cip.Connection {
	return &cip.Connection{
		OTConnID:     resp.OTConnectionID,
		TOConnID:     resp.TOConnectionID,
		SerialNumber: resp.ConnectionSerial,
		VendorID:     resp.VendorID,
		OrigSerial:   resp.OriginatorSerial,
		PriorityTick: 0x2A,
		TimeoutTicks: 0x04,
	}
}

// forwardClose sends a Forward Close and returns nil only on a matching
// success reply (service 0xCE, general_status 0).
func forwardClose(peerIP string, conn *cip.Connection, consumedInstance, producedInstance uint16, timeout time.Duration) error {
	raw, err := cip.BuildForwardCloseRequest(conn, consumedInstance, producedInstance)
	if err != nil {
		return fmt.Errorf("implicit: building ForwardClose request: %w", err)
	}
	resp, err := explicit.DoRaw(peerIP, timeout, raw)
	if err != nil {
		return fmt.Errorf("implicit: ForwardClose to %s: %w", peerIP, err)
	}
	if resp.ReplyService != 0xCE {
		return fmt.Errorf("implicit: ForwardClose to %s: %w: unexpected reply service 0x%02X", peerIP, cip.ErrProtocol, resp.ReplyService)
	}
	return resp.Err()
}
