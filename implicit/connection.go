// Package implicit implements the originator side of Class 1 cyclic I/O:
// Forward Open/Forward Close connection setup and the cooperating tasks
// (producer, watchdog, and the manager's shared consumer dispatch) that
// drive a connection's UDP traffic once established.
package implicit

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"cipgate/cip"
	"cipgate/eip"
	"cipgate/logging"
)

// State is an ImplicitConnection's lifecycle stage.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

const (
	udpDataPort      = 2222
	producerCap      = 1000 * time.Millisecond
	consumerPoll     = 10 * time.Millisecond
	watchdogPoll     = 100 * time.Millisecond
	watchdogMinimum  = 10 * time.Second
	forwardCloseWait = 5 * time.Second
	taskDrainWait    = 300 * time.Millisecond
)

// Callback receives a produced (T->O) data update. data is borrowed: it is
// only valid for the duration of the call and must be copied by callers
// that need to retain it.
type Callback func(peerIP string, producedInstance uint16, data []byte, userData interface{})

// Connection is one open Class 1 cyclic connection to a peer. All
// connections on a Manager share one UDP socket on port 2222; a
// Connection only knows how to send on it and how to handle a datagram
// the manager's dispatcher has already matched to it by peer IP.
type Connection struct {
	PeerIP           string
	ExclusiveOwner   bool
	ConsumedInstance uint16
	ProducedInstance uint16
	ConsumedSize     int
	ProducedSize     int
	RPI              time.Duration

	cip *cip.Connection

	state        atomic.Int32
	valid        atomic.Bool
	lastPacketNs atomic.Int64
	dropLogged   atomic.Int32

	otMu  sync.Mutex
	otBuf []byte // O->T producer payload, written by WriteData

	udpConn *net.UDPConn // shared with the owning Manager, not closed here

	callback Callback
	userData interface{}

	wg sync.WaitGroup
}

// newConnection performs the Forward Open and starts the producer and
// watchdog tasks. The caller (Manager) owns the shared UDP socket and the
// consumer dispatch loop.
func newConnection(opts OpenOptions, cb Callback, userData interface{}, udpConn *net.UDPConn) (*Connection, error) {
	if opts.PeerIP == "" {
		return nil, fmt.Errorf("implicit: Open: %w: peer IP required", cip.ErrInvalidArgument)
	}
	if opts.RPI < 10*time.Millisecond || opts.RPI > 10*time.Second {
		return nil, fmt.Errorf("implicit: Open: %w: RPI must be between 10ms and 10s", cip.ErrInvalidArgument)
	}
	if opts.VendorID == 0 {
		opts.VendorID = 0xFADA
	}

	otConn, _, err := forwardOpen(opts)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		PeerIP:           opts.PeerIP,
		ExclusiveOwner:   opts.ExclusiveOwner,
		ConsumedInstance: opts.ConsumedInstance,
		ProducedInstance: opts.ProducedInstance,
		ConsumedSize:     opts.ConsumedSize,
		ProducedSize:     opts.ProducedSize,
		RPI:              opts.RPI,
		cip:              otConn,
		udpConn:          udpConn,
		otBuf:            make([]byte, opts.ConsumedSize),
		callback:         cb,
		userData:         userData,
	}
	c.valid.Store(true)
	c.state.Store(int32(StateOpen))
	c.lastPacketNs.Store(time.Now().UnixNano())

	c.wg.Add(2)
	go c.producerLoop()
	go c.watchdogLoop()

	logging.DebugLog("Implicit", "opened connection to %s: O->T=%d(%dB) T->O=%d(%dB) RPI=%s",
		opts.PeerIP, opts.ConsumedInstance, opts.ConsumedSize, opts.ProducedInstance, opts.ProducedSize, opts.RPI)

	return c, nil
}

// WriteData copies data into the producer's O->T buffer under its mutex.
// It is picked up by the next producer tick; there is no immediate send.
func (c *Connection) WriteData(data []byte) error {
	if c == nil {
		return fmt.Errorf("implicit: WriteData: %w", cip.ErrNotInitialized)
	}
	if len(data) > c.ConsumedSize {
		return fmt.Errorf("implicit: WriteData: %w: %d bytes exceeds consumed size %d", cip.ErrInvalidArgument, len(data), c.ConsumedSize)
	}
	c.otMu.Lock()
	defer c.otMu.Unlock()
	for i := range c.otBuf {
		c.otBuf[i] = 0
	}
	copy(c.otBuf, data)
	return nil
}

// ReadOToTData is a test/diagnostic accessor for the current O->T buffer.
func (c *Connection) ReadOToTData() []byte {
	c.otMu.Lock()
	defer c.otMu.Unlock()
	out := make([]byte, len(c.otBuf))
	copy(out, c.otBuf)
	return out
}

// close performs the shutdown discipline: Forward Close while the producer
// is still running, then flip valid, let tasks self-terminate. It does not
// touch the shared UDP socket; the Manager closes that once the table goes
// empty.
func (c *Connection) close(timeout time.Duration) error {
	if c == nil {
		return fmt.Errorf("implicit: Close: %w", cip.ErrNotInitialized)
	}
	c.state.Store(int32(StateClosing))

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- forwardClose(c.PeerIP, c.cip, c.ConsumedInstance, c.ProducedInstance, timeout)
	}()

	var closeErr error
	select {
	case closeErr = <-closeDone:
	case <-time.After(forwardCloseWait):
		closeErr = fmt.Errorf("implicit: ForwardClose to %s: %w", c.PeerIP, cip.ErrTimeout)
	}

	c.valid.Store(false)
	time.Sleep(taskDrainWait)
	c.wg.Wait()
	c.state.Store(int32(StateClosed))

	if closeErr != nil {
		// The device's own watchdog is still counting down on a connection
		// it believes is live; releasing the port before that elapses
		// collides with inbound datagrams from the still-alive connection.
		wait := 16*c.RPI + 10*time.Second
		if wait < 13*time.Second {
			wait = 13 * time.Second
		}
		logging.DebugLog("Implicit", "ForwardClose to %s failed (%v), waiting %s before port reuse", c.PeerIP, closeErr, wait)
		time.Sleep(wait)
		return closeErr
	}
	return nil
}

// producerLoop sends one O->T datagram per RPI tick, capped at 1 Hz
// minimum to satisfy device-side watchdogs even when RPI exceeds 1s.
func (c *Connection) producerLoop() {
	defer c.wg.Done()

	interval := c.RPI
	if interval > producerCap {
		interval = producerCap
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for c.valid.Load() {
		<-ticker.C
		if !c.valid.Load() {
			return
		}
		if err := c.sendProducerDatagram(); err != nil {
			logging.DebugLog("Implicit", "producer to %s: %v", c.PeerIP, err)
			continue
		}
		c.lastPacketNs.Store(time.Now().UnixNano())
	}
}

func (c *Connection) sendProducerDatagram() error {
	seq := c.cip.NextOToTSequence()

	c.otMu.Lock()
	payload := make([]byte, len(c.otBuf))
	copy(payload, c.otBuf)
	c.otMu.Unlock()

	addrData := binary.LittleEndian.AppendUint32(nil, c.cip.OTConnID)
	addrData = binary.LittleEndian.AppendUint32(addrData, seq)

	dataItem := binary.LittleEndian.AppendUint16(nil, uint16(seq)) // CIP sequence, low 16 bits
	dataItem = binary.LittleEndian.AppendUint32(dataItem, 1)       // run/idle header: Run
	dataItem = append(dataItem, payload...)

	packet := eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfSequencedAddressId, Length: uint16(len(addrData)), Data: addrData},
			{TypeId: eip.CpfConnectedTransportPacketId, Length: uint16(len(dataItem)), Data: dataItem},
		},
	}

	raddr := &net.UDPAddr{IP: net.ParseIP(c.PeerIP), Port: udpDataPort}
	_, err := c.udpConn.WriteToUDP(packet.Bytes(), raddr)
	return err
}

// handleConsumerDatagram is invoked by the Manager's shared dispatch loop
// for every datagram whose source IP matched this connection's peer.
func (c *Connection) handleConsumerDatagram(raw []byte) error {
	packet, err := eip.ParseEipCommonPacket(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed CPF: %v", cip.ErrProtocol, err)
	}

	var addrOK bool
	var connData []byte
	for _, item := range packet.Items {
		switch item.TypeId {
		case eip.CpfSequencedAddressId, eip.CpfAddressConnectionId:
			if len(item.Data) < 4 {
				continue
			}
			connID := binary.LittleEndian.Uint32(item.Data[:4])
			if connID == c.cip.TOConnID {
				addrOK = true
			}
		case eip.CpfConnectedTransportPacketId:
			connData = item.Data
		}
	}
	if !addrOK {
		if c.dropLogged.Add(1)%100 == 1 {
			logging.DebugLog("Implicit", "datagram from %s: address id does not match assigned T->O id, dropped", c.PeerIP)
		}
		return nil
	}
	if connData == nil {
		return fmt.Errorf("%w: no Connected Data item", cip.ErrProtocol)
	}

	payload := connData
	if len(connData) == c.ProducedSize+2 {
		payload = connData[2:] // strip leading CIP sequence
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	c.lastPacketNs.Store(time.Now().UnixNano())
	if c.callback != nil {
		c.callback(c.PeerIP, c.ProducedInstance, data, c.userData)
	}
	return nil
}

// watchdogLoop flips valid=false when no packet (O->T send or T->O
// receipt) has landed within max(20*RPI, 10s).
func (c *Connection) watchdogLoop() {
	defer c.wg.Done()

	timeout := 20 * c.RPI
	if timeout < watchdogMinimum {
		timeout = watchdogMinimum
	}

	ticker := time.NewTicker(watchdogPoll)
	defer ticker.Stop()

	for c.valid.Load() {
		<-ticker.C
		if !c.valid.Load() {
			return
		}
		last := time.Unix(0, c.lastPacketNs.Load())
		if time.Since(last) > timeout {
			logging.DebugLog("Implicit", "watchdog timeout on connection to %s", c.PeerIP)
			c.state.Store(int32(StateClosing))
			c.valid.Store(false)
			return
		}
	}
}
