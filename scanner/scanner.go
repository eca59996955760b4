// Package scanner exposes the cipgate originator stack (explicit
// messaging, discovery, and implicit cyclic I/O) as a single owned
// value, wiring config, logging, and optional telemetry fan-out around
// the lower-level eip/cip/logix/assembly/implicit packages.
package scanner

import (
	"context"
	"fmt"
	"time"

	"cipgate/assembly"
	"cipgate/config"
	"cipgate/discovery"
	"cipgate/implicit"
	"cipgate/logging"
	"cipgate/logix"
	"cipgate/telemetry"
)

// Scanner is the public API facade. Callers obtain one via New and must
// call Close when done to release the implicit engine's UDP socket and
// any open cyclic connections.
type Scanner struct {
	cfg      *config.Config
	log      *logging.DebugLogger
	implicit *implicit.Manager
	bus      *telemetry.Bus
}

// New builds a ready-to-use Scanner. It replaces spec.md's init()/global
// state: there is no package-level "initialized" flag, only a Scanner
// value that is either returned ready or not returned at all.
func New(cfg *config.Config, log *logging.DebugLogger) (*Scanner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scanner: nil config")
	}
	if log != nil {
		logging.SetGlobalDebugLogger(log)
	}

	s := &Scanner{
		cfg:      cfg,
		log:      log,
		implicit: implicit.NewManager(),
		bus:      telemetry.NewBusFromConfig(cfg),
	}
	s.bus.StartAll()
	return s, nil
}

// Close releases the implicit engine's socket and stops all telemetry sinks.
func (s *Scanner) Close() error {
	s.implicit.CloseAll(2 * time.Second)
	s.bus.StopAll()
	return nil
}

// ScanDevices broadcasts a ListIdentity request and returns the devices
// that responded before timeout or ctx is done.
func (s *Scanner) ScanDevices(ctx context.Context, broadcastIP string, timeout time.Duration) ([]discovery.DeviceInfo, error) {
	type result struct {
		devices []discovery.DeviceInfo
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		devices, err := discovery.ScanDevices(broadcastIP, timeout)
		ch <- result{devices, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			s.bus.Publish(telemetry.Event{Kind: telemetry.KindDiscovery, Device: broadcastIP, Path: "scan", Value: 0})
			return nil, fmt.Errorf("scanner: scan devices: %w", r.err)
		}
		for _, d := range r.devices {
			s.bus.Publish(telemetry.Event{Kind: telemetry.KindDiscovery, Device: d.IP, Path: "identity", Value: d.ProductName})
		}
		return r.devices, nil
	}
}

// ReadAssembly performs an Assembly object Get_Attribute_Single against
// instance and publishes the outcome to the telemetry bus.
func (s *Scanner) ReadAssembly(ctx context.Context, ip string, instance uint16, timeout time.Duration) (*assembly.ReadResult, error) {
	type result struct {
		res *assembly.ReadResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := assembly.Read(ip, instance, timeout)
		ch <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		path := fmt.Sprintf("assembly%d", instance)
		if r.err != nil {
			s.bus.Publish(telemetry.Event{Kind: telemetry.KindExplicitRead, Device: ip, Path: path, Writable: false})
			return nil, fmt.Errorf("scanner: read assembly %d: %w", instance, r.err)
		}
		s.bus.Publish(telemetry.Event{
			Kind:   telemetry.KindExplicitRead,
			Device: ip,
			Path:   path,
			Value:  len(r.res.Data),
			Type:   "BYTES",
		})
		return r.res, nil
	}
}

// WriteAssembly performs an Assembly object Set_Attribute_Single against instance.
func (s *Scanner) WriteAssembly(ctx context.Context, ip string, instance uint16, data []byte, timeout time.Duration) error {
	ch := make(chan error, 1)
	go func() {
		ch <- assembly.Write(ip, instance, data, timeout)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		path := fmt.Sprintf("assembly%d", instance)
		s.bus.Publish(telemetry.Event{
			Kind:     telemetry.KindExplicitWrite,
			Device:   ip,
			Path:     path,
			Value:    len(data),
			Type:     "BYTES",
			Writable: true,
		})
		if err != nil {
			return fmt.Errorf("scanner: write assembly %d: %w", instance, err)
		}
		return nil
	}
}

// DiscoverAssemblies probes the device's assembly instances (1..Max
// Instance, or a fixed list of conventional instances when Max Instance
// is unavailable or implausible) and returns the ones that responded
// successfully.
func (s *Scanner) DiscoverAssemblies(ctx context.Context, ip string, timeout time.Duration) ([]uint16, error) {
	type result struct {
		instances []uint16
		err       error
	}
	ch := make(chan result, 1)
	go func() {
		instances, err := assembly.Discover(ip, timeout)
		ch <- result{instances, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("scanner: discover assemblies: %w", r.err)
		}
		return r.instances, nil
	}
}

// ReadTag performs a symbolic Read_Tag request against path.
func (s *Scanner) ReadTag(ctx context.Context, ip, path string, timeout time.Duration) (*logix.TagReadResult, error) {
	type result struct {
		res *logix.TagReadResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := logix.ReadTag(ip, path, timeout)
		ch <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("scanner: read tag %s: %w", path, r.err)
		}
		s.bus.Publish(telemetry.Event{
			Kind:   telemetry.KindExplicitRead,
			Device: ip,
			Path:   path,
			Value:  tagValue(r.res),
			Type:   r.res.TypeName(),
		})
		return r.res, nil
	}
}

// tagValue decodes a TagReadResult into a generic value suitable for
// telemetry publishing, dispatching on the CIP base type. Falls back to
// the raw byte length when the type has no typed accessor (e.g. STRUCT).
func tagValue(r *logix.TagReadResult) interface{} {
	switch r.DataType & 0x0FFF {
	case logix.TypeBOOL:
		if v, err := r.Bool(); err == nil {
			return v
		}
	case logix.TypeSINT, logix.TypeINT, logix.TypeDINT, logix.TypeLINT:
		if v, err := r.Int(); err == nil {
			return v
		}
	case logix.TypeUSINT, logix.TypeUINT, logix.TypeUDINT, logix.TypeULINT:
		if v, err := r.Uint(); err == nil {
			return v
		}
	case logix.TypeREAL, logix.TypeLREAL:
		if v, err := r.Float(); err == nil {
			return v
		}
	case logix.TypeSTRING, logix.TypeShortSTRING:
		if v, err := r.String(); err == nil {
			return v
		}
	}
	return len(r.Bytes)
}

// WriteTag performs a symbolic Write_Tag request against path.
func (s *Scanner) WriteTag(ctx context.Context, ip, path string, cipType uint16, data []byte, timeout time.Duration) error {
	ch := make(chan error, 1)
	go func() {
		ch <- logix.WriteTag(ip, path, cipType, data, timeout)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		s.bus.Publish(telemetry.Event{
			Kind:     telemetry.KindExplicitWrite,
			Device:   ip,
			Path:     path,
			Type:     logix.TypeName(cipType),
			Writable: true,
		})
		if err != nil {
			return fmt.Errorf("scanner: write tag %s: %w", path, err)
		}
		return nil
	}
}

// ImplicitOpen establishes a Class 1 cyclic connection to the peer
// described by opts, invoking cb on every accepted T->O datagram.
func (s *Scanner) ImplicitOpen(ctx context.Context, ip string, opts implicit.OpenOptions, cb implicit.Callback) error {
	opts.PeerIP = ip
	if opts.VendorID == 0 {
		opts.VendorID = s.cfg.OriginatorVendorID
	}

	wrapped := func(peerIP string, producedInstance uint16, data []byte, userData interface{}) {
		s.bus.Publish(telemetry.Event{
			Kind:   telemetry.KindCyclicSample,
			Device: peerIP,
			Path:   fmt.Sprintf("assembly%d", producedInstance),
			Value:  len(data),
			Type:   "BYTES",
		})
		if cb != nil {
			cb(peerIP, producedInstance, data, userData)
		}
	}

	ch := make(chan error, 1)
	go func() {
		ch <- s.implicit.Open(opts, wrapped, nil)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("scanner: implicit open %s: %w", ip, err)
		}
		return nil
	}
}

// ImplicitClose sends a Forward Close for the connection to ip and
// removes it from the connection table.
func (s *Scanner) ImplicitClose(ip string, timeout time.Duration) error {
	if err := s.implicit.Close(ip, timeout); err != nil {
		return fmt.Errorf("scanner: implicit close %s: %w", ip, err)
	}
	return nil
}

// ImplicitWriteData replaces the O->T buffer the producer task sends at
// the connection's RPI.
func (s *Scanner) ImplicitWriteData(ip string, data []byte) error {
	if err := s.implicit.WriteData(ip, data); err != nil {
		return fmt.Errorf("scanner: implicit write %s: %w", ip, err)
	}
	return nil
}

// ImplicitReadOToTData copies the most recently received T->O payload
// into buf, returning the number of bytes copied.
func (s *Scanner) ImplicitReadOToTData(ip string, buf []byte) (int, error) {
	n, err := s.implicit.ReadOToTData(ip, buf)
	if err != nil {
		return 0, fmt.Errorf("scanner: implicit read %s: %w", ip, err)
	}
	return n, nil
}
