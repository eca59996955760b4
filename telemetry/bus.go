// Package telemetry fans scanner activity out to optional MQTT, Kafka,
// and Redis/Valkey sinks. A Bus with no sinks configured performs no
// I/O; wire protocol behavior never depends on it.
package telemetry

import (
	"sync"
	"time"

	"cipgate/config"
	"cipgate/kafka"
	"cipgate/mqtt"
	"cipgate/valkey"
)

// Kind identifies what kind of activity produced an Event.
type Kind string

const (
	KindExplicitRead  Kind = "explicit_read"
	KindExplicitWrite Kind = "explicit_write"
	KindDiscovery     Kind = "discovery"
	KindCyclicSample  Kind = "cyclic_sample"
)

// Event is a single published observation: an explicit read/write result,
// a discovered device, or a received cyclic I/O datagram.
type Event struct {
	Kind      Kind
	Device    string
	Path      string
	Value     interface{}
	Type      string
	Writable  bool
	Force     bool
	Timestamp time.Time
}

// Sink accepts Events and device health updates from a Bus.
type Sink interface {
	Name() string
	Publish(ev Event)
	PublishHealth(device, driver string, online bool, status, errMsg string)
	StartAll() int
	StopAll()
	AnyRunning() bool
}

// WriteHandler executes a write-back request originating from a sink.
type WriteHandler func(device, path string, value interface{}) error

// WriteValidator reports whether a point accepts writes.
type WriteValidator func(device, path string) bool

// TagTypeLookup returns the CIP type code for a point, or 0 if unknown.
type TagTypeLookup func(device, path string) uint16

// Bus holds zero or more configured Sinks and fans Events out to all of
// them. Scanner publishes through a Bus after explicit reads and writes,
// for each device a scan finds, and for every accepted T->O datagram.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// NewBusFromConfig builds a Bus from the MQTT/Kafka/Valkey sink lists in
// cfg, one Sink per protocol that has at least one enabled entry.
func NewBusFromConfig(cfg *config.Config) *Bus {
	b := NewBus()

	if len(cfg.MQTT) > 0 {
		b.Add(NewMQTTSink(cfg.MQTT, cfg.Namespace))
	}
	if len(cfg.Kafka) > 0 {
		b.Add(NewKafkaSink(cfg.Kafka, cfg.Namespace))
	}
	if len(cfg.Valkey) > 0 {
		b.Add(NewRedisSink(cfg.Valkey, cfg.Namespace))
	}
	return b
}

// Add registers a sink with the bus.
func (b *Bus) Add(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// StartAll starts every sink's underlying connections, returning the sum
// of the sinks' StartAll counts (for Kafka, the number of configured
// clusters rather than the number that connected).
func (b *Bus) StartAll() int {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	started := 0
	for _, s := range sinks {
		started += s.StartAll()
	}
	return started
}

// StopAll stops every sink.
func (b *Bus) StopAll() {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.StopAll()
	}
}

// AnyRunning returns true if any sink has a running connection.
func (b *Bus) AnyRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		if s.AnyRunning() {
			return true
		}
	}
	return false
}

// Publish fans an Event out to every sink. A Bus with no sinks is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, s := range sinks {
		s.Publish(ev)
	}
}

// PublishHealth fans a device health update out to every sink.
func (b *Bus) PublishHealth(device, driver string, online bool, status, errMsg string) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.PublishHealth(device, driver, online, status, errMsg)
	}
}

// SetWriteHandler installs a write-back handler on every sink that
// accepts write requests (MQTT, Kafka, Redis).
func (b *Bus) SetWriteHandler(handler WriteHandler) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		switch sink := s.(type) {
		case *MQTTSink:
			sink.manager.SetWriteHandler(mqtt.WriteHandler(handler))
		case *KafkaSink:
			sink.manager.SetWriteHandler(kafka.WriteHandler(handler))
		case *RedisSink:
			sink.manager.SetWriteHandler(handler)
		}
	}
}

// SetWriteValidator installs a write validator on every sink.
func (b *Bus) SetWriteValidator(validator WriteValidator) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		switch sink := s.(type) {
		case *MQTTSink:
			sink.manager.SetWriteValidator(mqtt.WriteValidator(validator))
		case *KafkaSink:
			sink.manager.SetWriteValidator(kafka.WriteValidator(validator))
		case *RedisSink:
			sink.manager.SetWriteValidator(validator)
		}
	}
}

// SetTagTypeLookup installs a CIP type lookup on every sink.
func (b *Bus) SetTagTypeLookup(lookup TagTypeLookup) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		switch sink := s.(type) {
		case *MQTTSink:
			sink.manager.SetTagTypeLookup(mqtt.TagTypeLookup(lookup))
		case *KafkaSink:
			sink.manager.SetTagTypeLookup(kafka.TagTypeLookup(lookup))
		case *RedisSink:
			sink.manager.SetTagTypeLookup(lookup)
		}
	}
}
