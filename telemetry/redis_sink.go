package telemetry

import (
	"cipgate/config"
	"cipgate/valkey"
)

// RedisSink fans Events out to one or more Valkey/Redis instances via
// valkey.Manager, maintaining a last-known-value cache keyed by
// device/path (see namespace.Builder.ValkeyPointKey).
type RedisSink struct {
	manager *valkey.Manager
}

// NewRedisSink builds a RedisSink from the given instance configs.
func NewRedisSink(cfgs []config.ValkeyConfig, ns string) *RedisSink {
	m := valkey.NewManager()
	m.LoadFromConfig(cfgs, ns)
	return &RedisSink{manager: m}
}

// Name identifies the sink kind.
func (s *RedisSink) Name() string { return "valkey" }

// Publish queues an Event for batched publishing to every connected instance.
func (s *RedisSink) Publish(ev Event) {
	s.manager.Publish(ev.Device, ev.Path, ev.Type, ev.Value, ev.Writable)
}

// PublishHealth publishes a device health update to every connected instance.
func (s *RedisSink) PublishHealth(device, driver string, online bool, status, errMsg string) {
	s.manager.PublishHealth(device, driver, online, status, errMsg)
}

// StartAll connects every enabled instance.
func (s *RedisSink) StartAll() int { return s.manager.StartAll() }

// StopAll disconnects every instance and the batcher.
func (s *RedisSink) StopAll() { s.manager.StopAll() }

// AnyRunning reports whether any instance connection is up.
func (s *RedisSink) AnyRunning() bool { return s.manager.AnyRunning() }
