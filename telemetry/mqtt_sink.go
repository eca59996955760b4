package telemetry

import (
	"cipgate/config"
	"cipgate/mqtt"
)

// MQTTSink fans Events out to one or more MQTT brokers via mqtt.Manager.
type MQTTSink struct {
	manager *mqtt.Manager
}

// NewMQTTSink builds an MQTTSink from the given broker configs.
func NewMQTTSink(cfgs []config.MQTTConfig, ns string) *MQTTSink {
	m := mqtt.NewManager()
	for i := range cfgs {
		pub := mqtt.NewPublisher(&cfgs[i])
		m.Add(pub)
	}
	_ = ns // mqtt.Publisher builds topics from its own config.Topic prefix
	return &MQTTSink{manager: m}
}

// Name identifies the sink kind.
func (s *MQTTSink) Name() string { return "mqtt" }

// Publish forwards an Event to every running broker connection.
func (s *MQTTSink) Publish(ev Event) {
	s.manager.Publish(ev.Device, ev.Path, ev.Type, ev.Value, ev.Force)
}

// PublishHealth is a no-op for MQTT: the teacher's mqtt package has no
// health-topic concept, only point values and write-back.
func (s *MQTTSink) PublishHealth(device, driver string, online bool, status, errMsg string) {
}

// StartAll starts every enabled broker connection.
func (s *MQTTSink) StartAll() int { return s.manager.StartAll() }

// StopAll disconnects every broker connection.
func (s *MQTTSink) StopAll() { s.manager.StopAll() }

// AnyRunning reports whether any broker connection is up.
func (s *MQTTSink) AnyRunning() bool { return s.manager.AnyRunning() }
