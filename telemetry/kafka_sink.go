package telemetry

import (
	"cipgate/config"
	"cipgate/kafka"
)

// KafkaSink fans Events out to one or more Kafka clusters via kafka.Manager.
type KafkaSink struct {
	manager *kafka.Manager
}

// NewKafkaSink builds a KafkaSink from the given cluster configs,
// converting the YAML-serializable config.KafkaConfig into the kafka
// package's own runtime Config (the two are intentionally distinct;
// see kafka/config.go).
func NewKafkaSink(cfgs []config.KafkaConfig, ns string) *KafkaSink {
	m := kafka.NewManager()
	runtimeConfigs := make([]kafka.Config, len(cfgs))
	for i, c := range cfgs {
		runtimeConfigs[i] = kafka.Config{
			Name:             c.Name,
			Enabled:          c.Enabled,
			Selector:         c.Selector,
			Brokers:          c.Brokers,
			UseTLS:           c.UseTLS,
			TLSSkipVerify:    c.TLSSkipVerify,
			SASLMechanism:    kafka.SASLMechanism(c.SASLMechanism),
			Username:         c.Username,
			Password:         c.Password,
			RequiredAcks:     c.RequiredAcks,
			MaxRetries:       c.MaxRetries,
			RetryBackoff:     c.RetryBackoff,
			PublishChanges:   true,
			Topic:            c.Topic,
			AutoCreateTopics: c.AutoCreateTopics,
			EnableWriteback:  c.EnableWriteback,
			ConsumerGroup:    c.ConsumerGroup,
			WriteMaxAge:      c.WriteMaxAge,
		}
	}
	m.LoadFromConfigs(runtimeConfigs, ns)
	return &KafkaSink{manager: m}
}

// Name identifies the sink kind.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish queues an Event for batched publishing to every connected cluster.
func (s *KafkaSink) Publish(ev Event) {
	s.manager.Publish(ev.Device, ev.Path, ev.Type, ev.Value, ev.Writable, ev.Force)
}

// PublishHealth publishes a device health update to every connected cluster.
func (s *KafkaSink) PublishHealth(device, driver string, online bool, status, errMsg string) {
	s.manager.PublishHealth(device, driver, online, status, errMsg)
}

// StartAll connects every enabled cluster and returns the number of
// configured clusters, enabled or not.
func (s *KafkaSink) StartAll() int {
	s.manager.ConnectEnabled()
	return len(s.manager.ListClusters())
}

// StopAll disconnects every cluster and the batcher.
func (s *KafkaSink) StopAll() { s.manager.StopAll() }

// AnyRunning reports whether any cluster is publishing.
func (s *KafkaSink) AnyRunning() bool { return s.manager.AnyPublishing() }
