// Package kafka provides Kafka producer functionality for fanning out CIP read results.
package kafka

import (
	"crypto/tls"
	"time"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// Config holds configuration for a Kafka cluster connection.
type Config struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Selector      string        `yaml:"selector,omitempty"` // Scopes a namespace shared across cells/lines
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism SASLMechanism `yaml:"sasl_mechanism,omitempty"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`

	// Producer settings
	RequiredAcks int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader only
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`

	// Point publishing settings
	PublishChanges   bool   `yaml:"publish_changes,omitempty"` // Publish point changes to Kafka
	Topic            string `yaml:"topic,omitempty"`           // Not read by Manager; points go to namespace.Builder.KafkaPointTopic
	AutoCreateTopics bool   `yaml:"auto_create_topics,omitempty"`

	// BatchMaxMessages and BatchMaxBytes bound a per-topic writer's batch;
	// BatchTimeout forces a flush once a batch has waited this long even if
	// neither bound is hit. Left at zero, the writer falls back to sizes
	// tuned for cyclic point readings rather than bulk log shipping.
	BatchMaxMessages int           `yaml:"batch_max_messages,omitempty"`
	BatchMaxBytes    int64         `yaml:"batch_max_bytes,omitempty"`
	BatchTimeout     time.Duration `yaml:"batch_timeout,omitempty"`

	// Write-back (Class 3 write request consumer) settings
	EnableWriteback bool          `yaml:"enable_writeback,omitempty"`
	ConsumerGroup   string        `yaml:"consumer_group,omitempty"`
	WriteMaxAge     time.Duration `yaml:"write_max_age,omitempty"` // Requests older than this are skipped, not executed
}

// DefaultConfig returns a Kafka configuration with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		RequiredAcks: -1, // All replicas must acknowledge
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		WriteMaxAge:  5 * time.Second,
	}
}

// GetTLSConfig returns a TLS configuration if TLS is enabled.
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}
}

// GetConsumerGroup returns the consumer group ID, defaulting to a fixed name
// derived from the cluster name when none is configured.
func (c *Config) GetConsumerGroup() string {
	if c.ConsumerGroup != "" {
		return c.ConsumerGroup
	}
	return "cipgate-" + c.Name
}

// GetWriteMaxAge returns the maximum age a queued write request may reach
// before being skipped instead of executed, defaulting to 5 seconds.
func (c *Config) GetWriteMaxAge() time.Duration {
	if c.WriteMaxAge > 0 {
		return c.WriteMaxAge
	}
	return 5 * time.Second
}
