// Package config handles configuration persistence for the cipgate
// scanner: known devices, feature flags, and the telemetry sinks it
// fans explicit/implicit results out to.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Default RPI bounds and connection-table cap, per the implicit engine.
const (
	MinRPI            = 10 * time.Millisecond
	MaxRPI            = 10 * time.Second
	MaxImplicitConns  = 8
	DefaultVendorID   = 0xFADA
)

// Config holds the complete scanner configuration.
type Config struct {
	Namespace string         `yaml:"namespace"` // instance namespace for topic/key isolation
	Devices   []DeviceConfig `yaml:"devices"`
	MQTT      []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey    []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig  `yaml:"kafka,omitempty"`

	// Feature flags, matching spec.md's compile-time/runtime flags.
	EnableTagSupport      bool `yaml:"enable_tag_support"`
	EnableImplicitSupport bool `yaml:"enable_implicit_support"`
	EnableMotomanSupport  bool `yaml:"enable_motoman_support"`

	// OriginatorVendorID is sent in every Forward Open as
	// originator_vendor_id. 0xFADA is a placeholder, not a registered
	// ODVA vendor id; some devices reject unknown vendors, so make it
	// configurable and default to the caller's own value when set.
	OriginatorVendorID uint16 `yaml:"originator_vendor_id,omitempty"`

	// DiscoveryTimeout bounds a ScanDevices broadcast.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout,omitempty"`

	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// DeviceConfig is a known device the scanner can be pointed at by name
// instead of IP, and carries per-device defaults (RPI, assembly sizes)
// so the implicit engine doesn't need them repeated at every call site.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`

	ConsumedInstance uint16        `yaml:"consumed_instance,omitempty"`
	ProducedInstance uint16        `yaml:"produced_instance,omitempty"`
	ConsumedSize     int           `yaml:"consumed_size,omitempty"`
	ProducedSize     int           `yaml:"produced_size,omitempty"`
	RPI              time.Duration `yaml:"rpi,omitempty"`
	ExclusiveOwner   bool          `yaml:"exclusive_owner,omitempty"`

	// IsMotoman marks a device that should be addressed through the
	// Motoman vendor-specific CIP wrapper instead of raw Assembly access.
	IsMotoman bool `yaml:"is_motoman,omitempty"`
}

// MQTTConfig holds MQTT sink configuration for telemetry fan-out.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic,omitempty"`
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Redis/Valkey sink configuration for telemetry fan-out.
type ValkeyConfig struct {
	Name            string        `yaml:"name"`
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"` // host:port
	Password        string        `yaml:"password,omitempty"`
	Database        int           `yaml:"database"`
	Selector        string        `yaml:"selector,omitempty"` // optional sub-namespace
	KeyTTL          time.Duration `yaml:"key_ttl,omitempty"`
	UseTLS          bool          `yaml:"use_tls,omitempty"`
	PublishChanges  bool          `yaml:"publish_changes,omitempty"`
	EnableWriteback bool          `yaml:"enable_writeback,omitempty"`
}

// KafkaConfig holds Kafka sink configuration for telemetry fan-out.
type KafkaConfig struct {
	Name             string        `yaml:"name"`
	Enabled          bool          `yaml:"enabled"`
	Selector         string        `yaml:"selector,omitempty"` // optional sub-namespace
	Brokers          []string      `yaml:"brokers"`
	Topic            string        `yaml:"topic"`
	UseTLS           bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify    bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism    string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username         string        `yaml:"username,omitempty"`
	Password         string        `yaml:"password,omitempty"`
	RequiredAcks     int           `yaml:"required_acks,omitempty"`
	MaxRetries       int           `yaml:"max_retries,omitempty"`
	RetryBackoff     time.Duration `yaml:"retry_backoff,omitempty"`
	AutoCreateTopics bool          `yaml:"auto_create_topics,omitempty"`
	EnableWriteback  bool          `yaml:"enable_writeback,omitempty"`
	ConsumerGroup    string        `yaml:"consumer_group,omitempty"`
	WriteMaxAge      time.Duration `yaml:"write_max_age,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Devices:               []DeviceConfig{},
		MQTT:                  []MQTTConfig{},
		Valkey:                []ValkeyConfig{},
		Kafka:                 []KafkaConfig{},
		EnableTagSupport:      true,
		EnableImplicitSupport: true,
		OriginatorVendorID:    DefaultVendorID,
		DiscoveryTimeout:      3 * time.Second,
	}
}

// DefaultPath returns the default configuration file path (~/.cipgate/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".cipgate", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to defaults
// (and saving them) if the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg.Save(path) // best-effort
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.OriginatorVendorID == 0 {
		cfg.OriginatorVendorID = DefaultVendorID
	}
	return cfg, nil
}

// AddOnChangeListener registers a callback invoked when the config is saved.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}
	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies. The
// caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.notifyChangeListeners()
	return nil
}

// FindDevice returns the device config with the given name, or nil.
func (c *Config) FindDevice(name string) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i]
		}
	}
	return nil
}

// AddDevice adds a new device configuration.
func (c *Config) AddDevice(d DeviceConfig) {
	c.Devices = append(c.Devices, d)
}

// RemoveDevice removes a device config by name.
func (c *Config) RemoveDevice(name string) bool {
	for i, d := range c.Devices {
		if d.Name == name {
			c.Devices = append(c.Devices[:i], c.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// FindMQTT returns the MQTT sink config with the given name, or nil.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// FindValkey returns the Valkey sink config with the given name, or nil.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// FindKafka returns the Kafka sink config with the given name, or nil.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, underscores, and dots")
	}
	for _, d := range c.Devices {
		if d.RPI != 0 && (d.RPI < MinRPI || d.RPI > MaxRPI) {
			return fmt.Errorf("device %q: RPI %s out of bounds [%s, %s]", d.Name, d.RPI, MinRPI, MaxRPI)
		}
	}
	return nil
}

// IsValidNamespace returns true if the namespace is valid.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
