// Package namespace builds namespace-prefixed topics and keys so MQTT,
// Kafka, and Valkey sinks address the same logical stream consistently.
package namespace

// Builder constructs namespace-prefixed topics and keys for one scanner
// instance. selector further scopes a multi-cell deployment sharing a
// namespace (e.g. a line name); it may be empty.
type Builder struct {
	namespace string
	selector  string
}

// New creates a new namespace builder.
func New(namespace, selector string) *Builder {
	return &Builder{namespace: namespace, selector: selector}
}

// --- MQTT (delimiter: /) ---

// MQTTPointTopic returns the topic for a point value: {ns}[/{sel}]/{device}/points/{path}
func (b *Builder) MQTTPointTopic(device, path string) string {
	return b.mqttBase() + "/" + device + "/points/" + path
}

// MQTTHealthTopic returns the topic for health status: {ns}[/{sel}]/{device}/health
func (b *Builder) MQTTHealthTopic(device string) string {
	return b.mqttBase() + "/" + device + "/health"
}

// MQTTWriteTopic returns the topic for write requests: {ns}[/{sel}]/{device}/write
func (b *Builder) MQTTWriteTopic(device string) string {
	return b.mqttBase() + "/" + device + "/write"
}

// MQTTWriteResponseTopic returns the topic for write responses: {ns}[/{sel}]/{device}/write/response
func (b *Builder) MQTTWriteResponseTopic(device string) string {
	return b.mqttBase() + "/" + device + "/write/response"
}

// MQTTBase returns the base topic: {ns}[/{sel}]
func (b *Builder) MQTTBase() string {
	return b.mqttBase()
}

func (b *Builder) mqttBase() string {
	if b.selector != "" {
		return b.namespace + "/" + b.selector
	}
	return b.namespace
}

// --- Valkey (delimiter: :) ---

// ValkeyPointKey returns the key for a point value: {ns}[:{sel}]:{device}:points:{path}
func (b *Builder) ValkeyPointKey(device, path string) string {
	return b.valkeyBase() + ":" + device + ":points:" + path
}

// ValkeyHealthKey returns the key for health status: {ns}[:{sel}]:{device}:health
func (b *Builder) ValkeyHealthKey(device string) string {
	return b.valkeyBase() + ":" + device + ":health"
}

// ValkeyChangesChannel returns the channel for a device's changes: {ns}[:{sel}]:{device}:changes
func (b *Builder) ValkeyChangesChannel(device string) string {
	return b.valkeyBase() + ":" + device + ":changes"
}

// ValkeyAllChangesChannel returns the channel for all changes: {ns}[:{sel}]:_all:changes
func (b *Builder) ValkeyAllChangesChannel() string {
	return b.valkeyBase() + ":_all:changes"
}

// ValkeyWriteQueue returns the queue key for write requests: {ns}[:{sel}]:writes
func (b *Builder) ValkeyWriteQueue() string {
	return b.valkeyBase() + ":writes"
}

// ValkeyWriteResponseChannel returns the channel for write responses: {ns}[:{sel}]:write:responses
func (b *Builder) ValkeyWriteResponseChannel() string {
	return b.valkeyBase() + ":write:responses"
}

func (b *Builder) valkeyBase() string {
	if b.selector != "" {
		return b.namespace + ":" + b.selector
	}
	return b.namespace
}

// --- Kafka (delimiter: - for topics, . for health) ---

// KafkaPointTopic returns the topic for point values: {ns}[-{sel}]
func (b *Builder) KafkaPointTopic() string {
	return b.kafkaBase()
}

// KafkaHealthTopic returns the topic for health status: {ns}[-{sel}].health
func (b *Builder) KafkaHealthTopic() string {
	return b.kafkaBase() + ".health"
}

// KafkaWriteTopic returns the topic for write requests: {ns}[-{sel}]-writes
func (b *Builder) KafkaWriteTopic() string {
	return b.kafkaBase() + "-writes"
}

// KafkaWriteResponseTopic returns the topic for write responses: {ns}[-{sel}]-write-responses
func (b *Builder) KafkaWriteResponseTopic() string {
	return b.kafkaBase() + "-write-responses"
}

func (b *Builder) kafkaBase() string {
	if b.selector != "" {
		return b.namespace + "-" + b.selector
	}
	return b.namespace
}
