package namespace

import "testing"

func TestBuilder_MQTT(t *testing.T) {
	t.Run("no selector", func(t *testing.T) {
		b := New("cipgate", "")
		if got := b.MQTTPointTopic("10.0.0.1", "Counter"); got != "cipgate/10.0.0.1/points/Counter" {
			t.Errorf("unexpected topic: %s", got)
		}
		if got := b.MQTTHealthTopic("10.0.0.1"); got != "cipgate/10.0.0.1/health" {
			t.Errorf("unexpected topic: %s", got)
		}
		if got := b.MQTTWriteTopic("10.0.0.1"); got != "cipgate/10.0.0.1/write" {
			t.Errorf("unexpected topic: %s", got)
		}
		if got := b.MQTTWriteResponseTopic("10.0.0.1"); got != "cipgate/10.0.0.1/write/response" {
			t.Errorf("unexpected topic: %s", got)
		}
	})

	t.Run("with selector", func(t *testing.T) {
		b := New("cipgate", "line1")
		if got := b.MQTTBase(); got != "cipgate/line1" {
			t.Errorf("unexpected base: %s", got)
		}
		if got := b.MQTTPointTopic("10.0.0.1", "Counter"); got != "cipgate/line1/10.0.0.1/points/Counter" {
			t.Errorf("unexpected topic: %s", got)
		}
	})
}

func TestBuilder_Valkey(t *testing.T) {
	t.Run("no selector", func(t *testing.T) {
		b := New("cipgate", "")
		if got := b.ValkeyPointKey("10.0.0.1", "Counter"); got != "cipgate:10.0.0.1:points:Counter" {
			t.Errorf("unexpected key: %s", got)
		}
		if got := b.ValkeyHealthKey("10.0.0.1"); got != "cipgate:10.0.0.1:health" {
			t.Errorf("unexpected key: %s", got)
		}
		if got := b.ValkeyChangesChannel("10.0.0.1"); got != "cipgate:10.0.0.1:changes" {
			t.Errorf("unexpected channel: %s", got)
		}
		if got := b.ValkeyAllChangesChannel(); got != "cipgate:_all:changes" {
			t.Errorf("unexpected channel: %s", got)
		}
		if got := b.ValkeyWriteQueue(); got != "cipgate:writes" {
			t.Errorf("unexpected key: %s", got)
		}
		if got := b.ValkeyWriteResponseChannel(); got != "cipgate:write:responses" {
			t.Errorf("unexpected channel: %s", got)
		}
	})

	t.Run("with selector", func(t *testing.T) {
		b := New("cipgate", "line1")
		if got := b.ValkeyPointKey("10.0.0.1", "Counter"); got != "cipgate:line1:10.0.0.1:points:Counter" {
			t.Errorf("unexpected key: %s", got)
		}
	})
}

func TestBuilder_Kafka(t *testing.T) {
	t.Run("no selector", func(t *testing.T) {
		b := New("cipgate", "")
		if got := b.KafkaPointTopic(); got != "cipgate" {
			t.Errorf("unexpected topic: %s", got)
		}
		if got := b.KafkaHealthTopic(); got != "cipgate.health" {
			t.Errorf("unexpected topic: %s", got)
		}
		if got := b.KafkaWriteTopic(); got != "cipgate-writes" {
			t.Errorf("unexpected topic: %s", got)
		}
		if got := b.KafkaWriteResponseTopic(); got != "cipgate-write-responses" {
			t.Errorf("unexpected topic: %s", got)
		}
	})

	t.Run("with selector", func(t *testing.T) {
		b := New("cipgate", "line1")
		if got := b.KafkaPointTopic(); got != "cipgate-line1" {
			t.Errorf("unexpected topic: %s", got)
		}
		if got := b.KafkaHealthTopic(); got != "cipgate-line1.health" {
			t.Errorf("unexpected topic: %s", got)
		}
	})
}
