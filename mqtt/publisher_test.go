package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"cipgate/config"
	"cipgate/logix"
)

// TestChangeDetectionLogic tests the core change detection logic directly.
func TestChangeDetectionLogic(t *testing.T) {
	t.Run("identical values should not republish", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["10.0.0.1/Counter"] = int32(100)

		cacheKey := "10.0.0.1/Counter"
		value := int32(100)
		force := false

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if shouldPublish {
			t.Error("identical value should not republish")
		}
	})

	t.Run("different values should republish", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["10.0.0.1/Counter"] = int32(100)

		cacheKey := "10.0.0.1/Counter"
		value := int32(200)
		force := false

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if !shouldPublish {
			t.Error("different value should republish")
		}
	})

	t.Run("force flag should override change detection", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["10.0.0.1/Counter"] = int32(100)

		cacheKey := "10.0.0.1/Counter"
		value := int32(100)
		force := true

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if !shouldPublish {
			t.Error("force flag should override change detection")
		}
	})

	t.Run("new key should always publish", func(t *testing.T) {
		cache := make(map[string]interface{})

		cacheKey := "10.0.0.1/Counter"
		force := false

		_, exists := cache[cacheKey]
		shouldPublish := !exists || force

		if !shouldPublish {
			t.Error("new key should always publish")
		}
	})

	t.Run("different devices are tracked separately", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["10.0.0.1/Counter"] = int32(100)

		cacheKey := "10.0.0.2/Counter"

		_, exists := cache[cacheKey]
		shouldPublish := !exists

		if !shouldPublish {
			t.Error("different devices should be tracked separately")
		}
	})

	t.Run("different paths are tracked separately", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["10.0.0.1/Counter"] = int32(100)

		cacheKey := "10.0.0.1/Status"

		_, exists := cache[cacheKey]
		shouldPublish := !exists

		if !shouldPublish {
			t.Error("different paths should be tracked separately")
		}
	})
}

// TestChangeDetectionTypes tests change detection across different data types.
func TestChangeDetectionTypes(t *testing.T) {
	tests := []struct {
		name      string
		value1    interface{}
		value2    interface{}
		shouldPub bool
		desc      string
	}{
		{"int32_same", int32(100), int32(100), false, "same int32"},
		{"int32_diff", int32(100), int32(200), true, "different int32"},
		{"int16_same", int16(50), int16(50), false, "same int16"},
		{"int16_diff", int16(50), int16(60), true, "different int16"},

		{"float32_same", float32(3.14), float32(3.14), false, "same float32"},
		{"float32_diff", float32(3.14), float32(2.71), true, "different float32"},
		{"float64_same", float64(3.14159), float64(3.14159), false, "same float64"},
		{"float64_diff", float64(3.14159), float64(2.71828), true, "different float64"},

		{"bool_same_true", true, true, false, "same bool true"},
		{"bool_same_false", false, false, false, "same bool false"},
		{"bool_diff", true, false, true, "different bool"},

		{"string_same", "hello", "hello", false, "same string"},
		{"string_diff", "hello", "world", true, "different string"},
		{"string_empty", "", "", false, "same empty string"},

		{"zero_int", int32(0), int32(0), false, "same zero"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cache := make(map[string]interface{})
			cache["10.0.0.1/point"] = tc.value1

			lastValue := cache["10.0.0.1/point"]
			shouldPublish := fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", tc.value2)

			if shouldPublish != tc.shouldPub {
				t.Errorf("%s: expected publish=%v, got %v", tc.desc, tc.shouldPub, shouldPublish)
			}
		})
	}
}

// TestBuildTopic verifies the device/path topic structure.
func TestBuildTopic(t *testing.T) {
	cfg := &config.MQTTConfig{
		Name:  "test",
		Topic: "cipgate",
	}
	pub := NewPublisher(cfg)

	topic := pub.BuildTopic("10.0.0.1", "Counter")
	expected := "cipgate/10.0.0.1/points/Counter"
	if topic != expected {
		t.Errorf("expected topic %q, got %q", expected, topic)
	}
}

// TestReading_MessagePayload tests that the JSON message payload is correct.
func TestReading_MessagePayload(t *testing.T) {
	t.Run("message includes all fields", func(t *testing.T) {
		msg := Reading{
			Topic:     "cipgate",
			Device:    "10.0.0.1",
			Path:      "Counter",
			Value:     int32(100),
			Type:      "DINT",
			Writable:  true,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}

		requiredFields := []string{"topic", "device", "path", "value", "type", "writable", "timestamp"}
		for _, field := range requiredFields {
			if _, ok := decoded[field]; !ok {
				t.Errorf("missing required field: %s", field)
			}
		}
	})

	t.Run("type omitted when empty", func(t *testing.T) {
		msg := Reading{
			Topic:     "cipgate",
			Device:    "10.0.0.1",
			Path:      "Counter",
			Value:     int32(100),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}

		if _, ok := decoded["type"]; ok {
			t.Error("type should be omitted when empty")
		}
	})
}

// TestReading_ValueAccuracy tests that published values match source values exactly.
func TestReading_ValueAccuracy(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		value    interface{}
	}{
		{"int32_positive", "DINT", int32(2147483647)},
		{"int32_negative", "DINT", int32(-2147483648)},
		{"int32_zero", "DINT", int32(0)},
		{"int16_max", "INT", int16(32767)},
		{"int16_min", "INT", int16(-32768)},
		{"uint16_max", "UINT", uint16(65535)},
		{"uint8_max", "USINT", uint8(255)},
		{"float32_precise", "REAL", float32(3.14159)},
		{"float64_precise", "LREAL", float64(3.141592653589793)},
		{"bool_true", "BOOL", true},
		{"bool_false", "BOOL", false},
		{"string_ascii", "STRING", "Hello, World!"},
		{"string_unicode", "STRING", "测试数据"},
		{"string_special", "STRING", "Line1\nLine2\tTab"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := Reading{
				Topic:     "cipgate",
				Device:    "10.0.0.1",
				Path:      "point",
				Value:     tc.value,
				Type:      tc.typeName,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}

			var decoded Reading
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}

			switch v := tc.value.(type) {
			case int32:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("int32 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case int16:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("int16 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case uint16:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("uint16 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case uint8:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("uint8 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case float32:
				if diff := decoded.Value.(float64) - float64(v); diff > 0.0001 || diff < -0.0001 {
					t.Errorf("float32 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case float64:
				if decoded.Value.(float64) != v {
					t.Errorf("float64 value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case bool:
				if decoded.Value.(bool) != v {
					t.Errorf("bool value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case string:
				if decoded.Value.(string) != v {
					t.Errorf("string value mismatch: expected %q, got %q", v, decoded.Value)
				}
			}
		})
	}
}

// TestConcurrentCacheAccess tests thread safety of cache operations.
func TestConcurrentCacheAccess(t *testing.T) {
	cache := make(map[string]interface{})
	var mu sync.RWMutex

	var wg sync.WaitGroup
	devices := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	paths := []string{"path1", "path2", "path3"}

	for _, device := range devices {
		for _, path := range paths {
			wg.Add(1)
			go func(device, path string) {
				defer wg.Done()
				key := fmt.Sprintf("%s/%s", device, path)

				mu.Lock()
				cache[key] = int32(100)
				mu.Unlock()
			}(device, path)
		}
	}

	wg.Wait()

	mu.RLock()
	defer mu.RUnlock()

	expectedKeys := len(devices) * len(paths)
	if len(cache) != expectedKeys {
		t.Errorf("expected %d cache entries, got %d", expectedKeys, len(cache))
	}
}

// TestConvertValueForType tests type conversion for write operations.
func TestConvertValueForType(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		dataType uint16
		expected interface{}
		hasError bool
	}{
		{"bool_true", true, logix.TypeBOOL, true, false},
		{"bool_false", false, logix.TypeBOOL, false, false},
		{"num_to_bool_1", float64(1), logix.TypeBOOL, true, false},
		{"num_to_bool_0", float64(0), logix.TypeBOOL, false, false},

		{"sint_valid", float64(100), logix.TypeSINT, int8(100), false},
		{"sint_min", float64(-128), logix.TypeSINT, int8(-128), false},
		{"sint_max", float64(127), logix.TypeSINT, int8(127), false},
		{"sint_overflow", float64(128), logix.TypeSINT, nil, true},
		{"sint_underflow", float64(-129), logix.TypeSINT, nil, true},

		{"int_valid", float64(1000), logix.TypeINT, int16(1000), false},
		{"int_min", float64(-32768), logix.TypeINT, int16(-32768), false},
		{"int_max", float64(32767), logix.TypeINT, int16(32767), false},
		{"int_overflow", float64(32768), logix.TypeINT, nil, true},

		{"dint_valid", float64(100000), logix.TypeDINT, int32(100000), false},
		{"dint_negative", float64(-100000), logix.TypeDINT, int32(-100000), false},

		{"real_valid", float64(3.14), logix.TypeREAL, float32(3.14), false},

		{"lreal_valid", float64(3.14159265359), logix.TypeLREAL, float64(3.14159265359), false},

		{"usint_valid", float64(200), logix.TypeUSINT, uint8(200), false},
		{"usint_max", float64(255), logix.TypeUSINT, uint8(255), false},
		{"usint_overflow", float64(256), logix.TypeUSINT, nil, true},
		{"usint_negative", float64(-1), logix.TypeUSINT, nil, true},

		{"uint_valid", float64(50000), logix.TypeUINT, uint16(50000), false},
		{"uint_max", float64(65535), logix.TypeUINT, uint16(65535), false},
		{"uint_overflow", float64(65536), logix.TypeUINT, nil, true},

		{"string_valid", "hello", uint16(0), "hello", false}, // unknown types pass through
		{"int_from_num_fallback", float64(123), uint16(0), int32(123), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := convertValueForType(tc.value, tc.dataType)

			if tc.hasError {
				if err == nil {
					t.Errorf("expected error for %s", tc.name)
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			switch expected := tc.expected.(type) {
			case int8:
				if r, ok := result.(int8); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case int16:
				if r, ok := result.(int16); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case int32:
				if r, ok := result.(int32); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case uint8:
				if r, ok := result.(uint8); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case uint16:
				if r, ok := result.(uint16); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case float32:
				if r, ok := result.(float32); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case float64:
				if r, ok := result.(float64); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case bool:
				if r, ok := result.(bool); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			case string:
				if r, ok := result.(string); !ok || r != expected {
					t.Errorf("expected %v (%T), got %v (%T)", expected, expected, result, result)
				}
			}
		})
	}
}

// TestPublisher_NewPublisher tests publisher creation.
func TestPublisher_NewPublisher(t *testing.T) {
	cfg := &config.MQTTConfig{
		Name:    "test",
		Broker:  "localhost",
		Port:    1883,
		Enabled: true,
	}
	pub := NewPublisher(cfg)

	if pub == nil {
		t.Fatal("expected non-nil publisher")
	}
	if pub.Name() != "test" {
		t.Errorf("expected name 'test', got %q", pub.Name())
	}
	if pub.IsRunning() {
		t.Error("new publisher should not be running")
	}
}

// TestPublisher_Address tests address formatting.
func TestPublisher_Address(t *testing.T) {
	t.Run("tcp address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   1883,
			UseTLS: false,
		}
		pub := NewPublisher(cfg)
		addr := pub.Address()

		if addr != "tcp://localhost:1883" {
			t.Errorf("expected 'tcp://localhost:1883', got %q", addr)
		}
	})

	t.Run("ssl address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   8883,
			UseTLS: true,
		}
		pub := NewPublisher(cfg)
		addr := pub.Address()

		if addr != "ssl://localhost:8883" {
			t.Errorf("expected 'ssl://localhost:8883', got %q", addr)
		}
	})
}
