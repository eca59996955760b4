package telemetry

import (
	"testing"
	"time"
)

// TestBus_NoSinks verifies a Bus with nothing configured performs no I/O
// and never panics.
func TestBus_NoSinks(t *testing.T) {
	b := NewBus()

	if b.AnyRunning() {
		t.Error("empty bus should report no running sinks")
	}

	b.Publish(Event{Kind: KindExplicitRead, Device: "10.0.0.1", Path: "Counter", Value: int32(1)})
	b.PublishHealth("10.0.0.1", "cip", true, "Connected", "")

	if started := b.StartAll(); started != 0 {
		t.Errorf("expected 0 started connections, got %d", started)
	}
	b.StopAll()
}

// TestBus_AddMultipleSinks verifies sinks accumulate and are all visited.
func TestBus_AddMultipleSinks(t *testing.T) {
	b := NewBus()
	s1 := &fakeSink{name: "fake1"}
	s2 := &fakeSink{name: "fake2"}
	b.Add(s1)
	b.Add(s2)

	ev := Event{Kind: KindCyclicSample, Device: "10.0.0.1", Path: "assembly100", Value: uint32(7), Timestamp: time.Now()}
	b.Publish(ev)

	if len(s1.published) != 1 || len(s2.published) != 1 {
		t.Fatalf("expected both sinks to receive one event, got %d and %d", len(s1.published), len(s2.published))
	}
	if s1.published[0].Path != "assembly100" {
		t.Errorf("unexpected event forwarded: %+v", s1.published[0])
	}
}

// TestBus_PublishStampsTimestamp verifies a zero Timestamp gets filled in.
func TestBus_PublishStampsTimestamp(t *testing.T) {
	b := NewBus()
	s := &fakeSink{name: "fake"}
	b.Add(s)

	b.Publish(Event{Kind: KindDiscovery, Device: "10.0.0.1"})

	if s.published[0].Timestamp.IsZero() {
		t.Error("expected Publish to stamp a timestamp when none is given")
	}
}

// fakeSink is a minimal Sink used to test Bus fan-out without real network I/O.
type fakeSink struct {
	name      string
	published []Event
	running   bool
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Publish(ev Event) {
	f.published = append(f.published, ev)
}
func (f *fakeSink) PublishHealth(device, driver string, online bool, status, errMsg string) {}
func (f *fakeSink) StartAll() int                                                           { f.running = true; return 1 }
func (f *fakeSink) StopAll()                                                                { f.running = false }
func (f *fakeSink) AnyRunning() bool                                                         { return f.running }
