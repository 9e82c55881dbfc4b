package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan UploadResultEvent, 1)

	unsub := bus.Subscribe(func(e UploadResultEvent) {
		received <- e
	})
	defer unsub()

	event := UploadResultEvent{
		Device:    "/dev/video0",
		Success:   true,
		Succeeded: 3,
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Device != event.Device {
		t.Errorf("Expected device %s, got %s", event.Device, got.Device)
	}
	if got.Succeeded != 3 {
		t.Errorf("Expected succeeded 3, got %d", got.Succeeded)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan SubscriberEvent, 1)
	received2 := make(chan SubscriberEvent, 1)

	unsub1 := bus.Subscribe(func(e SubscriberEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e SubscriberEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(SubscriberEvent{ID: "a", Action: "joined", Subscribers: 1})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureStateEvent, 1)

	unsub := bus.Subscribe(func(e CaptureStateEvent) {
		received <- e
	})

	bus.Publish(CaptureStateEvent{Device: "/dev/video0", To: "opening"})
	<-received

	unsub()

	bus.Publish(CaptureStateEvent{Device: "/dev/video0", To: "closed"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	uploadReceived := make(chan bool, 1)
	relayReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ UploadResultEvent) {
		uploadReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ FrameRelayedEvent) {
		relayReceived <- true
	})
	defer unsub2()

	bus.Publish(UploadResultEvent{Device: "/dev/video0"})
	<-uploadReceived

	select {
	case <-relayReceived:
		t.Fatal("Relay subscriber should NOT have received UploadResultEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(FrameRelayedEvent{Bytes: 10})
	<-relayReceived

	select {
	case <-uploadReceived:
		t.Fatal("Upload subscriber should NOT have received FrameRelayedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ PipelineStatsEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(PipelineStatsEvent{
					FPS:       30,
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"CaptureState", CaptureStateEvent{Device: "test", To: "previewing"}},
		{"PipelineStats", PipelineStatsEvent{Device: "test", FPS: 12}},
		{"UploadResult", UploadResultEvent{Device: "test", Success: true}},
		{"FrameRelayed", FrameRelayedEvent{Bytes: 1}},
		{"Subscriber", SubscriberEvent{ID: "x", Action: "left"}},
		{"LogEntry", LogEntryEvent{Seq: 1, Message: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case CaptureStateEvent:
				unsub = bus.Subscribe(func(e CaptureStateEvent) { received <- e })
			case PipelineStatsEvent:
				unsub = bus.Subscribe(func(e PipelineStatsEvent) { received <- e })
			case UploadResultEvent:
				unsub = bus.Subscribe(func(e UploadResultEvent) { received <- e })
			case FrameRelayedEvent:
				unsub = bus.Subscribe(func(e FrameRelayedEvent) { received <- e })
			case SubscriberEvent:
				unsub = bus.Subscribe(func(e SubscriberEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	if unsub == nil {
		t.Fatal("Expected a no-op unsubscribe for unknown handler types")
	}
	unsub()
}

func TestBus_NilPublish(_ *testing.T) {
	var bus *Bus
	bus.Publish(FrameRelayedEvent{})
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name string
		ev   any
		key  string
	}{
		{"UploadResultEvent", UploadResultEvent{Device: "test", Error: "status 500"}, "error"},
		{"PipelineStatsEvent", PipelineStatsEvent{Device: "test", LatencyMs: 4.5}, "latency_ms"},
		{"SubscriberEvent", SubscriberEvent{ID: "abc", Action: "joined"}, "action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if _, ok := result[tt.key]; !ok {
				t.Errorf("Expected key %q in %s", tt.key, data)
			}
		})
	}
}

func TestStreamMergesTypes(t *testing.T) {
	bus := New()
	stream := NewStream(10)
	Listen[SubscriberEvent](bus, stream)
	Listen[FrameRelayedEvent](bus, stream)
	defer stream.Close()

	bus.Publish(SubscriberEvent{ID: "viewer-1", Action: "joined", Subscribers: 1})
	bus.Publish(FrameRelayedEvent{Bytes: 42})
	bus.Publish(UploadResultEvent{Success: true})

	var gotSubscriber, gotFrame bool
	for range 2 {
		select {
		case e := <-stream.C():
			switch ev := e.(type) {
			case SubscriberEvent:
				gotSubscriber = ev.ID == "viewer-1"
			case FrameRelayedEvent:
				gotFrame = ev.Bytes == 42
			default:
				t.Errorf("Unexpected event %T", e)
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for event")
		}
	}
	if !gotSubscriber || !gotFrame {
		t.Errorf("Expected both event types, subscriber=%v frame=%v", gotSubscriber, gotFrame)
	}

	select {
	case e := <-stream.C():
		t.Errorf("Expected unsubscribed type to be filtered, got %T", e)
	default:
	}
}

func TestStreamDropsWhenFull(t *testing.T) {
	bus := New()
	stream := NewStream(1)
	Listen[FrameRelayedEvent](bus, stream)
	defer stream.Close()

	done := make(chan struct{})
	go func() {
		for i := range 3 {
			bus.Publish(FrameRelayedEvent{Bytes: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full stream")
	}

	deadline := time.Now().Add(time.Second)
	for stream.Dropped() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := stream.Dropped(); got != 2 {
		t.Errorf("Expected 2 dropped events, got %d", got)
	}
}

func TestStreamCloseStopsDelivery(t *testing.T) {
	bus := New()
	stream := NewStream(4)
	Listen[SubscriberEvent](bus, stream)

	stream.Close()
	Listen[FrameRelayedEvent](bus, stream)
	bus.Publish(SubscriberEvent{ID: "late"})
	bus.Publish(FrameRelayedEvent{Bytes: 1})

	time.Sleep(50 * time.Millisecond)
	select {
	case e := <-stream.C():
		t.Errorf("Expected no events after Close, got %T", e)
	default:
	}
}
