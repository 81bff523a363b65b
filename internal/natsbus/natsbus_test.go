package natsbus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nichescout/nichescout/internal/config"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    -1, // random
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func newTestClient(t *testing.T, bus *Bus) *Client {
	t.Helper()
	client, err := NewClient(bus, "test")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)

	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
	if bus.Port() <= 0 {
		t.Errorf("expected a real port, got %d", bus.Port())
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)
	client := newTestClient(t, bus)

	received := make(chan string, 1)
	_, err := client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishEvent(t *testing.T) {
	bus := newTestBus(t)
	pub := newTestClient(t, bus)
	sub := newTestClient(t, bus)

	received := make(chan Event, 4)
	if _, err := sub.SubscribeEvents(TopicEventsRuns, func(e Event) { received <- e }); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	sub.Flush()

	// Not an event: dropped.
	_ = pub.Publish(TopicEventsRun("r1"), []byte("garbage"))
	ev := NewRunEvent(EventRunRouted, "r1", map[string]any{"next": "market"})
	if err := pub.PublishEvent(ev); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	pub.Flush()

	select {
	case got := <-received:
		if got.Type != EventRunRouted || got.RunID != "r1" {
			t.Errorf("unexpected event: %+v", got)
		}
		if got.Data["next"] != "market" {
			t.Errorf("unexpected data: %v", got.Data)
		}
		if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
			t.Errorf("bad timestamp %q: %v", got.Timestamp, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case extra := <-received:
		t.Errorf("unexpected extra event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicEventsRun("r1"); got != "events.run.r1" {
		t.Errorf("expected events.run.r1, got %s", got)
	}
	if got := TopicEventsSchedule("s1"); got != "events.schedule.s1" {
		t.Errorf("expected events.schedule.s1, got %s", got)
	}

	ev := Event{Type: EventScheduleExecuted, ScheduleID: "s1"}
	if got := ev.Topic(); got != "events.schedule.s1" {
		t.Errorf("schedule event topic = %s", got)
	}
}
