package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) (*StreamsEventBus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return newBusOn(t, client, "consumer-1"), client
}

func newBusOn(t *testing.T, client *redis.Client, consumer string) *StreamsEventBus {
	t.Helper()
	bus, err := NewStreamsEventBus(client, "jobrelay-test", consumer, zap.NewNop())
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func collect(t *testing.T, bus *StreamsEventBus, ctx context.Context, topic string) <-chan domain.Event {
	t.Helper()
	ch := make(chan domain.Event, 16)
	if err := bus.Subscribe(ctx, topic, func(ctx context.Context, ev domain.Event) error {
		ch <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return ch
}

func TestPublishSubscribe(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.Event, 1)
	if err := bus.Subscribe(ctx, domain.TopicJobEvents, func(ctx context.Context, ev domain.Event) error {
		received <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := bus.Publish(ctx, domain.TopicJobEvents, domain.Event{
		ID:      "ev-1",
		Type:    domain.EventTypeJobCreated,
		JobUUID: "job-1",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-received:
		if ev.ID != "ev-1" || ev.JobUUID != "job-1" || ev.Type != domain.EventTypeJobCreated {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestRawMessageEntry(t *testing.T) {
	bus, client := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.Event, 1)
	if err := bus.Subscribe(ctx, domain.TopicMessages, func(ctx context.Context, ev domain.Event) error {
		received <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	raw := `{"appId":"app-123","job_definition":{"name":"run1"}}`
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: getStreamKey(domain.TopicMessages),
		Values: map[string]interface{}{"message": raw},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Type != domain.EventTypeMessageReceived || ev.Data["raw"] != raw {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Message().Structured["appId"] != "app-123" {
			t.Fatalf("raw entry should also decode as a structured message: %+v", ev.Message())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestDecodeMessageRejectsUnknownEntries(t *testing.T) {
	if _, err := decodeMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"other": "x"}}); err == nil {
		t.Fatalf("expected error for entry without data or message")
	}
	if _, err := decodeMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"data": "{"}}); err == nil {
		t.Fatalf("expected error for undecodable data")
	}
}

func TestJobEventsFanOut(t *testing.T) {
	first, client := newTestBus(t)
	second := newBusOn(t, client, "consumer-2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Entries published before subscribing are not replayed
	if err := first.Publish(ctx, domain.TopicJobEvents, domain.Event{ID: "old"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	a := collect(t, first, ctx, domain.TopicJobEvents)
	b := collect(t, second, ctx, domain.TopicJobEvents)

	if err := first.Publish(ctx, domain.TopicJobEvents, domain.Event{ID: "ev-1", JobUUID: "job-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, ch := range map[string]<-chan domain.Event{"first": a, "second": b} {
		select {
		case ev := <-ch:
			if ev.ID != "ev-1" {
				t.Fatalf("%s subscriber got %q, want ev-1", name, ev.ID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s subscriber timed out", name)
		}
	}
}

func TestMessagesShareConsumerGroup(t *testing.T) {
	first, client := newTestBus(t)
	second := newBusOn(t, client, "consumer-2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := collect(t, first, ctx, domain.TopicMessages)
	b := collect(t, second, ctx, domain.TopicMessages)

	const n = 4
	for i := 0; i < n; i++ {
		ev := domain.MessageEvent(fmt.Sprintf("m-%d", i), domain.Message{Raw: "x"}, time.Now())
		if err := first.Publish(ctx, domain.TopicMessages, ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	seen := map[string]int{}
	deadline := time.After(5 * time.Second)
	for len(seen) < n {
		select {
		case ev := <-a:
			seen[ev.ID]++
		case ev := <-b:
			seen[ev.ID]++
		case <-deadline:
			t.Fatalf("received %d of %d messages", len(seen), n)
		}
	}

	// Give a duplicate delivery time to show up
	select {
	case ev := <-a:
		seen[ev.ID]++
	case ev := <-b:
		seen[ev.ID]++
	case <-time.After(200 * time.Millisecond):
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("message %s delivered %d times", id, count)
		}
	}
}

func TestCloseStopsSubscribers(t *testing.T) {
	bus, _ := newTestBus(t)

	_ = collect(t, bus, context.Background(), domain.TopicJobEvents)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := bus.Subscribe(context.Background(), domain.TopicJobEvents, func(context.Context, domain.Event) error { return nil })
	if err == nil {
		t.Fatalf("subscribe after close should fail")
	}
}

func TestSubscribeReclaimsStalePendingEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamKey := getStreamKey(domain.TopicMessages)
	if err := client.XGroupCreateMkStream(ctx, streamKey, "jobrelay-test", "0").Err(); err != nil {
		t.Fatalf("create group: %v", err)
	}
	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"message": `{"appId":"app-123"}`},
	}).Result()
	if err != nil {
		t.Fatalf("xadd: %v", err)
	}

	// A consumer that read the entry and stopped before acknowledging it
	if err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "jobrelay-test",
		Consumer: "stopped-consumer",
		Streams:  []string{streamKey, ">"},
		Count:    1,
	}).Err(); err != nil {
		t.Fatalf("xreadgroup: %v", err)
	}

	bus := newBusOn(t, client, "consumer-2")
	bus.claimMinIdle = 0
	events := collect(t, bus, ctx, domain.TopicMessages)

	select {
	case ev := <-events:
		if ev.ID != id || ev.Message().Structured["appId"] != "app-123" {
			t.Fatalf("unexpected reclaimed event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pending entry was not reclaimed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, err := client.XPending(ctx, streamKey, "jobrelay-test").Result()
		if err != nil {
			t.Fatalf("xpending: %v", err)
		}
		if pending.Count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reclaimed entry was never acknowledged, %d pending", pending.Count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandlerErrorLeavesEntryPending(t *testing.T) {
	bus, client := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refused := make(chan struct{}, 1)
	if err := bus.Subscribe(ctx, domain.TopicMessages, func(ctx context.Context, ev domain.Event) error {
		refused <- struct{}{}
		return fmt.Errorf("worker pool is shutting down")
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := domain.MessageEvent("m-1", domain.Message{Raw: "x"}, time.Now())
	if err := bus.Publish(ctx, domain.TopicMessages, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-refused:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never called")
	}

	pending, err := client.XPending(ctx, getStreamKey(domain.TopicMessages), "jobrelay-test").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("refused entry must stay pending, got %d", pending.Count)
	}
}
