package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func runBus(t *testing.T, b *EventBus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Dispatch(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEventBusDeliversByTypeAndWildcard(t *testing.T) {
	b := NewEventBus(10)
	var mu sync.Mutex
	var typed, all []string
	b.Subscribe(EventIssueCreated, func(ev *Event) {
		mu.Lock()
		typed = append(typed, ev.Type)
		mu.Unlock()
	})
	b.Subscribe(AllEvents, func(ev *Event) {
		mu.Lock()
		all = append(all, ev.Type)
		mu.Unlock()
	})
	runBus(t, b)

	b.Publish(&Event{Type: EventChatAnalyzed})
	b.Publish(&Event{Type: EventIssueCreated})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(all) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if len(typed) != 1 || typed[0] != EventIssueCreated {
		t.Fatalf("unexpected typed deliveries: %v", typed)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	b := NewEventBus(10)
	var mu sync.Mutex
	count := 0
	unsub := b.Subscribe(AllEvents, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()
	b.deliver(&Event{Type: EventChatAnalyzed})
	if count != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestEventBusDropsWhenFull(t *testing.T) {
	b := NewEventBus(1)
	b.Publish(&Event{Type: EventChatAnalyzed})
	b.Publish(&Event{Type: EventChatAnalyzed})
	if b.Pending() != 1 || b.Dropped() != 1 {
		t.Fatalf("expected 1 pending and 1 dropped, got %d/%d", b.Pending(), b.Dropped())
	}
}

func TestEventBusDrain(t *testing.T) {
	b := NewEventBus(8)
	var got []string
	b.Subscribe(AllEvents, func(ev *Event) { got = append(got, ev.Key) })

	b.Publish(&Event{Type: EventIssueCreated, Key: "a"})
	b.Publish(&Event{Type: EventIssueCreated, Key: "b"})

	if n := b.Drain(); n != 2 {
		t.Fatalf("expected 2 drained events, got %d", n)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
	if b.Pending() != 0 || b.Drain() != 0 {
		t.Fatal("expected empty queue after drain")
	}
}

func TestEventBusSurvivesPanickingSubscriber(t *testing.T) {
	b := NewEventBus(1)
	got := false
	b.Subscribe(AllEvents, func(*Event) { panic("boom") })
	b.Subscribe(AllEvents, func(*Event) { got = true })
	b.deliver(&Event{Type: EventChatAnalyzed})
	if !got {
		t.Fatal("expected second subscriber to run")
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkWritesEvents(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, 0)
	b := NewEventBus(10)
	sink.Attach(b)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	b.deliver(&Event{Type: EventIssueCreated, Key: "issue-1", Data: map[string]string{"severity": "critical"}, At: at})

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "issue-1" || !msg.Time.Equal(at) {
		t.Fatalf("unexpected message key/time: %s %v", msg.Key, msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != EventIssueCreated {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}
	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded["type"] != EventIssueCreated {
		t.Fatalf("unexpected payload: %v", decoded)
	}

	_ = sink.Close()
	if !w.closed {
		t.Fatal("expected writer closed")
	}
}

func TestKafkaSinkWriteFailureIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := NewKafkaSink(w, time.Millisecond)
	sink.Handle(&Event{Type: EventChatAnalyzed})
	if len(w.msgs) != 0 {
		t.Fatal("expected no messages")
	}
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter("a:9092,b:9092", "joi.governance")
	if w.Topic != "joi.governance" {
		t.Fatalf("unexpected topic %s", w.Topic)
	}
	_ = w.Close()
}
