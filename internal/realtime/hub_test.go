package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/doctalk/doctalk-backend/internal/logger"
)

func TestHubBroadcastReachesOnlyOwner(t *testing.T) {
	hub := NewHub(logger.NewNop())
	alice := hub.Subscribe(1)
	bob := hub.Subscribe(2)
	defer hub.Unsubscribe(alice)
	defer hub.Unsubscribe(bob)

	hub.Broadcast(Event{UserID: 1, Type: EventDocumentsUploaded})

	select {
	case ev := <-alice.Outbound:
		if ev.Type != EventDocumentsUploaded {
			t.Fatalf("type = %q, want %q", ev.Type, EventDocumentsUploaded)
		}
	case <-time.After(time.Second):
		t.Fatal("owner never received the event")
	}

	select {
	case ev := <-bob.Outbound:
		t.Fatalf("unexpected event for other user: %+v", ev)
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(logger.NewNop())
	client := hub.Subscribe(1)
	defer hub.Unsubscribe(client)

	// overflow the outbound buffer without a reader; must not block
	for i := 0; i < 100; i++ {
		hub.Broadcast(Event{UserID: 1, Type: EventFlashcardsGenerated})
	}
	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered = %d, want full buffer %d", got, cap(client.Outbound))
	}
}

func TestLocalBusDeliversToForwarder(t *testing.T) {
	bus := NewLocalBus()
	got := make(chan Event, 1)
	if err := bus.StartForwarder(context.Background(), func(ev Event) { got <- ev }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	if err := bus.Publish(context.Background(), Event{UserID: 7, Type: EventMindmapGenerated}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case ev := <-got:
		if ev.UserID != 7 || ev.Type != EventMindmapGenerated {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("forwarder never saw the event")
	}
}
