package notify

import (
	"context"
	"errors"
	"testing"
)

func TestNotifyDeliversToExactClient(t *testing.T) {
	hub := NewHub(4)
	a, err := hub.Subscribe("tab-a")
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	b, err := hub.Subscribe("tab-b")
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	defer a.Close()
	defer b.Close()

	if err := hub.Notify(context.Background(), "tab-a", ResourceChanged("/a.js")); err != nil {
		t.Fatalf("notify error: %v", err)
	}

	select {
	case msg := <-a.Messages():
		if msg.Kind != KindResourceChanged || msg.URL != "/a.js" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	default:
		t.Fatalf("tab-a should receive the message")
	}
	select {
	case msg := <-b.Messages():
		t.Fatalf("tab-b must not receive %+v", msg)
	default:
	}
}

func TestNotifyUnknownClient(t *testing.T) {
	hub := NewHub(1)
	err := hub.Notify(context.Background(), "ghost", ResourceChanged("/a.js"))
	if !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestNotifyDropsWhenBacklogged(t *testing.T) {
	hub := NewHub(1)
	sub, _ := hub.Subscribe("tab")
	defer sub.Close()

	if err := hub.Notify(context.Background(), "tab", ResourceChanged("/1")); err != nil {
		t.Fatalf("first notify error: %v", err)
	}
	if err := hub.Notify(context.Background(), "tab", ResourceChanged("/2")); !errors.Is(err, ErrClientBacklogged) {
		t.Fatalf("expected ErrClientBacklogged, got %v", err)
	}
}

func TestResubscribeReplacesPreviousStream(t *testing.T) {
	hub := NewHub(1)
	first, _ := hub.Subscribe("tab")
	second, _ := hub.Subscribe("tab")

	if _, ok := <-first.Messages(); ok {
		t.Fatalf("previous stream should be closed")
	}
	first.Close()
	if len(hub.Clients()) != 1 {
		t.Fatalf("closing a replaced stream must keep the new one")
	}
	second.Close()
	if len(hub.Clients()) != 0 {
		t.Fatalf("expected no clients after close")
	}
}

func TestClaimAdoptsOpenAndLaterClients(t *testing.T) {
	hub := NewHub(1)
	early, _ := hub.Subscribe("early")
	defer early.Close()

	if n := hub.Claim("feel-playground-cache-v2"); n != 1 {
		t.Fatalf("expected one claimed client, got %d", n)
	}
	late, _ := hub.Subscribe("late")
	defer late.Close()

	for _, info := range hub.Clients() {
		if info.Controller != "feel-playground-cache-v2" {
			t.Fatalf("client %s not controlled: %+v", info.ID, info)
		}
	}
}
