package relay

import (
	"testing"

	"github.com/concordchat/concord/internal/identity"
)

func TestSessionSendNonBlocking(t *testing.T) {
	t.Parallel()
	var dropped int
	sess := NewSession(identity.Snapshot{ID: "u1"}, 2, func(Event) { dropped++ })

	if !sess.Send(Event{Type: EventTyping}) {
		t.Fatal("first send should succeed")
	}
	if !sess.Send(Event{Type: EventTyping}) {
		t.Fatal("second send should succeed")
	}
	if sess.Send(Event{Type: EventTyping}) {
		t.Fatal("send to full queue should report failure")
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	t.Parallel()
	sess := NewSession(identity.Snapshot{ID: "u1"}, 4, nil)
	sess.Close()
	sess.Close() // idempotent

	if sess.Send(Event{Type: EventTyping}) {
		t.Fatal("send after close should report failure")
	}
	select {
	case <-sess.Done():
	default:
		t.Fatal("Done should be closed")
	}
}
