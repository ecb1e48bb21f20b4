package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/concordchat/concord/internal/identity"
	"github.com/concordchat/concord/internal/message"
	"github.com/concordchat/concord/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubIdentityStore struct {
	mu        sync.Mutex
	snapshots map[string]identity.Snapshot
	channels  map[string]identity.ChannelInfo
}

func (s *stubIdentityStore) Snapshot(_ context.Context, id string) (identity.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return identity.Snapshot{}, identity.ErrUserNotFound
	}
	return snap, nil
}

func (s *stubIdentityStore) IsFriend(_ context.Context, userID, otherID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[userID].HasFriend(otherID), nil
}

func (s *stubIdentityStore) IsServerMember(_ context.Context, userID, serverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[userID].HasServer(serverID), nil
}

func (s *stubIdentityStore) ChannelInfo(_ context.Context, channelID string) (identity.ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.channels[channelID]
	if !ok {
		return identity.ChannelInfo{}, identity.ErrChannelNotFound
	}
	return info, nil
}

func (s *stubIdentityStore) SetStatus(context.Context, string, string) error {
	return nil
}

type stubMessageStore struct {
	mu       sync.Mutex
	messages []message.Message
}

func (s *stubMessageStore) Create(_ context.Context, msg message.Message) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = "m1"
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *stubMessageStore) ListPage(context.Context, string, int, int) ([]message.Message, error) {
	return nil, nil
}

func (s *stubMessageStore) FindOrCreateDirectChannel(_ context.Context, a, b string) (message.DirectChannel, error) {
	return message.DirectChannel{ID: "dm1", UserA: a, UserB: b}, nil
}

func (s *stubMessageStore) TouchDirectChannel(context.Context, string, string) error {
	return nil
}

func (s *stubMessageStore) DirectChannelByID(context.Context, string) (message.DirectChannel, error) {
	return message.DirectChannel{}, message.ErrChannelNotFound
}

func dispatchFixture(t *testing.T) (*connection, *relay.Session, *relay.Session) {
	t.Helper()
	ids := &stubIdentityStore{
		snapshots: map[string]identity.Snapshot{
			"alice": {ID: "alice", Username: "alice", FriendIDs: []string{"bob"}, ServerIDs: []string{"srv1"}},
			"bob":   {ID: "bob", Username: "bob", FriendIDs: []string{"alice"}, ServerIDs: []string{"srv1"}},
		},
		channels: map[string]identity.ChannelInfo{
			"general": {ID: "general", ServerID: "srv1", Name: "general", Kind: identity.ChannelKindText},
		},
	}
	svc := relay.NewService(nil, ids, &stubMessageStore{}, relay.Options{
		TypingTTL:    time.Minute,
		StoreTimeout: time.Second,
	})

	alice, err := svc.Attach(context.Background(), "alice")
	if err != nil {
		t.Fatalf("attach alice: %v", err)
	}
	bob, err := svc.Attach(context.Background(), "bob")
	if err != nil {
		t.Fatalf("attach bob: %v", err)
	}
	conn := &connection{
		sess:    alice,
		relay:   svc,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  testLogger(),
	}
	return conn, alice, bob
}

func collect(s *relay.Session) []relay.Event {
	var out []relay.Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(events []relay.Event, typ relay.EventType) []relay.Event {
	var out []relay.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestDispatchSendServerMessage(t *testing.T) {
	t.Parallel()
	conn, alice, bob := dispatchFixture(t)
	collect(alice)
	collect(bob)

	conn.dispatch([]byte(`{"type":"sendServerMessage","data":{"channelId":"general","content":"hello"}}`))

	for _, sess := range []*relay.Session{alice, bob} {
		got := ofType(collect(sess), relay.EventNewMessage)
		if len(got) != 1 {
			t.Fatalf("newMessage events = %d, want 1", len(got))
		}
		msg := got[0].Data.(message.Message)
		if msg.Content != "hello" || msg.AuthorID != "alice" {
			t.Fatalf("message = %+v", msg)
		}
	}
}

func TestDispatchSendDirectMessage(t *testing.T) {
	t.Parallel()
	conn, alice, bob := dispatchFixture(t)
	collect(alice)
	collect(bob)

	conn.dispatch([]byte(`{"type":"sendDirectMessage","data":{"friendId":"bob","content":"hey"}}`))

	if errs := ofType(collect(alice), relay.EventError); len(errs) != 0 {
		t.Fatalf("sender got errors: %+v", errs[0].Data)
	}
	got := ofType(collect(bob), relay.EventNewMessage)
	if len(got) != 1 {
		t.Fatalf("newMessage events = %d, want 1", len(got))
	}
	msg := got[0].Data.(message.Message)
	if msg.Content != "hey" || msg.AuthorID != "alice" || msg.ChannelKind != message.ChannelKindDirect {
		t.Fatalf("message = %+v", msg)
	}
}

func TestDispatchTypingRoundTrip(t *testing.T) {
	t.Parallel()
	conn, alice, bob := dispatchFixture(t)
	collect(alice)
	collect(bob)

	conn.dispatch([]byte(`{"type":"startTyping","data":{"room":"server:srv1"}}`))
	if got := ofType(collect(bob), relay.EventTyping); len(got) != 1 {
		t.Fatalf("typing events = %d, want 1", len(got))
	}
	conn.dispatch([]byte(`{"type":"stopTyping","data":{"room":"server:srv1"}}`))
	if got := ofType(collect(bob), relay.EventStoppedTyping); len(got) != 1 {
		t.Fatalf("stopped events = %d, want 1", len(got))
	}
}

func TestDispatchReportsErrorsToSenderOnly(t *testing.T) {
	t.Parallel()
	conn, alice, bob := dispatchFixture(t)
	collect(alice)
	collect(bob)

	conn.dispatch([]byte(`{"type":"sendServerMessage","data":{"channelId":"general","content":"  "}}`))

	got := ofType(collect(alice), relay.EventError)
	if len(got) != 1 {
		t.Fatalf("error events = %d, want 1", len(got))
	}
	payload := got[0].Data.(relay.ErrorPayload)
	if payload.Kind != relay.KindValidation {
		t.Fatalf("kind = %q, want validation", payload.Kind)
	}
	if len(collect(bob)) != 0 {
		t.Fatal("errors must not reach other sessions")
	}
}

func TestDispatchMalformedAndUnknown(t *testing.T) {
	t.Parallel()
	conn, alice, _ := dispatchFixture(t)
	collect(alice)

	conn.dispatch([]byte(`{not json`))
	conn.dispatch([]byte(`{"type":"fly","data":{}}`))

	got := ofType(collect(alice), relay.EventError)
	if len(got) != 2 {
		t.Fatalf("error events = %d, want 2", len(got))
	}
	for _, ev := range got {
		if ev.Data.(relay.ErrorPayload).Kind != relay.KindValidation {
			t.Fatalf("kind = %q, want validation", ev.Data.(relay.ErrorPayload).Kind)
		}
	}
}
