package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordchat/concord/internal/identity"
	"github.com/concordchat/concord/internal/message"
)

type fakeIdentityStore struct {
	mu        sync.Mutex
	snapshots map[string]identity.Snapshot
	channels  map[string]identity.ChannelInfo
	statuses  map[string]string
	fail      bool
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{
		snapshots: make(map[string]identity.Snapshot),
		channels:  make(map[string]identity.ChannelInfo),
		statuses:  make(map[string]string),
	}
}

func (f *fakeIdentityStore) Snapshot(_ context.Context, id string) (identity.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return identity.Snapshot{}, fmt.Errorf("store down")
	}
	snap, ok := f.snapshots[id]
	if !ok {
		return identity.Snapshot{}, identity.ErrUserNotFound
	}
	return snap, nil
}

func (f *fakeIdentityStore) IsFriend(_ context.Context, userID, otherID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, fmt.Errorf("store down")
	}
	return f.snapshots[userID].HasFriend(otherID), nil
}

func (f *fakeIdentityStore) IsServerMember(_ context.Context, userID, serverID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, fmt.Errorf("store down")
	}
	snap, ok := f.snapshots[userID]
	if !ok {
		return false, nil
	}
	return snap.HasServer(serverID), nil
}

func (f *fakeIdentityStore) ChannelInfo(_ context.Context, channelID string) (identity.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return identity.ChannelInfo{}, fmt.Errorf("store down")
	}
	info, ok := f.channels[channelID]
	if !ok {
		return identity.ChannelInfo{}, identity.ErrChannelNotFound
	}
	return info, nil
}

func (f *fakeIdentityStore) SetStatus(_ context.Context, identityID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[identityID] = status
	return nil
}

type fakeMessageStore struct {
	mu        sync.Mutex
	byKey     map[string]message.DirectChannel
	byID      map[string]message.DirectChannel
	messages  []message.Message
	creations int
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		byKey: make(map[string]message.DirectChannel),
		byID:  make(map[string]message.DirectChannel),
	}
}

func (f *fakeMessageStore) Create(_ context.Context, msg message.Message) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeMessageStore) ListPage(_ context.Context, channelID string, page, pageSize int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, pageSize = message.ClampPage(page, pageSize)
	var all []message.Message
	for _, m := range f.messages {
		if m.ChannelID == channelID {
			all = append(all, m)
		}
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeMessageStore) FindOrCreateDirectChannel(_ context.Context, userA, userB string) (message.DirectChannel, error) {
	key := message.PairKey(userA, userB)
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.byKey[key]; ok {
		return ch, nil
	}
	ch := message.DirectChannel{
		ID:           uuid.NewString(),
		UserA:        userA,
		UserB:        userB,
		LastActivity: time.Now(),
	}
	f.byKey[key] = ch
	f.byID[ch.ID] = ch
	f.creations++
	return ch, nil
}

func (f *fakeMessageStore) TouchDirectChannel(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.byID[channelID]
	if !ok {
		return message.ErrChannelNotFound
	}
	ch.LastMessageID = messageID
	ch.LastActivity = time.Now()
	f.byID[channelID] = ch
	f.byKey[message.PairKey(ch.UserA, ch.UserB)] = ch
	return nil
}

func (f *fakeMessageStore) DirectChannelByID(_ context.Context, channelID string) (message.DirectChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.byID[channelID]
	if !ok {
		return message.DirectChannel{}, message.ErrChannelNotFound
	}
	return ch, nil
}

type serviceFixture struct {
	svc        *Service
	identities *fakeIdentityStore
	messages   *fakeMessageStore
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ids := newFakeIdentityStore()
	msgs := newFakeMessageStore()
	svc := NewService(nil, ids, msgs, Options{
		MaxMessageLength: 2000,
		TypingTTL:        time.Minute,
		StoreTimeout:     time.Second,
		SessionBuffer:    32,
	})

	ids.snapshots["alice"] = identity.Snapshot{
		ID: "alice", Username: "alice", DisplayName: "Alice",
		FriendIDs: []string{"bob"},
		ServerIDs: []string{"srv1"},
	}
	ids.snapshots["bob"] = identity.Snapshot{
		ID: "bob", Username: "bob",
		FriendIDs: []string{"alice"},
		ServerIDs: []string{"srv1"},
	}
	ids.snapshots["mallory"] = identity.Snapshot{
		ID: "mallory", Username: "mallory",
	}
	ids.channels["general"] = identity.ChannelInfo{
		ID: "general", ServerID: "srv1", Name: "general", Kind: identity.ChannelKindText,
	}
	ids.channels["lounge"] = identity.ChannelInfo{
		ID: "lounge", ServerID: "srv1", Name: "lounge", Kind: identity.ChannelKindVoice,
	}
	return &serviceFixture{svc: svc, identities: ids, messages: msgs}
}

func (f *serviceFixture) attach(t *testing.T, id string) *Session {
	t.Helper()
	sess, err := f.svc.Attach(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestAttachSubscribesRoomsAndGoesOnline(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	sess := f.attach(t, "alice")
	rooms := f.svc.Registry().Rooms(sess)
	assert.Contains(t, rooms, IdentityRoom("alice"))
	assert.Contains(t, rooms, ServerRoom("srv1"))
	assert.Equal(t, identity.StatusOnline, f.svc.Presence().Status("alice"))
	assert.Equal(t, identity.StatusOnline, f.identities.statuses["alice"])
}

func TestAttachUnknownIdentity(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	_, err := f.svc.Attach(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestAttachStoreDown(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.identities.fail = true
	_, err := f.svc.Attach(context.Background(), "alice")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSendToServerChannelFansOut(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	bob := f.attach(t, "bob")
	drain(alice)
	drain(bob)

	msg, err := f.svc.SendToServerChannel(context.Background(), alice, "general", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content, "content is trimmed")
	assert.Equal(t, "alice", msg.AuthorID)
	assert.Equal(t, "Alice", msg.AuthorName)
	assert.NotEmpty(t, msg.ID)

	for _, sess := range []*Session{alice, bob} {
		got := eventsOfType(drain(sess), EventNewMessage)
		require.Len(t, got, 1, "each member, sender included, gets the message")
		assert.Equal(t, msg, got[0].Data)
	}
}

func TestSendToServerChannelValidation(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")

	_, err := f.svc.SendToServerChannel(context.Background(), alice, "general", "   ")
	assert.ErrorIs(t, err, ErrValidation)

	long := make([]rune, 2001)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.svc.SendToServerChannel(context.Background(), alice, "general", string(long))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SendToServerChannel(context.Background(), alice, "lounge", "hi")
	assert.ErrorIs(t, err, ErrValidation, "voice channels take no text")

	_, err = f.svc.SendToServerChannel(context.Background(), alice, "nope", "hi")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestSendToServerChannelRequiresMembership(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	mallory := f.attach(t, "mallory")

	_, err := f.svc.SendToServerChannel(context.Background(), mallory, "general", "let me in")
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, f.messages.messages, "nothing persisted on denial")
}

func TestSendDirectMessageDeliversToBothSides(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	alicePhone := f.attach(t, "alice")
	bob := f.attach(t, "bob")
	for _, s := range []*Session{alice, alicePhone, bob} {
		drain(s)
	}

	msg, err := f.svc.SendDirectMessage(context.Background(), alice, "bob", "hi bob")
	require.NoError(t, err)
	assert.Equal(t, message.ChannelKindDirect, msg.ChannelKind)

	for _, sess := range []*Session{alice, alicePhone, bob} {
		got := eventsOfType(drain(sess), EventNewMessage)
		require.Len(t, got, 1, "both identities' sessions receive the DM")
	}

	ch, err := f.messages.DirectChannelByID(context.Background(), msg.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, ch.LastMessageID, "channel touched with last message")
}

func TestSendDirectMessageReusesChannel(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	bob := f.attach(t, "bob")

	m1, err := f.svc.SendDirectMessage(context.Background(), alice, "bob", "one")
	require.NoError(t, err)
	m2, err := f.svc.SendDirectMessage(context.Background(), bob, "alice", "two")
	require.NoError(t, err)

	assert.Equal(t, m1.ChannelID, m2.ChannelID, "both directions share one channel")
	assert.Equal(t, 1, f.messages.creations)
}

func TestSendDirectMessageConcurrentFirstContact(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	bob := f.attach(t, "bob")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.svc.SendDirectMessage(context.Background(), alice, "bob", "ping")
			} else {
				_, _ = f.svc.SendDirectMessage(context.Background(), bob, "alice", "pong")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.messages.creations, "all racers converge on one channel")
}

func TestSendDirectMessageAccess(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	mallory := f.attach(t, "mallory")

	_, err := f.svc.SendDirectMessage(context.Background(), mallory, "alice", "hey")
	assert.ErrorIs(t, err, ErrAccessDenied)

	alice := f.attach(t, "alice")
	_, err = f.svc.SendDirectMessage(context.Background(), alice, "alice", "me")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendDirectMessageRevokedFriendship(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")

	_, err := f.svc.SendDirectMessage(context.Background(), alice, "bob", "still friends")
	require.NoError(t, err)

	// Revoke the friendship after attach; the stale snapshot must not
	// keep the DM path open.
	f.identities.mu.Lock()
	snap := f.identities.snapshots["alice"]
	snap.FriendIDs = nil
	f.identities.snapshots["alice"] = snap
	f.identities.mu.Unlock()

	_, err = f.svc.SendDirectMessage(context.Background(), alice, "bob", "hello?")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestTypingTargets(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	bob := f.attach(t, "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, f.svc.StartTyping(context.Background(), alice, "server:srv1"))
	got := eventsOfType(drain(bob), EventTyping)
	require.Len(t, got, 1)
	assert.Equal(t, TypingPayload{Room: "server:srv1", IdentityID: "alice"}, got[0].Data)
	assert.Empty(t, eventsOfType(drain(alice), EventTyping), "typist does not hear their own indicator")

	require.NoError(t, f.svc.StopTyping(context.Background(), alice, "server:srv1"))
	require.Len(t, eventsOfType(drain(bob), EventStoppedTyping), 1)

	require.NoError(t, f.svc.StartTyping(context.Background(), alice, "user:bob"))
	require.Len(t, eventsOfType(drain(bob), EventTyping), 1)

	err := f.svc.StartTyping(context.Background(), alice, "user:stranger")
	assert.ErrorIs(t, err, ErrAccessDenied)
	err = f.svc.StartTyping(context.Background(), alice, "voice:lounge")
	assert.ErrorIs(t, err, ErrValidation)
	err = f.svc.StartTyping(context.Background(), alice, "server:other")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestVoiceJoinAckAndAnnounce(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	bob := f.attach(t, "bob")

	require.NoError(t, f.svc.JoinVoice(context.Background(), alice, "lounge"))
	drain(bob)
	require.NoError(t, f.svc.JoinVoice(context.Background(), bob, "lounge"))

	aliceEvents := drain(alice)
	joins := eventsOfType(aliceEvents, EventJoinedVoice)
	require.Len(t, joins, 1, "existing occupant hears the join")
	assert.Equal(t, VoicePayload{ChannelID: "lounge", IdentityID: "bob"}, joins[0].Data)

	acks := eventsOfType(drain(bob), EventJoinedVoiceAck)
	require.Len(t, acks, 1)
	ack := acks[0].Data.(VoiceAckPayload)
	assert.Equal(t, "lounge", ack.ChannelID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, ack.Occupants)

	require.NoError(t, f.svc.LeaveVoice(context.Background(), bob, "lounge"))
	leaves := eventsOfType(drain(alice), EventLeftVoice)
	require.Len(t, leaves, 1)
	assert.Equal(t, VoicePayload{ChannelID: "lounge", IdentityID: "bob"}, leaves[0].Data)
}

func TestVoiceJoinChecks(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	mallory := f.attach(t, "mallory")

	assert.ErrorIs(t, f.svc.JoinVoice(context.Background(), alice, "general"), ErrValidation)
	assert.ErrorIs(t, f.svc.JoinVoice(context.Background(), alice, "nope"), ErrAccessDenied)
	assert.ErrorIs(t, f.svc.JoinVoice(context.Background(), mallory, "lounge"), ErrAccessDenied)
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	bob := f.attach(t, "bob")
	drain(bob)

	require.NoError(t, f.svc.UpdateStatus(context.Background(), alice, identity.StatusBusy))
	got := eventsOfType(drain(bob), EventStatusChanged)
	require.Len(t, got, 1)
	assert.Equal(t, StatusPayload{IdentityID: "alice", Status: identity.StatusBusy}, got[0].Data)
	assert.Equal(t, identity.StatusBusy, f.identities.statuses["alice"])

	assert.ErrorIs(t, f.svc.UpdateStatus(context.Background(), alice, "zzz"), ErrValidation)
}

func TestHistoryAccess(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendToServerChannel(context.Background(), alice, "general", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	items, err := f.svc.History(context.Background(), "alice", "general", 1, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "m0", items[0].Content)
	assert.Equal(t, "m1", items[1].Content)

	items, err = f.svc.History(context.Background(), "alice", "general", 2, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "m2", items[0].Content)

	_, err = f.svc.History(context.Background(), "mallory", "general", 1, 10)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.History(context.Background(), "alice", "missing", 1, 10)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestHistoryDirectChannel(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")

	msg, err := f.svc.SendDirectMessage(context.Background(), alice, "bob", "hello")
	require.NoError(t, err)

	items, err := f.svc.History(context.Background(), "bob", msg.ChannelID, 1, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = f.svc.History(context.Background(), "mallory", msg.ChannelID, 1, 10)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestDetachCleansUp(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice := f.attach(t, "alice")
	bob := f.attach(t, "bob")

	require.NoError(t, f.svc.JoinVoice(context.Background(), alice, "lounge"))
	require.NoError(t, f.svc.JoinVoice(context.Background(), bob, "lounge"))
	require.NoError(t, f.svc.StartTyping(context.Background(), alice, "server:srv1"))
	drain(bob)

	f.svc.Detach(context.Background(), alice)

	events := drain(bob)
	leaves := eventsOfType(events, EventLeftVoice)
	require.Len(t, leaves, 1, "occupants hear the departure")
	assert.Equal(t, VoicePayload{ChannelID: "lounge", IdentityID: "alice"}, leaves[0].Data)
	require.Len(t, eventsOfType(events, EventStoppedTyping), 1, "typing clears on disconnect")
	statuses := eventsOfType(events, EventStatusChanged)
	require.Len(t, statuses, 1)
	assert.Equal(t, StatusPayload{IdentityID: "alice", Status: identity.StatusOffline}, statuses[0].Data)

	assert.Equal(t, 0, f.svc.Presence().Connections("alice"))
	assert.Empty(t, f.svc.Registry().Rooms(alice))

	select {
	case <-alice.Done():
	default:
		t.Fatal("session should be closed")
	}
}

func TestDetachConcurrentConnectionsClearTyping(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice1 := f.attach(t, "alice")
	alice2 := f.attach(t, "alice")
	bob := f.attach(t, "bob")

	require.NoError(t, f.svc.StartTyping(context.Background(), alice1, "server:srv1"))
	drain(bob)

	var wg sync.WaitGroup
	for _, sess := range []*Session{alice1, alice2} {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			f.svc.Detach(context.Background(), sess)
		}(sess)
	}
	wg.Wait()

	events := drain(bob)
	require.Len(t, eventsOfType(events, EventStoppedTyping), 1,
		"exactly one detach is the last and clears typing")
	require.Len(t, eventsOfType(events, EventStatusChanged), 1, "single offline transition")
	assert.Equal(t, 0, f.svc.Presence().Connections("alice"))
}

func TestDetachSecondConnectionKeepsTyping(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	alice1 := f.attach(t, "alice")
	alice2 := f.attach(t, "alice")
	bob := f.attach(t, "bob")

	require.NoError(t, f.svc.StartTyping(context.Background(), alice1, "server:srv1"))
	drain(bob)

	f.svc.Detach(context.Background(), alice2)

	events := drain(bob)
	assert.Empty(t, eventsOfType(events, EventStoppedTyping), "typing survives while a connection remains")
	assert.Empty(t, eventsOfType(events, EventStatusChanged), "still online")
	assert.Equal(t, 1, f.svc.Presence().Connections("alice"))
}
