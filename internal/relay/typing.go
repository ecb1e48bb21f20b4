package relay

import (
	"sync"
	"time"
)

type typingKey struct {
	room       Room
	identityID string
}

type typingEntry struct {
	gen   uint64
	timer *time.Timer
}

// TypingEngine tracks who is typing in which room. An indicator not
// refreshed within the TTL expires on its own; refreshes while already
// typing publish nothing.
type TypingEngine struct {
	mu       sync.Mutex
	entries  map[typingKey]*typingEntry
	ttl      time.Duration
	registry *Registry
}

func NewTypingEngine(registry *Registry, ttl time.Duration) *TypingEngine {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &TypingEngine{
		entries:  make(map[typingKey]*typingEntry),
		ttl:      ttl,
		registry: registry,
	}
}

// Start marks an identity as typing in a room. The first call publishes
// userTyping; repeated calls only push the expiry out.
func (t *TypingEngine) Start(room Room, identityID string, exclude *Session) {
	key := typingKey{room: room, identityID: identityID}

	t.mu.Lock()
	entry, refreshing := t.entries[key]
	if refreshing {
		entry.timer.Stop()
	} else {
		entry = &typingEntry{}
		t.entries[key] = entry
	}
	entry.gen++
	gen := entry.gen
	entry.timer = time.AfterFunc(t.ttl, func() {
		t.expire(key, gen)
	})
	t.mu.Unlock()

	if !refreshing {
		t.registry.Publish(room, Event{
			Type: EventTyping,
			Data: TypingPayload{Room: string(room), IdentityID: identityID},
		}, exclude)
	}
}

// Stop clears a typing indicator and publishes userStoppedTyping when
// one was active.
func (t *TypingEngine) Stop(room Room, identityID string, exclude *Session) {
	key := typingKey{room: room, identityID: identityID}

	t.mu.Lock()
	entry, active := t.entries[key]
	if active {
		entry.timer.Stop()
		delete(t.entries, key)
	}
	t.mu.Unlock()

	if active {
		t.registry.Publish(room, Event{
			Type: EventStoppedTyping,
			Data: TypingPayload{Room: string(room), IdentityID: identityID},
		}, exclude)
	}
}

// ForceIdle clears every typing indicator an identity holds, in any
// room. Used when the identity's last connection drops.
func (t *TypingEngine) ForceIdle(identityID string) {
	t.mu.Lock()
	var cleared []typingKey
	for key, entry := range t.entries {
		if key.identityID == identityID {
			entry.timer.Stop()
			delete(t.entries, key)
			cleared = append(cleared, key)
		}
	}
	t.mu.Unlock()

	for _, key := range cleared {
		t.registry.Publish(key.room, Event{
			Type: EventStoppedTyping,
			Data: TypingPayload{Room: string(key.room), IdentityID: key.identityID},
		}, nil)
	}
}

// Active reports whether an identity is currently typing in a room.
func (t *TypingEngine) Active(room Room, identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{room: room, identityID: identityID}]
	return ok
}

// expire fires from a timer. A stale generation means the indicator was
// refreshed or stopped after this timer was armed; it publishes nothing.
func (t *TypingEngine) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.registry.Publish(key.room, Event{
		Type: EventStoppedTyping,
		Data: TypingPayload{Room: string(key.room), IdentityID: key.identityID},
	}, nil)
}
