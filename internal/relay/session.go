package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/concordchat/concord/internal/identity"
)

// Session is one live connection's view of the relay: an identity
// snapshot fixed at attach time and a buffered outbound event queue.
type Session struct {
	ID       string
	Identity identity.Snapshot

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   func(Event)
}

// NewSession creates a session with a buffered outbound queue.
// The dropped callback, when non-nil, observes events discarded because
// the queue was full; it must not block.
func NewSession(snapshot identity.Snapshot, buffer int, dropped func(Event)) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:       uuid.NewString(),
		Identity: snapshot,
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
		dropped:  dropped,
	}
}

// Events is the outbound queue the connection's writer drains.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the session is shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send enqueues an event without blocking. Events to a closed session
// or a full queue are dropped; a slow consumer never stalls a publisher.
func (s *Session) Send(event Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- event:
		return true
	default:
		if s.dropped != nil {
			s.dropped(event)
		}
		return false
	}
}

// Close marks the session dead. The events channel is never closed, so
// a publisher racing Close cannot panic; consumers stop via Done.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
