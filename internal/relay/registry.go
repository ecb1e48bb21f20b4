package relay

import (
	"log/slog"
	"sync"
)

// Registry tracks which sessions are members of which rooms and fans
// events out to them. All operations are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[Room]map[*Session]struct{}
	sessions map[*Session]map[Room]struct{}
	logger   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		rooms:    make(map[Room]map[*Session]struct{}),
		sessions: make(map[*Session]map[Room]struct{}),
		logger:   log.With(slog.String("component", "registry")),
	}
}

// AddSession registers a session with no room memberships yet.
func (r *Registry) AddSession(sess *Session) {
	if sess == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess]; !ok {
		r.sessions[sess] = make(map[Room]struct{})
	}
}

// Subscribe adds a session to a room. Unknown sessions are ignored so a
// subscribe racing RemoveSession cannot resurrect membership.
func (r *Registry) Subscribe(sess *Session, room Room) {
	if sess == nil || room == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	membership, ok := r.sessions[sess]
	if !ok {
		return
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[room] = members
	}
	members[sess] = struct{}{}
	membership[room] = struct{}{}
}

// Unsubscribe removes a session from a room, deleting the room when it
// empties.
func (r *Registry) Unsubscribe(sess *Session, room Room) {
	if sess == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(sess, room)
}

func (r *Registry) unsubscribeLocked(sess *Session, room Room) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sess)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if membership, ok := r.sessions[sess]; ok {
		delete(membership, room)
	}
}

// RemoveSession drops a session from every room it joined and forgets
// it. Safe to call more than once.
func (r *Registry) RemoveSession(sess *Session) {
	if sess == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	membership, ok := r.sessions[sess]
	if !ok {
		return
	}
	for room := range membership {
		if members, ok := r.rooms[room]; ok {
			delete(members, sess)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.sessions, sess)
}

// Publish enqueues an event on every member of a room. The exclude
// session, when non-nil, is skipped. Delivery is non-blocking per
// member.
func (r *Registry) Publish(room Room, event Event, exclude *Session) int {
	r.mu.RLock()
	members := make([]*Session, 0, len(r.rooms[room]))
	for sess := range r.rooms[room] {
		if sess != exclude {
			members = append(members, sess)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sess := range members {
		if sess.Send(event) {
			delivered++
		}
	}
	return delivered
}

// Broadcast enqueues an event on every registered session.
func (r *Registry) Broadcast(event Event, exclude *Session) int {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for sess := range r.sessions {
		if sess != exclude {
			all = append(all, sess)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sess := range all {
		if sess.Send(event) {
			delivered++
		}
	}
	return delivered
}

// Members returns the identity IDs of a room's current members,
// deduplicated.
func (r *Registry) Members(room Room) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.rooms[room]))
	ids := make([]string, 0, len(r.rooms[room]))
	for sess := range r.rooms[room] {
		if _, ok := seen[sess.Identity.ID]; ok {
			continue
		}
		seen[sess.Identity.ID] = struct{}{}
		ids = append(ids, sess.Identity.ID)
	}
	return ids
}

// Rooms returns the rooms a session currently belongs to.
func (r *Registry) Rooms(sess *Session) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	membership := r.sessions[sess]
	rooms := make([]Room, 0, len(membership))
	for room := range membership {
		rooms = append(rooms, room)
	}
	return rooms
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
