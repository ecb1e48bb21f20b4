package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/concordchat/concord/internal/identity"
)

// StatusStore persists presence status changes.
type StatusStore interface {
	SetStatus(ctx context.Context, identityID, status string) error
}

// Presence counts live connections per identity and derives status
// transitions: first connection brings an identity online, last
// disconnection takes it offline. Manually chosen away/busy statuses
// survive reconnects.
type Presence struct {
	mu     sync.Mutex
	counts map[string]int
	status map[string]string

	registry *Registry
	store    StatusStore
	logger   *slog.Logger
}

func NewPresence(log *slog.Logger, registry *Registry, store StatusStore) *Presence {
	if log == nil {
		log = slog.Default()
	}
	return &Presence{
		counts:   make(map[string]int),
		status:   make(map[string]string),
		registry: registry,
		store:    store,
		logger:   log.With(slog.String("component", "presence")),
	}
}

// Connect records a new connection for an identity. On the 0 to 1
// transition the identity goes online, unless it carries a manually set
// away or busy status, which is kept.
func (p *Presence) Connect(ctx context.Context, snapshot identity.Snapshot) {
	p.mu.Lock()
	p.counts[snapshot.ID]++
	first := p.counts[snapshot.ID] == 1
	next := ""
	if first {
		switch snapshot.Status {
		case identity.StatusAway, identity.StatusBusy:
			next = snapshot.Status
		default:
			next = identity.StatusOnline
		}
		p.status[snapshot.ID] = next
	}
	p.mu.Unlock()

	if first {
		p.announce(ctx, snapshot.ID, next)
	}
}

// Disconnect records a closed connection and reports whether it was the
// identity's last one. On the 1 to 0 transition the identity goes
// offline. The transition is decided under the counter mutex, so
// concurrent disconnects of one identity agree on exactly one last.
func (p *Presence) Disconnect(ctx context.Context, identityID string) bool {
	p.mu.Lock()
	if p.counts[identityID] > 0 {
		p.counts[identityID]--
	}
	last := p.counts[identityID] == 0
	if last {
		delete(p.counts, identityID)
		delete(p.status, identityID)
	}
	p.mu.Unlock()

	if last {
		p.announce(ctx, identityID, identity.StatusOffline)
	}
	return last
}

// SetStatus applies an explicit status change requested by the identity.
func (p *Presence) SetStatus(ctx context.Context, identityID, status string) error {
	if !identity.ValidStatus(status) {
		return ErrValidation
	}
	p.mu.Lock()
	p.status[identityID] = status
	p.mu.Unlock()

	p.announce(ctx, identityID, status)
	return nil
}

// Status returns the tracked live status for an identity, or offline
// when it has no connections.
func (p *Presence) Status(identityID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.status[identityID]; ok {
		return s
	}
	return identity.StatusOffline
}

// Connections returns the live connection count for an identity.
func (p *Presence) Connections(identityID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[identityID]
}

func (p *Presence) announce(ctx context.Context, identityID, status string) {
	if p.store != nil {
		if err := p.store.SetStatus(ctx, identityID, status); err != nil {
			p.logger.Warn("persist status failed",
				slog.String("identity", identityID),
				slog.String("status", status),
				slog.Any("error", err),
			)
		}
	}
	if p.registry != nil {
		p.registry.Broadcast(Event{
			Type: EventStatusChanged,
			Data: StatusPayload{IdentityID: identityID, Status: status},
		}, nil)
	}
}
