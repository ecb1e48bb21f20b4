package relay

import (
	"context"

	"github.com/concordchat/concord/internal/identity"
	"github.com/concordchat/concord/internal/message"
)

// IdentityStore is the identity state the relay reads and writes.
type IdentityStore interface {
	StatusStore
	Snapshot(ctx context.Context, identityID string) (identity.Snapshot, error)
	IsFriend(ctx context.Context, identityID, otherID string) (bool, error)
	IsServerMember(ctx context.Context, identityID, serverID string) (bool, error)
	ChannelInfo(ctx context.Context, channelID string) (identity.ChannelInfo, error)
}

// MessageStore persists messages and direct channels for the relay.
type MessageStore interface {
	Create(ctx context.Context, msg message.Message) (message.Message, error)
	ListPage(ctx context.Context, channelID string, page, pageSize int) ([]message.Message, error)
	FindOrCreateDirectChannel(ctx context.Context, userA, userB string) (message.DirectChannel, error)
	TouchDirectChannel(ctx context.Context, channelID, messageID string) error
	DirectChannelByID(ctx context.Context, channelID string) (message.DirectChannel, error)
}
