package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/concordchat/concord/internal/identity"
	"github.com/concordchat/concord/internal/message"
)

// Options tune a relay Service.
type Options struct {
	MaxMessageLength int
	TypingTTL        time.Duration
	StoreTimeout     time.Duration
	SessionBuffer    int
}

// Service is the relay: it attaches sessions, routes messages, and
// keeps presence, typing, and voice membership consistent.
type Service struct {
	registry   *Registry
	presence   *Presence
	typing     *TypingEngine
	identities IdentityStore
	messages   MessageStore

	maxMessageLen int
	storeTimeout  time.Duration
	sessionBuffer int
	logger        *slog.Logger
}

func NewService(log *slog.Logger, identities IdentityStore, messages MessageStore, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 2000
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.SessionBuffer <= 0 {
		opts.SessionBuffer = 64
	}

	logger := log.With(slog.String("service", "relay"))
	registry := NewRegistry(logger)
	return &Service{
		registry:      registry,
		presence:      NewPresence(logger, registry, identities),
		typing:        NewTypingEngine(registry, opts.TypingTTL),
		identities:    identities,
		messages:      messages,
		maxMessageLen: opts.MaxMessageLength,
		storeTimeout:  opts.StoreTimeout,
		sessionBuffer: opts.SessionBuffer,
		logger:        logger,
	}
}

// Registry exposes the room registry, mainly for tests and diagnostics.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Presence exposes the presence tracker.
func (s *Service) Presence() *Presence {
	return s.presence
}

// Attach admits an authenticated identity: it loads a fresh snapshot,
// creates a session, joins the identity's own room and every server
// room, and records the connection for presence.
func (s *Service) Attach(ctx context.Context, identityID string) (*Session, error) {
	if s.identities == nil {
		return nil, fmt.Errorf("identity store not configured")
	}
	storeCtx, cancel := s.storeContext(ctx)
	snapshot, err := s.identities.Snapshot(storeCtx, identityID)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: unknown identity", ErrAuthentication)
		}
		return nil, fmt.Errorf("%w: load identity: %v", ErrUnavailable, err)
	}

	sess := NewSession(snapshot, s.sessionBuffer, func(ev Event) {
		s.logger.Warn("dropped event for slow session",
			slog.String("identity", snapshot.ID),
			slog.String("type", string(ev.Type)),
		)
	})

	s.registry.AddSession(sess)
	s.registry.Subscribe(sess, IdentityRoom(snapshot.ID))
	for _, serverID := range snapshot.ServerIDs {
		s.registry.Subscribe(sess, ServerRoom(serverID))
	}
	s.presence.Connect(ctx, snapshot)

	s.logger.Info("session attached",
		slog.String("identity", snapshot.ID),
		slog.String("session", sess.ID),
		slog.Int("servers", len(snapshot.ServerIDs)),
	)
	return sess, nil
}

// Detach tears a session down: typing indicators clear when this was
// the identity's last connection, room memberships drop, presence
// counts down, and the session closes. Cleanup runs the same way for
// graceful and abrupt disconnects.
func (s *Service) Detach(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}
	identityID := sess.Identity.ID
	for _, room := range s.registry.Rooms(sess) {
		channelID, ok := room.IsVoice()
		if !ok {
			continue
		}
		s.registry.Unsubscribe(sess, room)
		s.registry.Publish(room, Event{
			Type: EventLeftVoice,
			Data: VoicePayload{ChannelID: channelID, IdentityID: identityID},
		}, sess)
	}
	s.registry.RemoveSession(sess)
	if s.presence.Disconnect(ctx, identityID) {
		s.typing.ForceIdle(identityID)
	}
	sess.Close()

	s.logger.Info("session detached",
		slog.String("identity", identityID),
		slog.String("session", sess.ID),
	)
}

// SendToServerChannel persists a message to a server text channel and
// fans it out to the server's room, sender included.
func (s *Service) SendToServerChannel(ctx context.Context, sess *Session, channelID, content string) (message.Message, error) {
	content, err := s.validateContent(content)
	if err != nil {
		return message.Message{}, err
	}

	storeCtx, cancel := s.storeContext(ctx)
	info, err := s.identities.ChannelInfo(storeCtx, channelID)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrChannelNotFound) {
			return message.Message{}, fmt.Errorf("%w: channel not found", ErrAccessDenied)
		}
		return message.Message{}, fmt.Errorf("%w: channel lookup: %v", ErrUnavailable, err)
	}
	if info.Kind != identity.ChannelKindText {
		return message.Message{}, fmt.Errorf("%w: not a text channel", ErrValidation)
	}

	storeCtx, cancel = s.storeContext(ctx)
	member, err := s.identities.IsServerMember(storeCtx, sess.Identity.ID, info.ServerID)
	cancel()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: membership check: %v", ErrUnavailable, err)
	}
	if !member {
		return message.Message{}, fmt.Errorf("%w: not a member of this server", ErrAccessDenied)
	}

	msg := s.authored(sess, message.Message{
		ChannelID:   info.ID,
		ChannelKind: message.ChannelKindServer,
		ServerID:    info.ServerID,
		Content:     content,
	})
	storeCtx, cancel = s.storeContext(ctx)
	msg, err = s.messages.Create(storeCtx, msg)
	cancel()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: persist message: %v", ErrUnavailable, err)
	}

	s.typing.Stop(ServerRoom(info.ServerID), sess.Identity.ID, nil)
	s.registry.Publish(ServerRoom(info.ServerID), NewMessageEvent(msg), nil)
	return msg, nil
}

// SendDirectMessage persists a DM to the pair's channel, creating the
// channel on first contact, and delivers it to both identities' rooms.
func (s *Service) SendDirectMessage(ctx context.Context, sess *Session, recipientID, content string) (message.Message, error) {
	content, err := s.validateContent(content)
	if err != nil {
		return message.Message{}, err
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" || recipientID == sess.Identity.ID {
		return message.Message{}, fmt.Errorf("%w: invalid recipient", ErrValidation)
	}

	// Friendship is re-checked against the store, not the attach-time
	// snapshot: a revoked friend loses DM delivery immediately.
	storeCtx, cancel := s.storeContext(ctx)
	friend, err := s.identities.IsFriend(storeCtx, sess.Identity.ID, recipientID)
	cancel()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: friendship check: %v", ErrUnavailable, err)
	}
	if !friend {
		return message.Message{}, fmt.Errorf("%w: recipient is not a friend", ErrAccessDenied)
	}

	storeCtx, cancel = s.storeContext(ctx)
	channel, err := s.messages.FindOrCreateDirectChannel(storeCtx, sess.Identity.ID, recipientID)
	cancel()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: direct channel: %v", ErrUnavailable, err)
	}

	msg := s.authored(sess, message.Message{
		ChannelID:   channel.ID,
		ChannelKind: message.ChannelKindDirect,
		Content:     content,
	})
	storeCtx, cancel = s.storeContext(ctx)
	msg, err = s.messages.Create(storeCtx, msg)
	cancel()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: persist message: %v", ErrUnavailable, err)
	}

	storeCtx, cancel = s.storeContext(ctx)
	if err := s.messages.TouchDirectChannel(storeCtx, channel.ID, msg.ID); err != nil {
		s.logger.Warn("touch direct channel failed",
			slog.String("channel", channel.ID),
			slog.Any("error", err),
		)
	}
	cancel()

	s.typing.Stop(IdentityRoom(recipientID), sess.Identity.ID, nil)
	event := NewMessageEvent(msg)
	s.registry.Publish(IdentityRoom(recipientID), event, nil)
	s.registry.Publish(IdentityRoom(sess.Identity.ID), event, nil)
	return msg, nil
}

// StartTyping marks the session's identity as typing toward a server or
// a friend. The indicator expires on its own if never refreshed.
func (s *Service) StartTyping(ctx context.Context, sess *Session, roomName string) error {
	room, err := s.typingRoom(sess, roomName)
	if err != nil {
		return err
	}
	s.typing.Start(room, sess.Identity.ID, sess)
	return nil
}

// StopTyping clears the session's typing indicator in a room.
func (s *Service) StopTyping(ctx context.Context, sess *Session, roomName string) error {
	room, err := s.typingRoom(sess, roomName)
	if err != nil {
		return err
	}
	s.typing.Stop(room, sess.Identity.ID, sess)
	return nil
}

// typingRoom validates a typing target against the session's access:
// server rooms require membership, identity rooms require friendship.
// Voice rooms carry no typing.
func (s *Service) typingRoom(sess *Session, roomName string) (Room, error) {
	room := Room(strings.TrimSpace(roomName))
	if serverID, ok := room.IsServer(); ok {
		if !sess.Identity.HasServer(serverID) {
			return "", fmt.Errorf("%w: not a member of this server", ErrAccessDenied)
		}
		return room, nil
	}
	if friendID, ok := room.IsIdentity(); ok {
		if friendID == sess.Identity.ID {
			return "", fmt.Errorf("%w: cannot type at yourself", ErrValidation)
		}
		if !sess.Identity.HasFriend(friendID) {
			return "", fmt.Errorf("%w: recipient is not a friend", ErrAccessDenied)
		}
		return room, nil
	}
	return "", fmt.Errorf("%w: invalid typing target", ErrValidation)
}

// JoinVoice adds the session to a voice channel room, announces the
// join to current occupants, and acks the joiner with the occupant
// list.
func (s *Service) JoinVoice(ctx context.Context, sess *Session, channelID string) error {
	storeCtx, cancel := s.storeContext(ctx)
	info, err := s.identities.ChannelInfo(storeCtx, channelID)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrChannelNotFound) {
			return fmt.Errorf("%w: channel not found", ErrAccessDenied)
		}
		return fmt.Errorf("%w: channel lookup: %v", ErrUnavailable, err)
	}
	if info.Kind != identity.ChannelKindVoice {
		return fmt.Errorf("%w: not a voice channel", ErrValidation)
	}

	storeCtx, cancel = s.storeContext(ctx)
	member, err := s.identities.IsServerMember(storeCtx, sess.Identity.ID, info.ServerID)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: membership check: %v", ErrUnavailable, err)
	}
	if !member {
		return fmt.Errorf("%w: not a member of this server", ErrAccessDenied)
	}

	room := VoiceRoom(info.ID)
	s.registry.Publish(room, Event{
		Type: EventJoinedVoice,
		Data: VoicePayload{ChannelID: info.ID, IdentityID: sess.Identity.ID},
	}, sess)
	s.registry.Subscribe(sess, room)

	sess.Send(Event{
		Type: EventJoinedVoiceAck,
		Data: VoiceAckPayload{ChannelID: info.ID, Occupants: s.registry.Members(room)},
	})
	return nil
}

// LeaveVoice removes the session from a voice channel room and
// announces the departure to remaining occupants.
func (s *Service) LeaveVoice(ctx context.Context, sess *Session, channelID string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("%w: channel id is required", ErrValidation)
	}
	room := VoiceRoom(channelID)
	s.registry.Unsubscribe(sess, room)
	s.registry.Publish(room, Event{
		Type: EventLeftVoice,
		Data: VoicePayload{ChannelID: channelID, IdentityID: sess.Identity.ID},
	}, sess)
	return nil
}

// UpdateStatus applies an explicit presence status chosen by the user.
func (s *Service) UpdateStatus(ctx context.Context, sess *Session, status string) error {
	if !identity.ValidStatus(status) {
		return fmt.Errorf("%w: unknown status", ErrValidation)
	}
	return s.presence.SetStatus(ctx, sess.Identity.ID, status)
}

// History returns a page of a channel's messages after checking that
// the identity may read the channel: server membership for server
// channels, pair membership for direct channels.
func (s *Service) History(ctx context.Context, identityID, channelID string, page, pageSize int) ([]message.Message, error) {
	storeCtx, cancel := s.storeContext(ctx)
	info, err := s.identities.ChannelInfo(storeCtx, channelID)
	cancel()
	switch {
	case err == nil:
		storeCtx, cancel = s.storeContext(ctx)
		member, err := s.identities.IsServerMember(storeCtx, identityID, info.ServerID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: membership check: %v", ErrUnavailable, err)
		}
		if !member {
			return nil, fmt.Errorf("%w: not a member of this server", ErrAccessDenied)
		}
	case errors.Is(err, identity.ErrChannelNotFound):
		storeCtx, cancel = s.storeContext(ctx)
		channel, err := s.messages.DirectChannelByID(storeCtx, channelID)
		cancel()
		if err != nil {
			if errors.Is(err, message.ErrChannelNotFound) {
				return nil, fmt.Errorf("%w: channel not found", ErrAccessDenied)
			}
			return nil, fmt.Errorf("%w: channel lookup: %v", ErrUnavailable, err)
		}
		if channel.UserA != identityID && channel.UserB != identityID {
			return nil, fmt.Errorf("%w: not a participant", ErrAccessDenied)
		}
	default:
		return nil, fmt.Errorf("%w: channel lookup: %v", ErrUnavailable, err)
	}

	storeCtx, cancel = s.storeContext(ctx)
	defer cancel()
	items, err := s.messages.ListPage(storeCtx, channelID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrUnavailable, err)
	}
	return items, nil
}

func (s *Service) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	if utf8.RuneCountInString(content) > s.maxMessageLen {
		return "", fmt.Errorf("%w: message exceeds %d characters", ErrValidation, s.maxMessageLen)
	}
	return content, nil
}

func (s *Service) authored(sess *Session, msg message.Message) message.Message {
	msg.AuthorID = sess.Identity.ID
	msg.AuthorName = sess.Identity.DisplayName
	if msg.AuthorName == "" {
		msg.AuthorName = sess.Identity.Username
	}
	msg.AuthorAvatar = sess.Identity.AvatarURL
	return msg
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}
