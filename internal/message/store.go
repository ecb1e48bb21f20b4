package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/concordchat/concord/internal/db"
)

var ErrChannelNotFound = errors.New("direct channel not found")

// Store persists messages and direct channels in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "message")),
	}
}

// Create inserts a message and fills in its generated ID and timestamp.
func (s *Store) Create(ctx context.Context, msg Message) (Message, error) {
	if s.pool == nil {
		return Message{}, fmt.Errorf("message pool not configured")
	}
	channelPg, err := db.ParseUUID(msg.ChannelID)
	if err != nil {
		return Message{}, err
	}
	authorPg, err := db.ParseUUID(msg.AuthorID)
	if err != nil {
		return Message{}, err
	}
	var serverPg pgtype.UUID
	if msg.ServerID != "" {
		serverPg, err = db.ParseUUID(msg.ServerID)
		if err != nil {
			return Message{}, err
		}
	}

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO messages (channel_id, channel_kind, server_id, author_id, content)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		channelPg, msg.ChannelKind, serverPg, authorPg, msg.Content,
	).Scan(&id, &createdAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	msg.ID = db.UUIDString(id)
	msg.CreatedAt = db.TimeFromPg(createdAt)
	return msg, nil
}

// ListPage returns a page of a channel's messages in ascending creation
// order. Page is 1-based; ties on created_at break on insert order.
func (s *Store) ListPage(ctx context.Context, channelID string, page, pageSize int) ([]Message, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("message pool not configured")
	}
	channelPg, err := db.ParseUUID(channelID)
	if err != nil {
		return nil, err
	}
	page, pageSize = ClampPage(page, pageSize)
	offset := (page - 1) * pageSize

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.channel_id, m.channel_kind, m.server_id, m.author_id,
		        u.username, COALESCE(u.display_name, u.username), COALESCE(u.avatar_url, ''),
		        m.content, m.created_at
		 FROM messages m
		 JOIN users u ON u.id = m.author_id
		 WHERE m.channel_id = $1
		 ORDER BY m.created_at, m.seq
		 LIMIT $2 OFFSET $3`,
		channelPg, pageSize, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var (
			id        pgtype.UUID
			chanID    pgtype.UUID
			kind      string
			serverID  pgtype.UUID
			authorID  pgtype.UUID
			username  string
			display   string
			avatar    string
			content   string
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &chanID, &kind, &serverID, &authorID,
			&username, &display, &avatar, &content, &createdAt); err != nil {
			return nil, err
		}
		name := display
		if name == "" {
			name = username
		}
		items = append(items, Message{
			ID:           db.UUIDString(id),
			ChannelID:    db.UUIDString(chanID),
			ChannelKind:  kind,
			ServerID:     db.UUIDString(serverID),
			AuthorID:     db.UUIDString(authorID),
			AuthorName:   name,
			AuthorAvatar: avatar,
			Content:      content,
			CreatedAt:    db.TimeFromPg(createdAt),
		})
	}
	return items, rows.Err()
}

// FindOrCreateDirectChannel returns the DM channel for a user pair,
// creating it when absent. Concurrent creators race on the unique pair
// key; the loser re-reads the winner's row so both callers converge on
// one channel.
func (s *Store) FindOrCreateDirectChannel(ctx context.Context, userA, userB string) (DirectChannel, error) {
	if s.pool == nil {
		return DirectChannel{}, fmt.Errorf("message pool not configured")
	}
	key := PairKey(userA, userB)

	ch, err := s.directChannelByKey(ctx, key)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ErrChannelNotFound) {
		return DirectChannel{}, err
	}

	aPg, err := db.ParseUUID(userA)
	if err != nil {
		return DirectChannel{}, err
	}
	bPg, err := db.ParseUUID(userB)
	if err != nil {
		return DirectChannel{}, err
	}

	var (
		id           pgtype.UUID
		lastActivity pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO direct_channels (pair_key, user_a, user_b)
		 VALUES ($1, $2, $3)
		 RETURNING id, last_activity`,
		key, aPg, bPg,
	).Scan(&id, &lastActivity)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return s.directChannelByKey(ctx, key)
		}
		return DirectChannel{}, fmt.Errorf("create direct channel: %w", err)
	}

	return DirectChannel{
		ID:           db.UUIDString(id),
		UserA:        userA,
		UserB:        userB,
		LastActivity: db.TimeFromPg(lastActivity),
	}, nil
}

// TouchDirectChannel records the latest message on a DM channel.
func (s *Store) TouchDirectChannel(ctx context.Context, channelID, messageID string) error {
	if s.pool == nil {
		return fmt.Errorf("message pool not configured")
	}
	channelPg, err := db.ParseUUID(channelID)
	if err != nil {
		return err
	}
	messagePg, err := db.ParseUUID(messageID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE direct_channels SET last_message_id = $2, last_activity = now() WHERE id = $1`,
		channelPg, messagePg,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// DirectChannelByID looks a DM channel up by its primary key.
func (s *Store) DirectChannelByID(ctx context.Context, channelID string) (DirectChannel, error) {
	if s.pool == nil {
		return DirectChannel{}, fmt.Errorf("message pool not configured")
	}
	channelPg, err := db.ParseUUID(channelID)
	if err != nil {
		return DirectChannel{}, err
	}
	var (
		id           pgtype.UUID
		userA        pgtype.UUID
		userB        pgtype.UUID
		lastMessage  pgtype.UUID
		lastActivity pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, user_a, user_b, last_message_id, last_activity
		 FROM direct_channels WHERE id = $1`,
		channelPg,
	).Scan(&id, &userA, &userB, &lastMessage, &lastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DirectChannel{}, ErrChannelNotFound
		}
		return DirectChannel{}, err
	}
	return DirectChannel{
		ID:            db.UUIDString(id),
		UserA:         db.UUIDString(userA),
		UserB:         db.UUIDString(userB),
		LastMessageID: db.UUIDString(lastMessage),
		LastActivity:  db.TimeFromPg(lastActivity),
	}, nil
}

func (s *Store) directChannelByKey(ctx context.Context, key string) (DirectChannel, error) {
	var (
		id           pgtype.UUID
		userA        pgtype.UUID
		userB        pgtype.UUID
		lastMessage  pgtype.UUID
		lastActivity pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_a, user_b, last_message_id, last_activity
		 FROM direct_channels WHERE pair_key = $1`,
		key,
	).Scan(&id, &userA, &userB, &lastMessage, &lastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DirectChannel{}, ErrChannelNotFound
		}
		return DirectChannel{}, err
	}
	return DirectChannel{
		ID:            db.UUIDString(id),
		UserA:         db.UUIDString(userA),
		UserB:         db.UUIDString(userB),
		LastMessageID: db.UUIDString(lastMessage),
		LastActivity:  db.TimeFromPg(lastActivity),
	}, nil
}
