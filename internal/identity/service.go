package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/concordchat/concord/internal/db"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrInvalidStatus      = errors.New("invalid status")
)

// Service reads and writes identity state backed by PostgreSQL.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "identity")),
	}
}

// Snapshot loads a user together with their friend and server ID sets.
// The result is the access-control view a connection holds for its lifetime.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	if s.pool == nil {
		return Snapshot{}, fmt.Errorf("identity pool not configured")
	}
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return Snapshot{}, err
	}

	var (
		id          pgtype.UUID
		username    string
		displayName pgtype.Text
		avatarURL   pgtype.Text
		status      string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, avatar_url, status FROM users WHERE id = $1`,
		pgID,
	).Scan(&id, &username, &displayName, &avatarURL, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrUserNotFound
		}
		return Snapshot{}, err
	}

	friends, err := s.collectIDs(ctx,
		`SELECT friend_id FROM friendships WHERE user_id = $1`, pgID)
	if err != nil {
		return Snapshot{}, err
	}
	servers, err := s.collectIDs(ctx,
		`SELECT server_id FROM server_members WHERE user_id = $1`, pgID)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		ID:          db.UUIDString(id),
		Username:    username,
		DisplayName: db.TextToString(displayName),
		AvatarURL:   db.TextToString(avatarURL),
		Status:      status,
		FriendIDs:   friends,
		ServerIDs:   servers,
	}, nil
}

// Login verifies username/password and returns the matching user.
func (s *Service) Login(ctx context.Context, username, password string) (User, error) {
	if s.pool == nil {
		return User{}, fmt.Errorf("identity pool not configured")
	}
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return User{}, ErrInvalidCredentials
	}

	var (
		id           pgtype.UUID
		passwordHash string
		displayName  pgtype.Text
		avatarURL    pgtype.Text
		status       string
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, password_hash, display_name, avatar_url, status, created_at, updated_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&id, &passwordHash, &displayName, &avatarURL, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	return User{
		ID:          db.UUIDString(id),
		Username:    username,
		DisplayName: db.TextToString(displayName),
		AvatarURL:   db.TextToString(avatarURL),
		Status:      status,
		CreatedAt:   db.TimeFromPg(createdAt),
		UpdatedAt:   db.TimeFromPg(updatedAt),
	}, nil
}

// IsFriend reports whether otherID is in userID's friend set.
func (s *Service) IsFriend(ctx context.Context, userID, otherID string) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("identity pool not configured")
	}
	userPg, err := db.ParseUUID(userID)
	if err != nil {
		return false, err
	}
	otherPg, err := db.ParseUUID(otherID)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)`,
		userPg, otherPg,
	).Scan(&exists)
	return exists, err
}

// IsServerMember reports whether userID belongs to serverID.
func (s *Service) IsServerMember(ctx context.Context, userID, serverID string) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("identity pool not configured")
	}
	userPg, err := db.ParseUUID(userID)
	if err != nil {
		return false, err
	}
	serverPg, err := db.ParseUUID(serverID)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = $1 AND user_id = $2)`,
		serverPg, userPg,
	).Scan(&exists)
	return exists, err
}

// ChannelInfo looks up a server channel by ID.
func (s *Service) ChannelInfo(ctx context.Context, channelID string) (ChannelInfo, error) {
	if s.pool == nil {
		return ChannelInfo{}, fmt.Errorf("identity pool not configured")
	}
	pgID, err := db.ParseUUID(channelID)
	if err != nil {
		return ChannelInfo{}, err
	}
	var (
		id       pgtype.UUID
		serverID pgtype.UUID
		name     string
		kind     string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, server_id, name, kind FROM channels WHERE id = $1`,
		pgID,
	).Scan(&id, &serverID, &name, &kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelInfo{}, ErrChannelNotFound
		}
		return ChannelInfo{}, err
	}
	return ChannelInfo{
		ID:       db.UUIDString(id),
		ServerID: db.UUIDString(serverID),
		Name:     name,
		Kind:     kind,
	}, nil
}

// SetStatus persists a user's presence status.
func (s *Service) SetStatus(ctx context.Context, userID, status string) error {
	if s.pool == nil {
		return fmt.Errorf("identity pool not configured")
	}
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`,
		pgID, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) collectIDs(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, db.UUIDString(id))
	}
	return ids, rows.Err()
}
