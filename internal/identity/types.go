// Package identity manages user accounts, friendships, and server membership.
package identity

import "time"

// Presence status values.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// ValidStatus reports whether s is a recognized presence status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Snapshot is the access-control view of a user captured at connection time:
// who they are, who their friends are, and which servers they belong to.
type Snapshot struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Status      string
	FriendIDs   []string
	ServerIDs   []string
}

// HasFriend reports whether otherID is in the snapshot's friend set.
func (s Snapshot) HasFriend(otherID string) bool {
	for _, id := range s.FriendIDs {
		if id == otherID {
			return true
		}
	}
	return false
}

// HasServer reports whether serverID is in the snapshot's server set.
func (s Snapshot) HasServer(serverID string) bool {
	for _, id := range s.ServerIDs {
		if id == serverID {
			return true
		}
	}
	return false
}

// Channel kinds.
const (
	ChannelKindText  = "text"
	ChannelKindVoice = "voice"
)

// ChannelInfo describes a server channel for access checks.
type ChannelInfo struct {
	ID       string
	ServerID string
	Name     string
	Kind     string
}

// User is a full user row.
type User struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
