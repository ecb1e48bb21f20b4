// Package message persists chat messages and direct-message channels.
package message

import (
	"strings"
	"time"
)

// Channel kinds a message can belong to.
const (
	ChannelKindServer = "server"
	ChannelKindDirect = "direct"
)

// History paging bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Message is a persisted chat message enriched with author display fields.
type Message struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channelId"`
	ChannelKind  string    `json:"channelKind"`
	ServerID     string    `json:"serverId,omitempty"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DirectChannel is a one-to-one conversation between two users.
type DirectChannel struct {
	ID            string    `json:"id"`
	UserA         string    `json:"userA"`
	UserB         string    `json:"userB"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	LastActivity  time.Time `json:"lastActivity"`
}

// PairKey builds the canonical identifier for a user pair: the two IDs
// sorted lexicographically and joined with ":". Both orderings of the same
// pair yield the same key.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// ClampPage normalizes 1-based page and pageSize for history queries.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
