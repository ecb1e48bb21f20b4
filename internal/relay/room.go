// Package relay fans events out to connected sessions grouped into rooms.
package relay

import "strings"

// Room names a fan-out group. Names are prefixed by kind so the three
// namespaces cannot collide: "user:<id>", "server:<id>", "voice:<id>".
type Room string

// Room name prefixes.
const (
	identityPrefix = "user:"
	serverPrefix   = "server:"
	voicePrefix    = "voice:"
)

// IdentityRoom is the room carrying events about a single identity.
// Only that identity's own sessions are members.
func IdentityRoom(identityID string) Room {
	return Room(identityPrefix + identityID)
}

// ServerRoom is the room carrying events for one server's members.
func ServerRoom(serverID string) Room {
	return Room(serverPrefix + serverID)
}

// VoiceRoom is the room for occupants of one voice channel.
func VoiceRoom(channelID string) Room {
	return Room(voicePrefix + channelID)
}

// IsIdentity reports whether the room is an identity room, returning
// the identity ID when it is.
func (r Room) IsIdentity() (string, bool) {
	return cutPrefix(string(r), identityPrefix)
}

// IsServer reports whether the room is a server room, returning the
// server ID when it is.
func (r Room) IsServer() (string, bool) {
	return cutPrefix(string(r), serverPrefix)
}

// IsVoice reports whether the room is a voice room, returning the
// channel ID when it is.
func (r Room) IsVoice() (string, bool) {
	return cutPrefix(string(r), voicePrefix)
}

func cutPrefix(s, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
