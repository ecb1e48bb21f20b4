package relay

import "github.com/concordchat/concord/internal/message"

// EventType names an event flowing to clients.
type EventType string

// Outbound event types.
const (
	EventNewMessage     EventType = "newMessage"
	EventStatusChanged  EventType = "identityStatusChanged"
	EventTyping         EventType = "userTyping"
	EventStoppedTyping  EventType = "userStoppedTyping"
	EventJoinedVoice    EventType = "userJoinedVoice"
	EventLeftVoice      EventType = "userLeftVoice"
	EventJoinedVoiceAck EventType = "joinedVoice"
	EventError          EventType = "relayError"
)

// Event is a single unit delivered to a session's outbound queue.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// NewMessageEvent wraps a stored message for delivery.
func NewMessageEvent(msg message.Message) Event {
	return Event{Type: EventNewMessage, Data: msg}
}

// StatusPayload announces an identity's presence status change.
type StatusPayload struct {
	IdentityID string `json:"identityId"`
	Status     string `json:"status"`
}

// TypingPayload announces typing activity in a room.
type TypingPayload struct {
	Room       string `json:"room"`
	IdentityID string `json:"identityId"`
}

// VoicePayload announces voice channel membership changes.
type VoicePayload struct {
	ChannelID  string `json:"channelId"`
	IdentityID string `json:"identityId"`
}

// VoiceAckPayload confirms a voice join to the joiner, listing current
// occupants.
type VoiceAckPayload struct {
	ChannelID string   `json:"channelId"`
	Occupants []string `json:"occupants"`
}

// ErrorPayload reports a failed inbound operation back to its sender.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
