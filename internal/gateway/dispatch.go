package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/concordchat/concord/internal/relay"
)

// Inbound event types clients may send.
const (
	opSendServerMessage = "sendServerMessage"
	opSendDirectMessage = "sendDirectMessage"
	opStartTyping       = "startTyping"
	opStopTyping        = "stopTyping"
	opJoinVoice         = "joinVoice"
	opLeaveVoice        = "leaveVoice"
	opUpdateStatus      = "updateStatus"
)

type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type serverMessageRequest struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

type directMessageRequest struct {
	FriendID string `json:"friendId"`
	Content  string `json:"content"`
}

type typingRequest struct {
	Room string `json:"room"`
}

type voiceRequest struct {
	ChannelID string `json:"channelId"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// dispatch parses one inbound frame and applies it through the relay.
// Failures go back to this session only, as relayError events; they
// never tear the connection down.
func (c *connection) dispatch(payload []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.sendError(relay.KindValidation, "malformed event")
		return
	}

	ctx := context.Background()
	var err error
	switch env.Type {
	case opSendServerMessage:
		var req serverMessageRequest
		if err = json.Unmarshal(env.Data, &req); err == nil {
			_, err = c.relay.SendToServerChannel(ctx, c.sess, req.ChannelID, req.Content)
		}
	case opSendDirectMessage:
		var req directMessageRequest
		if err = json.Unmarshal(env.Data, &req); err == nil {
			_, err = c.relay.SendDirectMessage(ctx, c.sess, req.FriendID, req.Content)
		}
	case opStartTyping:
		var req typingRequest
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = c.relay.StartTyping(ctx, c.sess, req.Room)
		}
	case opStopTyping:
		var req typingRequest
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = c.relay.StopTyping(ctx, c.sess, req.Room)
		}
	case opJoinVoice:
		var req voiceRequest
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = c.relay.JoinVoice(ctx, c.sess, req.ChannelID)
		}
	case opLeaveVoice:
		var req voiceRequest
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = c.relay.LeaveVoice(ctx, c.sess, req.ChannelID)
		}
	case opUpdateStatus:
		var req statusRequest
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = c.relay.UpdateStatus(ctx, c.sess, req.Status)
		}
	default:
		c.sendError(relay.KindValidation, "unknown event type: "+env.Type)
		return
	}

	if err != nil {
		c.logger.Debug("inbound event rejected",
			slog.String("type", env.Type),
			slog.Any("error", err),
		)
		c.sendError(relay.KindOf(err), publicMessage(err))
	}
}

// publicMessage strips internal detail from unavailability errors before
// they reach clients.
func publicMessage(err error) string {
	if relay.KindOf(err) == relay.KindUnavailable {
		return "relay unavailable, try again"
	}
	return err.Error()
}
