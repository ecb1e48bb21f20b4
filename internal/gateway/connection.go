package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/concordchat/concord/internal/boot"
	"github.com/concordchat/concord/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// connection couples one websocket to one relay session: a read pump
// dispatching inbound events and a write pump draining the session's
// outbound queue.
type connection struct {
	ws       *websocket.Conn
	sess     *relay.Session
	relay    *relay.Service
	limiter  *rate.Limiter
	maxFrame int64
	logger   *slog.Logger
}

func newConnection(log *slog.Logger, ws *websocket.Conn, sess *relay.Session, relayService *relay.Service, rc *boot.RuntimeConfig) *connection {
	return &connection{
		ws:       ws,
		sess:     sess,
		relay:    relayService,
		limiter:  rate.NewLimiter(rate.Limit(rc.InboundRate), rc.InboundBurst),
		maxFrame: rc.MaxFrameBytes,
		logger: log.With(
			slog.String("identity", sess.Identity.ID),
			slog.String("session", sess.ID),
		),
	}
}

// run starts the write pump and blocks in the read pump. When either
// side fails the connection tears down through the same detach path.
func (c *connection) run() {
	go c.writePump()
	c.readPump()
}

func (c *connection) readPump() {
	defer func() {
		c.relay.Detach(context.Background(), c.sess)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.maxFrame)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", slog.Any("error", err))
			}
			return
		}
		if !c.limiter.Allow() {
			c.sendError(relay.KindValidation, "too many events, slow down")
			continue
		}
		c.dispatch(payload)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case event := <-c.sess.Events():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.sess.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *connection) sendError(kind, msg string) {
	c.sess.Send(relay.Event{
		Type: relay.EventError,
		Data: relay.ErrorPayload{Kind: kind, Message: msg},
	})
}
